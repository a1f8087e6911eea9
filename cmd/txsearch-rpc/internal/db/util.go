package db

import (
	"github.com/stellar/go/network"
	"github.com/stellar/go/xdr"
)

// Fixture helpers shared by the package tests. They build a minimal but
// well-formed ledger with a single payment transaction per ledger.

const (
	TestSourceAddress      = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	TestDestinationAddress = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	TestMemoText           = "test memo"
)

func LedgerCloseTime(ledgerSequence uint32) int64 {
	return int64(ledgerSequence)*25 + 100
}

func TxHash(acctSeq uint32) xdr.Hash {
	envelope := TxEnvelope(acctSeq)
	hash, err := network.HashTransactionInEnvelope(envelope, network.FutureNetworkPassphrase)
	if err != nil {
		panic(err)
	}

	return hash
}

func TxEnvelope(acctSeq uint32) xdr.TransactionEnvelope {
	memoText := TestMemoText
	envelope, err := xdr.NewTransactionEnvelope(xdr.EnvelopeTypeEnvelopeTypeTx, xdr.TransactionV1Envelope{
		Tx: xdr.Transaction{
			Fee:           1,
			SeqNum:        xdr.SequenceNumber(acctSeq),
			SourceAccount: xdr.MustMuxedAddress(TestSourceAddress),
			Memo: xdr.Memo{
				Type: xdr.MemoTypeMemoText,
				Text: &memoText,
			},
			Operations: []xdr.Operation{
				{
					Body: xdr.OperationBody{
						Type: xdr.OperationTypePayment,
						PaymentOp: &xdr.PaymentOp{
							Destination: xdr.MustMuxedAddress(TestDestinationAddress),
							Asset:       xdr.MustNewNativeAsset(),
							Amount:      100,
						},
					},
				},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return envelope
}

func TransactionResult(successful bool) xdr.TransactionResult {
	code := xdr.TransactionResultCodeTxBadSeq
	if successful {
		code = xdr.TransactionResultCodeTxSuccess
	}
	opResults := []xdr.OperationResult{}
	return xdr.TransactionResult{
		FeeCharged: 100,
		Result: xdr.TransactionResultResult{
			Code:    code,
			Results: &opResults,
		},
	}
}

// CreateTxMeta builds the close meta of a ledger containing one payment
// transaction. The account sequence doubles as the ledger sequence.
func CreateTxMeta(acctSeq uint32, successful bool) xdr.LedgerCloseMeta {
	envelope := TxEnvelope(acctSeq)

	txProcessing := []xdr.TransactionResultMeta{
		{
			TxApplyProcessing: xdr.TransactionMeta{
				V:          3,
				Operations: &[]xdr.OperationMeta{},
				V3:         &xdr.TransactionMetaV3{},
			},
			Result: xdr.TransactionResultPair{
				TransactionHash: TxHash(acctSeq),
				Result:          TransactionResult(successful),
			},
		},
	}

	components := []xdr.TxSetComponent{
		{
			Type: xdr.TxSetComponentTypeTxsetCompTxsMaybeDiscountedFee,
			TxsMaybeDiscountedFee: &xdr.TxSetComponentTxsMaybeDiscountedFee{
				BaseFee: nil,
				Txs: []xdr.TransactionEnvelope{
					envelope,
				},
			},
		},
	}
	return xdr.LedgerCloseMeta{
		V: 1,
		V1: &xdr.LedgerCloseMetaV1{
			LedgerHeader: xdr.LedgerHeaderHistoryEntry{
				Header: xdr.LedgerHeader{
					ScpValue: xdr.StellarValue{
						CloseTime: xdr.TimePoint(LedgerCloseTime(acctSeq)),
					},
					LedgerSeq: xdr.Uint32(acctSeq),
				},
			},
			TxProcessing: txProcessing,
			TxSet: xdr.GeneralizedTransactionSet{
				V: 1,
				V1TxSet: &xdr.TransactionSetV1{
					PreviousLedgerHash: xdr.Hash{1},
					Phases: []xdr.TransactionPhase{
						{
							V:            0,
							V0Components: &components,
						},
					},
				},
			},
		},
	}
}
