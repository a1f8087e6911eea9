package db

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/stellar/go/ingest"
	"github.com/stellar/go/xdr"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

// Participant roles recorded in the tx_accounts and tx_assets tables. A
// filter on the plain "account"/"asset" field matches either role.
const (
	roleSource = 0
	roleDest   = 1
)

// indexEntry is everything extracted from a single ledger transaction:
// the archive payloads plus the symbolic values the index is built from.
type indexEntry struct {
	id       txid.ID
	hash     []byte
	envelope []byte
	meta     []byte
	result   []byte

	typeCodes map[int32]struct{}
	accounts  map[int]map[string]struct{}
	assets    map[int]map[string]struct{}
	offers    map[int64]struct{}
	pools     map[string]struct{}
	memo      *string
}

func (e *indexEntry) addAccount(role int, address string) {
	if e.accounts[role] == nil {
		e.accounts[role] = make(map[string]struct{})
	}
	e.accounts[role][address] = struct{}{}
}

func (e *indexEntry) addAsset(role int, asset xdr.Asset) {
	name := asset.StringCanonical()
	if e.assets[role] == nil {
		e.assets[role] = make(map[string]struct{})
	}
	e.assets[role][name] = struct{}{}
}

// addAssetBothRoles records an asset that is both given and received in the
// same operation (payments, offers, trust lines).
func (e *indexEntry) addAssetBothRoles(asset xdr.Asset) {
	e.addAsset(roleSource, asset)
	e.addAsset(roleDest, asset)
}

func extractIndexEntry(ledgerSeq uint32, tx ingest.LedgerTransaction) (indexEntry, error) {
	hash := tx.Result.TransactionHash
	entry := indexEntry{
		id:        txid.New(ledgerSeq, tx.Index),
		hash:      hash[:],
		typeCodes: make(map[int32]struct{}),
		accounts:  make(map[int]map[string]struct{}),
		assets:    make(map[int]map[string]struct{}),
		offers:    make(map[int64]struct{}),
		pools:     make(map[string]struct{}),
	}

	var err error
	if entry.envelope, err = tx.Envelope.MarshalBinary(); err != nil {
		return entry, fmt.Errorf("couldn't encode transaction Envelope: %w", err)
	}
	if entry.meta, err = tx.UnsafeMeta.MarshalBinary(); err != nil {
		return entry, fmt.Errorf("couldn't encode transaction Meta: %w", err)
	}
	if entry.result, err = tx.Result.Result.MarshalBinary(); err != nil {
		return entry, fmt.Errorf("couldn't encode transaction Result: %w", err)
	}

	txSource := tx.Envelope.SourceAccount().ToAccountId()
	entry.addAccount(roleSource, txSource.Address())
	entry.memo = renderMemo(tx.Envelope.Memo())

	for _, op := range tx.Envelope.Operations() {
		entry.typeCodes[int32(op.Body.Type)] = struct{}{}

		opSource := txSource
		if op.SourceAccount != nil {
			opSource = op.SourceAccount.ToAccountId()
			entry.addAccount(roleSource, opSource.Address())
		}

		switch op.Body.Type {
		case xdr.OperationTypeCreateAccount:
			entry.addAccount(roleDest, op.Body.CreateAccountOp.Destination.Address())
		case xdr.OperationTypePayment:
			entry.addAccount(roleDest, op.Body.PaymentOp.Destination.ToAccountId().Address())
			entry.addAssetBothRoles(op.Body.PaymentOp.Asset)
		case xdr.OperationTypePathPaymentStrictReceive:
			p := op.Body.PathPaymentStrictReceiveOp
			entry.addAccount(roleDest, p.Destination.ToAccountId().Address())
			entry.addAsset(roleSource, p.SendAsset)
			entry.addAsset(roleDest, p.DestAsset)
		case xdr.OperationTypePathPaymentStrictSend:
			p := op.Body.PathPaymentStrictSendOp
			entry.addAccount(roleDest, p.Destination.ToAccountId().Address())
			entry.addAsset(roleSource, p.SendAsset)
			entry.addAsset(roleDest, p.DestAsset)
		case xdr.OperationTypeManageSellOffer:
			o := op.Body.ManageSellOfferOp
			entry.addAssetBothRoles(o.Selling)
			entry.addAssetBothRoles(o.Buying)
			if o.OfferId > 0 {
				entry.offers[int64(o.OfferId)] = struct{}{}
			}
		case xdr.OperationTypeManageBuyOffer:
			o := op.Body.ManageBuyOfferOp
			entry.addAssetBothRoles(o.Selling)
			entry.addAssetBothRoles(o.Buying)
			if o.OfferId > 0 {
				entry.offers[int64(o.OfferId)] = struct{}{}
			}
		case xdr.OperationTypeCreatePassiveSellOffer:
			o := op.Body.CreatePassiveSellOfferOp
			entry.addAssetBothRoles(o.Selling)
			entry.addAssetBothRoles(o.Buying)
		case xdr.OperationTypeChangeTrust:
			line := op.Body.ChangeTrustOp.Line
			if line.Type == xdr.AssetTypeAssetTypePoolShare {
				// trust lines to pool shares are tracked as pool filters
				if params, ok := line.GetLiquidityPool(); ok && params.Type == xdr.LiquidityPoolTypeLiquidityPoolConstantProduct {
					cp := params.ConstantProduct
					if poolID, err := xdr.NewPoolId(cp.AssetA, cp.AssetB, cp.Fee); err == nil {
						entry.pools[hex.EncodeToString(poolID[:])] = struct{}{}
					}
				}
			} else {
				entry.addAssetBothRoles(line.ToAsset())
			}
		case xdr.OperationTypeAllowTrust:
			a := op.Body.AllowTrustOp
			entry.addAccount(roleDest, a.Trustor.Address())
			entry.addAssetBothRoles(a.Asset.ToAsset(opSource))
		case xdr.OperationTypeAccountMerge:
			entry.addAccount(roleDest, op.Body.Destination.ToAccountId().Address())
		case xdr.OperationTypeCreateClaimableBalance:
			c := op.Body.CreateClaimableBalanceOp
			entry.addAssetBothRoles(c.Asset)
			for _, claimant := range c.Claimants {
				entry.addAccount(roleDest, claimant.MustV0().Destination.Address())
			}
		case xdr.OperationTypeBeginSponsoringFutureReserves:
			entry.addAccount(roleDest, op.Body.BeginSponsoringFutureReservesOp.SponsoredId.Address())
		case xdr.OperationTypeClawback:
			c := op.Body.ClawbackOp
			entry.addAccount(roleDest, c.From.ToAccountId().Address())
			entry.addAssetBothRoles(c.Asset)
		case xdr.OperationTypeSetTrustLineFlags:
			s := op.Body.SetTrustLineFlagsOp
			entry.addAccount(roleDest, s.Trustor.Address())
			entry.addAssetBothRoles(s.Asset)
		case xdr.OperationTypeLiquidityPoolDeposit:
			poolID := op.Body.LiquidityPoolDepositOp.LiquidityPoolId
			entry.pools[hex.EncodeToString(poolID[:])] = struct{}{}
		case xdr.OperationTypeLiquidityPoolWithdraw:
			poolID := op.Body.LiquidityPoolWithdrawOp.LiquidityPoolId
			entry.pools[hex.EncodeToString(poolID[:])] = struct{}{}
		}
	}

	return entry, nil
}

// renderMemo normalizes a transaction memo to the string form the memo
// resolver matches against: the text itself, the decimal id, or the
// hex-encoded hash.
func renderMemo(memo xdr.Memo) *string {
	var value string
	switch memo.Type {
	case xdr.MemoTypeMemoText:
		value = memo.MustText()
	case xdr.MemoTypeMemoId:
		value = strconv.FormatUint(uint64(memo.MustId()), 10)
	case xdr.MemoTypeMemoHash:
		hash := memo.MustHash()
		value = hex.EncodeToString(hash[:])
	case xdr.MemoTypeMemoReturn:
		hash := memo.MustRetHash()
		value = hex.EncodeToString(hash[:])
	default:
		return nil
	}
	return &value
}
