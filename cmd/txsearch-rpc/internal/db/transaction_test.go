package db

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

func TestTransactionNotFound(t *testing.T) {
	db := NewTestDB(t)
	reader := NewArchiveReader(log.DefaultLogger, db)

	_, err := reader.GetTransactionByIDOrHash(context.TODO(), "12345")
	require.ErrorIs(t, err, ErrNoTransaction)

	// well-formed hash, unknown transaction
	_, err = reader.GetTransactionByIDOrHash(context.TODO(), hex.EncodeToString(make([]byte, 32)))
	require.ErrorIs(t, err, ErrNoTransaction)

	// neither an id nor a hash
	_, err = reader.GetTransactionByIDOrHash(context.TODO(), "certainly-not-a-hash")
	require.ErrorIs(t, err, ErrNoTransaction)
}

func TestTransactionFound(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.TODO()

	lcms := []xdr.LedgerCloseMeta{
		CreateTxMeta(1234, true),
		CreateTxMeta(1235, true),
		CreateTxMeta(1236, true),
	}
	ingestLedgers(t, db, 100, lcms...)

	reader := NewArchiveReader(log.DefaultLogger, db)
	for _, lcm := range lcms {
		id := txid.New(lcm.LedgerSequence(), 1)
		byID, err := reader.GetTransactionByIDOrHash(ctx, id.String())
		require.NoError(t, err)
		assert.Equal(t, id, byID.ID)

		hash := TxHash(lcm.LedgerSequence())
		byHash, err := reader.GetTransactionByIDOrHash(ctx, hex.EncodeToString(hash[:]))
		require.NoError(t, err)
		assert.Equal(t, byID, byHash)
		assert.Equal(t, hash[:], byHash.Hash)
		assert.NotEmpty(t, byHash.Envelope)
		assert.NotEmpty(t, byHash.Meta)
		assert.NotEmpty(t, byHash.Result)
	}
}

func TestGetTransactionsPreservesOrder(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.TODO()

	ingestLedgers(t, db, 100,
		CreateTxMeta(1234, true),
		CreateTxMeta(1235, true),
		CreateTxMeta(1236, true),
	)

	reader := NewArchiveReader(log.DefaultLogger, db)
	ids := []txid.ID{
		txid.New(1236, 1),
		txid.New(1234, 1),
		txid.New(9999, 1), // unknown, skipped
		txid.New(1235, 1),
	}
	txs, err := reader.GetTransactions(ctx, ids)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, txid.New(1236, 1), txs[0].ID)
	assert.Equal(t, txid.New(1234, 1), txs[1].ID)
	assert.Equal(t, txid.New(1235, 1), txs[2].ID)
}

func TestTrimTransactions(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.TODO()

	ingestLedgers(t, db, 2,
		CreateTxMeta(1234, true),
		CreateTxMeta(1235, true),
		CreateTxMeta(1236, true),
	)

	reader := NewArchiveReader(log.DefaultLogger, db)
	_, err := reader.GetTransactionByIDOrHash(ctx, txid.New(1234, 1).String())
	require.ErrorIs(t, err, ErrNoTransaction)

	for _, seq := range []uint32{1235, 1236} {
		_, err := reader.GetTransactionByIDOrHash(ctx, txid.New(seq, 1).String())
		require.NoError(t, err, "transaction of ledger %d should have been retained", seq)
	}
}
