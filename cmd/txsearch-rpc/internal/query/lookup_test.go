package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

func TestLookupByID(t *testing.T) {
	id := txid.New(101, 1)
	backend := testBackend(&fakeExecutor{})
	backend.Archive = fakeArchive{
		id: {ID: id, Hash: []byte{0xab, 0xcd}, Envelope: []byte("env"), Meta: []byte("meta"), Result: []byte("res")},
	}

	info, err := Lookup(context.TODO(), backend, id.String())
	require.NoError(t, err)
	assert.Equal(t, id.String(), info.ID)
	assert.Empty(t, info.PagingToken, "single lookups carry no paging token")
	assert.Equal(t, uint32(101), info.Ledger)
	assert.Equal(t, int64(1025), info.Timestamp)
	assert.Equal(t, "abcd", info.Hash)
}

func TestLookupByHash(t *testing.T) {
	id := txid.New(101, 1)
	backend := testBackend(&fakeExecutor{})
	backend.Archive = fakeArchive{
		id: {ID: id, Hash: []byte{0xab, 0xcd}},
	}

	info, err := Lookup(context.TODO(), backend, "abcd")
	require.NoError(t, err)
	assert.Equal(t, id.String(), info.ID)
}

func TestLookupNotFound(t *testing.T) {
	backend := testBackend(&fakeExecutor{})

	_, err := Lookup(context.TODO(), backend, "12345")
	require.ErrorIs(t, err, db.ErrNoTransaction)
}

func TestLookupRejectsOverlongInput(t *testing.T) {
	backend := testBackend(&fakeExecutor{})

	_, err := Lookup(context.TODO(), backend, strings.Repeat("a", 65))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "id", verr.Field)
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	registry.Register("testnet", testBackend(&fakeExecutor{}))

	_, err := registry.Lookup("testnet")
	require.NoError(t, err)

	_, err = registry.Lookup("mainnet")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "network", verr.Field)

	assert.ElementsMatch(t, []string{"testnet"}, registry.Networks())
}
