package query

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

const (
	testAccountA = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testAccountB = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
)

type fakeExecutor struct {
	calls int
	req   search.Request
	hits  []txid.ID
}

func (f *fakeExecutor) Execute(_ context.Context, req search.Request) ([]txid.ID, error) {
	f.calls++
	f.req = req
	return f.hits, nil
}

// fakeResolver resolves only the values it knows about, like the real lookup
// tables do, and counts how often it is consulted.
type fakeResolver struct {
	calls int
	known map[string]int64
}

func newFakeResolver(known map[string]int64) *fakeResolver {
	return &fakeResolver{known: known}
}

func (f *fakeResolver) Resolve(_ context.Context, values []string) ([]int64, error) {
	f.calls++
	var ids []int64
	for _, v := range values {
		if id, ok := f.known[v]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeArchive map[txid.ID]db.Transaction

func (f fakeArchive) GetTransactions(_ context.Context, ids []txid.ID) ([]db.Transaction, error) {
	var txs []db.Transaction
	for _, id := range ids {
		if tx, ok := f[id]; ok {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (f fakeArchive) GetTransactionByIDOrHash(_ context.Context, idOrHash string) (db.Transaction, error) {
	for _, tx := range f {
		if tx.ID.String() == idOrHash || hex.EncodeToString(tx.Hash) == idOrHash {
			return tx, nil
		}
	}
	return db.Transaction{}, db.ErrNoTransaction
}

type fakeLedgers map[uint32]db.Ledger

func (f fakeLedgers) GetLedger(_ context.Context, sequence uint32) (db.Ledger, bool, error) {
	ledger, ok := f[sequence]
	return ledger, ok, nil
}

func (f fakeLedgers) GetLedgers(_ context.Context, sequences []uint32) (map[uint32]db.Ledger, error) {
	out := make(map[uint32]db.Ledger)
	for _, seq := range sequences {
		if ledger, ok := f[seq]; ok {
			out[seq] = ledger
		}
	}
	return out, nil
}

func (f fakeLedgers) GetLatestLedgerSequence(context.Context) (uint32, error) {
	var latest uint32
	for seq := range f {
		if seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

func (f fakeLedgers) LedgerForTimestamp(_ context.Context, closeTime int64) (uint32, error) {
	sequences := make([]uint32, 0, len(f))
	for seq := range f {
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	for _, seq := range sequences {
		if f[seq].CloseTime >= closeTime {
			return seq, nil
		}
	}
	if len(sequences) == 0 {
		return 1, nil
	}
	return sequences[len(sequences)-1] + 1, nil
}

func testBackend(executor *fakeExecutor) Backend {
	return Backend{
		Index: executor,
		Archive: fakeArchive{},
		Ledgers: fakeLedgers{
			100: {Sequence: 100, CloseTime: 1000},
			101: {Sequence: 101, CloseTime: 1025},
			102: {Sequence: 102, CloseTime: 1050},
		},
		Accounts: newFakeResolver(map[string]int64{testAccountA: 1, testAccountB: 2}),
		Assets:   newFakeResolver(map[string]int64{"native": 1}),
		Pools:    newFakeResolver(nil),
		Memos:    newFakeResolver(map[string]int64{"hello": 7}),
	}
}

func resolve(t *testing.T, executor *fakeExecutor, params Params) []TransactionInfo {
	t.Helper()
	builder, err := NewBuilder(testBackend(executor), params, log.DefaultLogger)
	require.NoError(t, err)
	records, err := builder.Resolve(context.TODO())
	require.NoError(t, err)
	return records
}

func resolveErr(t *testing.T, params Params) error {
	t.Helper()
	executor := &fakeExecutor{}
	builder, err := NewBuilder(testBackend(executor), params, log.DefaultLogger)
	if err != nil {
		return err
	}
	_, err = builder.Resolve(context.TODO())
	require.Error(t, err)
	assert.Zero(t, executor.calls, "a failed query must not reach the index")
	return err
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, field, verr.Field)
}

func TestDefaultRequest(t *testing.T) {
	executor := &fakeExecutor{}
	records := resolve(t, executor, Params{})

	assert.Empty(t, records)
	require.Equal(t, 1, executor.calls)
	assert.Empty(t, executor.req.Predicates, "no filters means no predicates")
	assert.Equal(t, search.SortDesc, executor.req.Sort)
	assert.Equal(t, uint(DefaultLimit), executor.req.Size)
}

func TestInvalidOrder(t *testing.T) {
	err := resolveErr(t, Params{Order: "sideways"})
	requireValidation(t, err, "order")
}

func TestCursorAscending(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Cursor: "1000", Order: "asc"})

	require.Len(t, executor.req.Predicates, 1)
	rng, ok := executor.req.Predicates[0].(search.Range)
	require.True(t, ok)
	require.NotNil(t, rng.GTE)
	assert.Equal(t, uint64(1001), *rng.GTE, "ascending resumes strictly after the cursor")
	assert.Nil(t, rng.LTE)
}

func TestCursorDescending(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Cursor: "1000"})

	require.Len(t, executor.req.Predicates, 1)
	rng, ok := executor.req.Predicates[0].(search.Range)
	require.True(t, ok)
	require.NotNil(t, rng.LTE)
	assert.Equal(t, uint64(999), *rng.LTE, "descending resumes strictly before the cursor")
	assert.Nil(t, rng.GTE)
}

func TestCursorRejectsNonNumeric(t *testing.T) {
	err := resolveErr(t, Params{Cursor: "abc"})
	requireValidation(t, err, "cursor")
}

func TestCursorIgnoresNegative(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Cursor: "-5"})
	assert.Empty(t, executor.req.Predicates)
}

func TestCursorSaturatesBeyondIDSpace(t *testing.T) {
	executor := &fakeExecutor{}
	// 2^64, one past the largest possible id
	resolve(t, executor, Params{Cursor: "18446744073709551616", Order: "asc"})

	require.Len(t, executor.req.Predicates, 1)
	rng := executor.req.Predicates[0].(search.Range)
	require.NotNil(t, rng.GTE)
	assert.Equal(t, ^uint64(0), *rng.GTE)
}

func TestTimestampWindow(t *testing.T) {
	executor := &fakeExecutor{}
	from, to := int64(1025), int64(1025)
	resolve(t, executor, Params{From: &from, To: &to})

	require.Len(t, executor.req.Predicates, 1)
	rng := executor.req.Predicates[0].(search.Range)
	require.NotNil(t, rng.GTE)
	require.NotNil(t, rng.LTE)
	assert.Equal(t, uint64(txid.FromLedger(101)), *rng.GTE)
	assert.Equal(t, uint64(txid.FromLedger(102)), *rng.LTE, "the resolved to-ledger is included whole")
}

func TestTimestampBeyondTip(t *testing.T) {
	executor := &fakeExecutor{}
	from := int64(99999)
	records := resolve(t, executor, Params{From: &from})

	assert.Empty(t, records)
	require.Equal(t, 1, executor.calls)
	rng := executor.req.Predicates[0].(search.Range)
	require.NotNil(t, rng.GTE)
	assert.Equal(t, uint64(txid.FromLedger(103)), *rng.GTE, "a from beyond the tip matches nothing real")
}

func TestContradictoryWindowShortCircuits(t *testing.T) {
	executor := &fakeExecutor{}
	// ascending cursor past the to-timestamp upper bound
	to := int64(1000)
	records := resolve(t, executor, Params{
		Order:  "asc",
		Cursor: txid.FromLedger(200).String(),
		To:     &to,
	})

	assert.Empty(t, records)
	assert.Zero(t, executor.calls, "an unsatisfiable query must never reach the index")
}

func TestTypeExpansion(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Type: []string{"payments"}})

	require.Len(t, executor.req.Predicates, 1)
	terms, ok := executor.req.Predicates[0].(search.Terms)
	require.True(t, ok)
	assert.Equal(t, search.FieldType, terms.Field)
	assert.Equal(t, []int64{0, 1, 2, 8, 9, 13, 14, 15, 19, 20}, terms.Values)
}

func TestTypeMixedMnemonicAndNumeric(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Type: []string{"payment", "5", "payment"}})

	terms := executor.req.Predicates[0].(search.Terms)
	assert.Equal(t, []int64{1, 5}, terms.Values, "duplicates collapse, output is sorted")
}

func TestTypeRejectsUnknown(t *testing.T) {
	err := resolveErr(t, Params{Type: []string{"teleport"}})
	requireValidation(t, err, "type")

	err = resolveErr(t, Params{Type: []string{"24"}})
	requireValidation(t, err, "type")

	err = resolveErr(t, Params{Type: []string{"-1"}})
	requireValidation(t, err, "type")
}

func TestTypeRejectsTooManyValues(t *testing.T) {
	values := make([]string, maxTypeValues+1)
	for i := range values {
		values[i] = "payment"
	}
	err := resolveErr(t, Params{Type: values})
	requireValidation(t, err, "type")
}

func TestAccountFilter(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Account: []string{testAccountA, testAccountB}})

	require.Len(t, executor.req.Predicates, 1)
	terms := executor.req.Predicates[0].(search.Terms)
	assert.Equal(t, search.FieldAccount, terms.Field)
	assert.Equal(t, []int64{1, 2}, terms.Values)
}

func TestAccountRolesAreIndependentPredicates(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{
		Source:      []string{testAccountA},
		Destination: []string{testAccountB},
	})

	require.Len(t, executor.req.Predicates, 2)
	assert.Equal(t, search.FieldSourceAccount, executor.req.Predicates[0].(search.Terms).Field)
	assert.Equal(t, search.FieldDestAccount, executor.req.Predicates[1].(search.Terms).Field)
}

func TestAccountRejectsMalformedAddress(t *testing.T) {
	err := resolveErr(t, Params{Account: []string{"not-an-address"}})
	requireValidation(t, err, "account")
}

func TestAccountRejectsTooManyValues(t *testing.T) {
	values := make([]string, maxFilterValues+1)
	for i := range values {
		values[i] = testAccountA
	}
	executor := &fakeExecutor{}
	backend := testBackend(executor)
	builder, err := NewBuilder(backend, Params{Account: values}, log.DefaultLogger)
	require.NoError(t, err)

	_, err = builder.Resolve(context.TODO())
	requireValidation(t, err, "account")
	assert.Zero(t, executor.calls)
	accounts := backend.Accounts.(*fakeResolver)
	assert.Zero(t, accounts.calls, "an over-limit list is rejected before any lookup")
}

func TestUnknownAccountIsUnsatisfiableNotAnError(t *testing.T) {
	executor := &fakeExecutor{}
	// structurally valid address that no transaction ever touched
	records := resolve(t, executor, Params{
		Account: []string{"GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"},
	})

	assert.Empty(t, records)
	assert.Zero(t, executor.calls)
}

func TestAssetCanonicalization(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Asset: []string{"XLM"}})

	require.Len(t, executor.req.Predicates, 1)
	terms := executor.req.Predicates[0].(search.Terms)
	assert.Equal(t, search.FieldAsset, terms.Field)
	assert.Equal(t, []int64{1}, terms.Values, "XLM resolves through the canonical native name")
}

func TestAssetRejectsMalformedDescriptor(t *testing.T) {
	err := resolveErr(t, Params{SrcAsset: []string{"USDC"}})
	requireValidation(t, err, "src_asset")
}

func TestOfferFilterSkipsResolver(t *testing.T) {
	executor := &fakeExecutor{}
	resolve(t, executor, Params{Offer: []string{"12345", "99"}})

	require.Len(t, executor.req.Predicates, 1)
	terms := executor.req.Predicates[0].(search.Terms)
	assert.Equal(t, search.FieldOffer, terms.Field)
	assert.Equal(t, []int64{12345, 99}, terms.Values)
}

func TestOfferRejectsMalformedID(t *testing.T) {
	err := resolveErr(t, Params{Offer: []string{"0"}})
	requireValidation(t, err, "offer")
}

func TestPoolRejectsMalformedHash(t *testing.T) {
	err := resolveErr(t, Params{Pool: []string{"beef"}})
	requireValidation(t, err, "pool")
}

func TestUnsatisfiableSkipsLaterSteps(t *testing.T) {
	executor := &fakeExecutor{}
	// the unknown account short-circuits before the malformed pool id is
	// ever looked at; which failure wins depends only on step order
	builder, err := NewBuilder(testBackend(executor), Params{
		Account: []string{"GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"},
		Pool:    []string{"not-a-pool-hash"},
	}, log.DefaultLogger)
	require.NoError(t, err)

	records, err := builder.Resolve(context.TODO())
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, executor.calls)
}

func TestFusionMergesArchiveAndLedgers(t *testing.T) {
	idA, idB := txid.New(102, 1), txid.New(100, 2)
	executor := &fakeExecutor{hits: []txid.ID{idA, idB}}
	backend := testBackend(executor)
	backend.Archive = fakeArchive{
		idA: {ID: idA, Hash: []byte{0xaa}, Envelope: []byte("env-a"), Meta: []byte("meta-a"), Result: []byte("res-a")},
		idB: {ID: idB, Hash: []byte{0xbb}, Envelope: []byte("env-b"), Meta: []byte("meta-b"), Result: []byte("res-b")},
	}

	builder, err := NewBuilder(backend, Params{Memo: []string{"hello"}}, log.DefaultLogger)
	require.NoError(t, err)
	records, err := builder.Resolve(context.TODO())
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, idA.String(), records[0].ID)
	assert.Equal(t, records[0].ID, records[0].PagingToken)
	assert.Equal(t, uint32(102), records[0].Ledger)
	assert.Equal(t, int64(1050), records[0].Timestamp)
	assert.Equal(t, "aa", records[0].Hash)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("env-a")), records[0].EnvelopeXdr)

	assert.Equal(t, idB.String(), records[1].ID)
	assert.Equal(t, uint32(100), records[1].Ledger)
	assert.Equal(t, int64(1000), records[1].Timestamp)
}

func TestFusionFailsOnMissingLedgerMetadata(t *testing.T) {
	// an archived transaction whose ledger row is gone must surface an
	// error, never a zero timestamp
	id := txid.New(999, 1)
	executor := &fakeExecutor{hits: []txid.ID{id}}
	backend := testBackend(executor)
	backend.Archive = fakeArchive{
		id: {ID: id, Hash: []byte{0xaa}, Envelope: []byte("env"), Meta: []byte("meta"), Result: []byte("res")},
	}

	builder, err := NewBuilder(backend, Params{}, log.DefaultLogger)
	require.NoError(t, err)
	_, err = builder.Resolve(context.TODO())
	require.ErrorContains(t, err, "no metadata for ledger 999")
}
