package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellar/go/ingest/ledgerbackend"
	supportlog "github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
)

type errorLedgerReader struct{}

func (errorLedgerReader) GetLedger(context.Context, uint32) (db.Ledger, bool, error) {
	return db.Ledger{}, false, errors.New("not implemented")
}

func (errorLedgerReader) GetLedgers(context.Context, []uint32) (map[uint32]db.Ledger, error) {
	return nil, errors.New("not implemented")
}

func (errorLedgerReader) GetLatestLedgerSequence(context.Context) (uint32, error) {
	return 0, errors.New("could not get latest ledger sequence")
}

func (errorLedgerReader) LedgerForTimestamp(context.Context, int64) (uint32, error) {
	return 0, errors.New("not implemented")
}

type fakeLedgerReader struct {
	errorLedgerReader
	latest uint32
}

func (f fakeLedgerReader) GetLatestLedgerSequence(context.Context) (uint32, error) {
	return f.latest, nil
}

// recordingTx records what the ingestion loop writes through it.
type recordingTx struct {
	ledgers   []uint32
	txLedgers []uint32
	committed []uint32
}

func (tx *recordingTx) LedgerWriter() db.LedgerWriter           { return tx }
func (tx *recordingTx) TransactionWriter() db.TransactionWriter { return tx }

func (tx *recordingTx) InsertLedger(lcm xdr.LedgerCloseMeta) error {
	tx.ledgers = append(tx.ledgers, lcm.LedgerSequence())
	return nil
}

func (tx *recordingTx) InsertTransactions(lcm xdr.LedgerCloseMeta) error {
	tx.txLedgers = append(tx.txLedgers, lcm.LedgerSequence())
	return nil
}

func (tx *recordingTx) RegisterMetrics(_, _ prometheus.Observer) {}

func (tx *recordingTx) Commit(ledgerSeq uint32) error {
	tx.committed = append(tx.committed, ledgerSeq)
	return nil
}

func (tx *recordingTx) Rollback() error { return nil }

type recordingReadWriter struct {
	tx *recordingTx
}

func (rw recordingReadWriter) NewTx(context.Context) (db.WriteTx, error) {
	return rw.tx, nil
}

func testService(cfg Config) *Service {
	cfg.Logger = supportlog.New()
	cfg.Timeout = time.Second
	cfg.MetricsRegistry = prometheus.NewRegistry()
	cfg.MetricsNamespace = "test"
	return newService(cfg)
}

func TestRetryRunningIngestion(t *testing.T) {
	retries := make(chan error, 16)
	onRetry := func(err error, _ time.Duration) {
		retries <- err
	}

	cfg := Config{
		Logger:           supportlog.New(),
		DB:               recordingReadWriter{tx: &recordingTx{}},
		Ledgers:          errorLedgerReader{},
		Timeout:          time.Second,
		OnIngestionRetry: onRetry,
		MetricsRegistry:  prometheus.NewRegistry(),
		MetricsNamespace: "test",
	}
	service := newService(cfg)
	startService(service, cfg)
	lastErr := <-retries
	service.Close()
	require.Error(t, lastErr)
	require.ErrorContains(t, lastErr, "could not get latest ledger sequence")
}

func TestNextLedgerSequence(t *testing.T) {
	service := testService(Config{Ledgers: fakeLedgerReader{}})
	seq, err := service.nextLedgerSequence(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, uint32(firstIngestibleLedger), seq, "an empty database starts at the genesis ledger")

	service = testService(Config{Ledgers: fakeLedgerReader{}, StartLedger: 5000})
	seq, err = service.nextLedgerSequence(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, uint32(5000), seq)

	service = testService(Config{Ledgers: fakeLedgerReader{latest: 1234}})
	seq, err = service.nextLedgerSequence(context.TODO())
	require.NoError(t, err)
	assert.Equal(t, uint32(1235), seq, "a populated database resumes after its tip")
}

func TestIngestion(t *testing.T) {
	ctx := context.Background()
	sequence := uint32(1234)

	mockLedgerBackend := &ledgerbackend.MockDatabaseBackend{}
	mockLedgerBackend.On("GetLedger", ctx, sequence).Return(db.CreateTxMeta(sequence, true), nil).Once()

	tx := &recordingTx{}
	service := testService(Config{
		DB:            recordingReadWriter{tx: tx},
		Ledgers:       fakeLedgerReader{latest: sequence - 1},
		LedgerBackend: mockLedgerBackend,
	})

	require.NoError(t, service.ingest(ctx, sequence))

	assert.Equal(t, []uint32{sequence}, tx.ledgers)
	assert.Equal(t, []uint32{sequence}, tx.txLedgers)
	assert.Equal(t, []uint32{sequence}, tx.committed)
	mockLedgerBackend.AssertExpectations(t)
}
