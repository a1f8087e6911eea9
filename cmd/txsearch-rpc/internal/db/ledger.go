package db

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/stellar/go/xdr"
)

// Ledger is the metadata record kept per closed ledger.
type Ledger struct {
	Sequence  uint32 `db:"sequence"`
	CloseTime int64  `db:"close_time"`
}

// LedgerReader provides the public ways to read ledger metadata, including
// the timestamp-to-sequence resolution used by the query pipeline.
type LedgerReader interface {
	GetLedger(ctx context.Context, sequence uint32) (Ledger, bool, error)
	GetLedgers(ctx context.Context, sequences []uint32) (map[uint32]Ledger, error)
	GetLatestLedgerSequence(ctx context.Context) (uint32, error)
	LedgerForTimestamp(ctx context.Context, closeTime int64) (uint32, error)
}

type LedgerWriter interface {
	InsertLedger(ledger xdr.LedgerCloseMeta) error
}

type ledgerReader struct {
	db *DB
}

func NewLedgerReader(db *DB) LedgerReader {
	return ledgerReader{db: db}
}

// GetLedger fetches a single ledger metadata record.
func (r ledgerReader) GetLedger(ctx context.Context, sequence uint32) (Ledger, bool, error) {
	sql := sq.Select("sequence", "close_time").From(ledgerTableName).Where(sq.Eq{"sequence": sequence})
	var results []Ledger
	if err := r.db.Select(ctx, &results, sql); err != nil {
		return Ledger{}, false, err
	}
	switch len(results) {
	case 0:
		return Ledger{}, false, nil
	case 1:
		return results[0], true, nil
	default:
		return Ledger{}, false, fmt.Errorf("multiple entries (%d) for sequence %d in table %q",
			len(results), sequence, ledgerTableName)
	}
}

// GetLedgers batch-fetches metadata records, keyed by sequence. Sequences
// with no record are simply absent from the result.
func (r ledgerReader) GetLedgers(ctx context.Context, sequences []uint32) (map[uint32]Ledger, error) {
	ledgers := make(map[uint32]Ledger, len(sequences))
	if len(sequences) == 0 {
		return ledgers, nil
	}
	sql := sq.Select("sequence", "close_time").From(ledgerTableName).Where(sq.Eq{"sequence": sequences})
	var results []Ledger
	if err := r.db.Select(ctx, &results, sql); err != nil {
		return nil, fmt.Errorf("couldn't query ledgers: %w", err)
	}
	for _, l := range results {
		ledgers[l.Sequence] = l
	}
	return ledgers, nil
}

// GetLatestLedgerSequence returns the highest ingested ledger sequence, or
// zero on an empty database.
func (r ledgerReader) GetLatestLedgerSequence(ctx context.Context) (uint32, error) {
	sql := sq.Select("MAX(sequence) AS sequence").From(ledgerTableName)
	var seqs []*uint32
	if err := r.db.Select(ctx, &seqs, sql); err != nil {
		return 0, fmt.Errorf("couldn't query latest ledger: %w", err)
	}
	if len(seqs) == 1 && seqs[0] != nil {
		return *seqs[0], nil
	}
	return 0, nil
}

// LedgerForTimestamp resolves a unix timestamp to the sequence of the first
// ledger closed at or after it. A timestamp beyond the chain tip resolves to
// the sequence right after the latest known ledger, so a lower bound derived
// from it matches nothing while an upper bound derived from it matches
// everything.
func (r ledgerReader) LedgerForTimestamp(ctx context.Context, closeTime int64) (uint32, error) {
	sql := sq.Select("MIN(sequence) AS sequence").From(ledgerTableName).Where(sq.GtOrEq{"close_time": closeTime})
	var seqs []*uint32
	if err := r.db.Select(ctx, &seqs, sql); err != nil {
		return 0, fmt.Errorf("couldn't resolve timestamp %d: %w", closeTime, err)
	}
	if len(seqs) == 1 && seqs[0] != nil {
		return *seqs[0], nil
	}

	var max []*uint32
	maxSQL := sq.Select("MAX(sequence) AS sequence").From(ledgerTableName)
	if err := r.db.Select(ctx, &max, maxSQL); err != nil {
		return 0, fmt.Errorf("couldn't resolve timestamp %d: %w", closeTime, err)
	}
	if len(max) == 1 && max[0] != nil {
		return *max[0] + 1, nil
	}
	return 1, nil
}

type ledgerWriter struct {
	stmtCache *sq.StmtCache
}

// trimLedgers removes all ledgers which fall outside the retention window.
func (l ledgerWriter) trimLedgers(latestLedgerSeq uint32, retentionWindow uint32) error {
	if latestLedgerSeq+1 <= retentionWindow {
		return nil
	}
	cutoff := latestLedgerSeq + 1 - retentionWindow
	_, err := sq.StatementBuilder.
		RunWith(l.stmtCache).
		Delete(ledgerTableName).
		Where(sq.Lt{"sequence": cutoff}).
		Exec()
	return err
}

// InsertLedger records the sequence and close time of a ledger.
func (l ledgerWriter) InsertLedger(ledger xdr.LedgerCloseMeta) error {
	_, err := sq.StatementBuilder.RunWith(l.stmtCache).
		Insert(ledgerTableName).
		Values(ledger.LedgerSequence(), ledger.LedgerCloseTime()).
		Exec()
	return err
}
