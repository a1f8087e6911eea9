package db

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stellar/go/ingest"
	"github.com/stellar/go/support/log"
	"github.com/stellar/go/xdr"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

// Transaction is a full archive record: the opaque XDR payloads plus the hash,
// keyed by the packed transaction id.
type Transaction struct {
	ID       txid.ID
	Hash     []byte
	Envelope []byte // XDR encoded xdr.TransactionEnvelope
	Meta     []byte // XDR encoded xdr.TransactionMeta
	Result   []byte // XDR encoded xdr.TransactionResult
}

// TransactionWriter ingests one ledger's transactions into the archive and
// the search index.
type TransactionWriter interface {
	InsertTransactions(lcm xdr.LedgerCloseMeta) error
	RegisterMetrics(ingest, count prometheus.Observer)
}

// ArchiveReader provides the public ways to read archive records.
type ArchiveReader interface {
	// GetTransactions fetches the records for exactly the given ids,
	// preserving their order. Unknown ids are skipped.
	GetTransactions(ctx context.Context, ids []txid.ID) ([]Transaction, error)
	// GetTransactionByIDOrHash fetches a single record addressed either by
	// its decimal id or its hex hash. Returns ErrNoTransaction when nothing
	// matches.
	GetTransactionByIDOrHash(ctx context.Context, idOrHash string) (Transaction, error)
}

type transactionRow struct {
	ID     int64  `db:"id"`
	Hash   []byte `db:"hash"`
	Body   []byte `db:"body"`
	Meta   []byte `db:"meta"`
	Result []byte `db:"result"`
}

func (row transactionRow) toTransaction() Transaction {
	return Transaction{
		ID:       txid.ID(uint64(row.ID)),
		Hash:     row.Hash,
		Envelope: row.Body,
		Meta:     row.Meta,
		Result:   row.Result,
	}
}

type archiveReader struct {
	log *log.Entry
	db  *DB
}

func NewArchiveReader(log *log.Entry, db *DB) ArchiveReader {
	return archiveReader{log: log, db: db}
}

func (r archiveReader) GetTransactions(ctx context.Context, ids []txid.ID) ([]Transaction, error) {
	start := time.Now()
	if len(ids) == 0 {
		return nil, nil
	}

	rawIDs := make([]int64, len(ids))
	for i, id := range ids {
		rawIDs[i] = int64(uint64(id))
	}
	rowQ := sq.Select("id", "hash", "body", "meta", "result").
		From(transactionTableName).
		Where(sq.Eq{"id": rawIDs})

	var rows []transactionRow
	if err := r.db.Select(ctx, &rows, rowQ); err != nil {
		return nil, fmt.Errorf("db read failed for %d transaction ids: %w", len(ids), err)
	}

	byID := make(map[txid.ID]Transaction, len(rows))
	for _, row := range rows {
		tx := row.toTransaction()
		byID[tx.ID] = tx
	}
	// reassemble in the caller's (i.e. the search hit) order
	txs := make([]Transaction, 0, len(rows))
	for _, id := range ids {
		if tx, ok := byID[id]; ok {
			txs = append(txs, tx)
		}
	}

	r.log.
		WithField("count", len(txs)).
		WithField("duration", time.Since(start)).
		Debugf("Fetched %d archive records", len(txs))
	return txs, nil
}

func (r archiveReader) GetTransactionByIDOrHash(ctx context.Context, idOrHash string) (Transaction, error) {
	rowQ := sq.Select("id", "hash", "body", "meta", "result").
		From(transactionTableName).
		Limit(1)

	if id, err := strconv.ParseUint(idOrHash, 10, 64); err == nil {
		rowQ = rowQ.Where(sq.Eq{"id": int64(id)})
	} else if hash, err := hex.DecodeString(idOrHash); err == nil && len(hash) == 32 {
		rowQ = rowQ.Where(sq.Eq{"hash": hash})
	} else {
		return Transaction{}, ErrNoTransaction
	}

	var rows []transactionRow
	if err := r.db.Select(ctx, &rows, rowQ); err != nil {
		return Transaction{}, fmt.Errorf("db read failed for %q: %w", idOrHash, err)
	}
	if len(rows) < 1 {
		return Transaction{}, ErrNoTransaction
	}
	return rows[0].toTransaction(), nil
}

type transactionWriter struct {
	log        *log.Entry
	stmtCache  *sq.StmtCache
	passphrase string

	ingestMetric, countMetric prometheus.Observer
}

func (txn *transactionWriter) RegisterMetrics(ingest, count prometheus.Observer) {
	txn.ingestMetric = ingest
	txn.countMetric = count
}

// InsertTransactions writes the archive records, the index root rows and all
// the per-field index entries for one ledger.
func (txn *transactionWriter) InsertTransactions(lcm xdr.LedgerCloseMeta) error {
	start := time.Now()
	txCount := lcm.CountTransactions()
	L := txn.log.
		WithField("ledger_seq", lcm.LedgerSequence()).
		WithField("tx_count", txCount)

	defer func() {
		if txn.ingestMetric != nil {
			txn.ingestMetric.Observe(time.Since(start).Seconds())
			txn.countMetric.Observe(float64(txCount))
		}
	}()

	if txCount == 0 {
		return nil
	}

	reader, err := ingest.NewLedgerTransactionReaderFromLedgerCloseMeta(txn.passphrase, lcm)
	if err != nil {
		return fmt.Errorf(
			"failed to open transaction reader for ledger %d: %w",
			lcm.LedgerSequence(),
			err,
		)
	}

	for i := 0; i < txCount; i++ {
		tx, err := reader.Read()
		if err != nil {
			return fmt.Errorf("failed reading tx %d: %w", i, err)
		}
		entry, err := extractIndexEntry(lcm.LedgerSequence(), tx)
		if err != nil {
			return fmt.Errorf("failed extracting tx %d of ledger %d: %w", i, lcm.LedgerSequence(), err)
		}
		if err := txn.insertEntry(entry); err != nil {
			return fmt.Errorf("failed indexing tx %d of ledger %d: %w", i, lcm.LedgerSequence(), err)
		}
	}

	L.WithField("duration", time.Since(start)).
		Debugf("Ingested %d transactions", txCount)
	return nil
}

func (txn *transactionWriter) insertEntry(entry indexEntry) error {
	rawID := int64(uint64(entry.id))
	_, err := sq.Insert(transactionTableName).
		Columns("id", "hash", "body", "meta", "result").
		Values(rawID, entry.hash, entry.envelope, entry.meta, entry.result).
		RunWith(txn.stmtCache).Exec()
	if err != nil {
		return err
	}

	var memoID interface{}
	if entry.memo != nil {
		id, err := txn.lookupID(memoTableName, "value", *entry.memo)
		if err != nil {
			return err
		}
		memoID = id
	}
	if _, err := sq.Insert(txIndexTableName).
		Columns("id", "memo_id").
		Values(rawID, memoID).
		RunWith(txn.stmtCache).Exec(); err != nil {
		return err
	}

	for code := range entry.typeCodes {
		if _, err := sq.Insert(txTypeTableName).Options("OR IGNORE").
			Values(rawID, code).RunWith(txn.stmtCache).Exec(); err != nil {
			return err
		}
	}
	for role, addresses := range entry.accounts {
		for address := range addresses {
			id, err := txn.lookupID(accountTableName, "address", address)
			if err != nil {
				return err
			}
			if _, err := sq.Insert(txAccountTableName).Options("OR IGNORE").
				Values(rawID, id, role).RunWith(txn.stmtCache).Exec(); err != nil {
				return err
			}
		}
	}
	for role, names := range entry.assets {
		for name := range names {
			id, err := txn.lookupID(assetTableName, "name", name)
			if err != nil {
				return err
			}
			if _, err := sq.Insert(txAssetTableName).Options("OR IGNORE").
				Values(rawID, id, role).RunWith(txn.stmtCache).Exec(); err != nil {
				return err
			}
		}
	}
	for offerID := range entry.offers {
		if _, err := sq.Insert(txOfferTableName).Options("OR IGNORE").
			Values(rawID, offerID).RunWith(txn.stmtCache).Exec(); err != nil {
			return err
		}
	}
	for pool := range entry.pools {
		id, err := txn.lookupID(poolTableName, "hash", pool)
		if err != nil {
			return err
		}
		if _, err := sq.Insert(txPoolTableName).Options("OR IGNORE").
			Values(rawID, id).RunWith(txn.stmtCache).Exec(); err != nil {
			return err
		}
	}
	return nil
}

// lookupID upserts a symbolic value into its lookup table and returns the
// internal id assigned to it.
func (txn *transactionWriter) lookupID(table, column, value string) (int64, error) {
	if _, err := sq.Insert(table).Options("OR IGNORE").
		Columns(column).Values(value).
		RunWith(txn.stmtCache).Exec(); err != nil {
		return 0, err
	}
	var id int64
	err := sq.Select("id").From(table).Where(sq.Eq{column: value}).
		RunWith(txn.stmtCache).QueryRow().Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("lookup of %q in table %q failed: %w", value, table, err)
	}
	return id, nil
}

// trimTransactions removes all transactions which fall outside the ledger
// retention window, from the archive and from every index table.
func (txn *transactionWriter) trimTransactions(latestLedgerSeq uint32, retentionWindow uint32) error {
	if latestLedgerSeq+1 <= retentionWindow {
		return nil
	}

	cutoff := int64(uint64(txid.FromLedger(latestLedgerSeq + 1 - retentionWindow)))
	for _, table := range []string{transactionTableName, txIndexTableName} {
		if _, err := sq.StatementBuilder.
			RunWith(txn.stmtCache).
			Delete(table).
			Where(sq.Lt{"id": cutoff}).
			Exec(); err != nil {
			return err
		}
	}
	for _, table := range []string{txTypeTableName, txAccountTableName, txAssetTableName, txOfferTableName, txPoolTableName} {
		if _, err := sq.StatementBuilder.
			RunWith(txn.stmtCache).
			Delete(table).
			Where(sq.Lt{"tx_id": cutoff}).
			Exec(); err != nil {
			return err
		}
	}
	return nil
}
