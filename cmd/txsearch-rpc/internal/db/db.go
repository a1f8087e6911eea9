package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/stellar/go/support/db"
	"github.com/stellar/go/support/log"
)

//go:embed sqlmigrations/*.sql
var sqlMigrations embed.FS

// ErrNoTransaction is returned by archive lookups that match nothing.
var ErrNoTransaction = errors.New("no transaction with this id or hash exists")

const (
	ledgerTableName      = "ledgers"
	transactionTableName = "transactions"
	txIndexTableName     = "tx_index"
	txTypeTableName      = "tx_types"
	txAccountTableName   = "tx_accounts"
	txAssetTableName     = "tx_assets"
	txOfferTableName     = "tx_offers"
	txPoolTableName      = "tx_pools"
	accountTableName     = "accounts"
	assetTableName       = "assets"
	poolTableName        = "pools"
	memoTableName        = "memos"
)

type DB struct {
	db.SessionInterface
}

func openSQLiteDB(dbFilePath string) (*db.Session, error) {
	// 1. Use Write-Ahead Logging (WAL).
	// 2. Disable WAL auto-checkpointing (we will do the checkpointing ourselves with wal_checkpoint pragmas
	//    after every write transaction).
	// 3. Use synchronous=NORMAL, which is faster and still safe in WAL mode.
	session, err := db.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_wal_autocheckpoint=0&_synchronous=NORMAL", dbFilePath))
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	if err = runSQLMigrations(session.DB.DB, "sqlite3"); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("could not run SQL migrations: %w", err)
	}
	return session, nil
}

func OpenSQLiteDBWithPrometheusMetrics(dbFilePath string, namespace string, sub db.Subservice, registry *prometheus.Registry) (*DB, error) {
	session, err := openSQLiteDB(dbFilePath)
	if err != nil {
		return nil, err
	}
	return &DB{SessionInterface: db.RegisterMetrics(session, namespace, sub, registry)}, nil
}

func OpenSQLiteDB(dbFilePath string) (*DB, error) {
	session, err := openSQLiteDB(dbFilePath)
	if err != nil {
		return nil, err
	}
	return &DB{SessionInterface: session}, nil
}

func runSQLMigrations(db *sql.DB, dialect string) error {
	m := &migrate.AssetMigrationSource{
		Asset: sqlMigrations.ReadFile,
		AssetDir: func() func(string) ([]string, error) {
			return func(path string) ([]string, error) {
				dirEntry, err := sqlMigrations.ReadDir(path)
				if err != nil {
					return nil, err
				}
				entries := make([]string, 0)
				for _, e := range dirEntry {
					entries = append(entries, e.Name())
				}

				return entries, nil
			}
		}(),
		Dir: "sqlmigrations",
	}
	_, err := migrate.ExecMax(db, dialect, m, migrate.Up, 0)
	return err
}

// ReadWriter opens write transactions against one network's database. Reads
// are served by the dedicated reader types; this interface exists for the
// ingestion path.
type ReadWriter interface {
	NewTx(ctx context.Context) (WriteTx, error)
}

// WriteTx is a single ingestion transaction, normally covering one ledger.
type WriteTx interface {
	LedgerWriter() LedgerWriter
	TransactionWriter() TransactionWriter

	Commit(ledgerSeq uint32) error
	Rollback() error
}

type readWriter struct {
	log                   *log.Entry
	db                    *DB
	ledgerRetentionWindow uint32
	passphrase            string
}

// NewReadWriter constructs a ReadWriter for ingestion, configuring how many
// historical ledgers are retained in the database.
func NewReadWriter(log *log.Entry, db *DB, ledgerRetentionWindow uint32, networkPassphrase string) ReadWriter {
	return &readWriter{
		log:                   log,
		db:                    db,
		ledgerRetentionWindow: ledgerRetentionWindow,
		passphrase:            networkPassphrase,
	}
}

func (rw *readWriter) NewTx(ctx context.Context) (WriteTx, error) {
	txSession := rw.db.Clone()
	if err := txSession.Begin(ctx); err != nil {
		return nil, err
	}
	stmtCache := sq.NewStmtCache(txSession.GetTx())

	db := rw.db
	return writeTx{
		postCommit: func() error {
			_, err := db.ExecRaw(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
			return err
		},
		tx:                    txSession,
		ledgerRetentionWindow: rw.ledgerRetentionWindow,
		ledgerWriter:          ledgerWriter{stmtCache: stmtCache},
		txWriter: transactionWriter{
			log:        rw.log,
			stmtCache:  stmtCache,
			passphrase: rw.passphrase,
		},
	}, nil
}

type writeTx struct {
	postCommit            func() error
	tx                    db.SessionInterface
	ledgerWriter          ledgerWriter
	txWriter              transactionWriter
	ledgerRetentionWindow uint32
}

func (w writeTx) LedgerWriter() LedgerWriter {
	return w.ledgerWriter
}

func (w writeTx) TransactionWriter() TransactionWriter {
	return &w.txWriter
}

func (w writeTx) Commit(ledgerSeq uint32) error {
	if err := w.ledgerWriter.trimLedgers(ledgerSeq, w.ledgerRetentionWindow); err != nil {
		return err
	}
	if err := w.txWriter.trimTransactions(ledgerSeq, w.ledgerRetentionWindow); err != nil {
		return err
	}
	if err := w.tx.Commit(); err != nil {
		return err
	}
	return w.postCommit()
}

func (w writeTx) Rollback() error {
	// errors.New("not in transaction") is returned when rolling back a transaction which has
	// already been committed or rolled back. We can ignore those errors
	// because we allow rolling back after commits in defer statements.
	if err := w.tx.Rollback(); err == nil || err.Error() == "not in transaction" {
		return nil
	} else {
		return err
	}
}
