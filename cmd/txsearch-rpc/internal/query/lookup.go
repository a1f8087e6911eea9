package query

import (
	"context"
	"fmt"
)

// An id-or-hash longer than this cannot possibly address anything: decimal
// ids top out at 20 digits, hex hashes at 64 characters.
const maxIDOrHashLength = 64

// Lookup resolves a single transaction by its decimal id or hex hash,
// bypassing the search index entirely. Returns db.ErrNoTransaction when
// nothing matches.
func Lookup(ctx context.Context, backend Backend, idOrHash string) (TransactionInfo, error) {
	if len(idOrHash) > maxIDOrHashLength {
		return TransactionInfo{}, invalidf("id", "must be at most %d characters", maxIDOrHashLength)
	}

	tx, err := backend.Archive.GetTransactionByIDOrHash(ctx, idOrHash)
	if err != nil {
		return TransactionInfo{}, err
	}

	ledger, ok, err := backend.Ledgers.GetLedger(ctx, tx.ID.LedgerSequence())
	if err != nil {
		return TransactionInfo{}, err
	}
	if !ok {
		return TransactionInfo{}, fmt.Errorf("no metadata for ledger %d of transaction %s",
			tx.ID.LedgerSequence(), tx.ID)
	}
	return newTransactionInfo(tx, ledger.CloseTime), nil
}
