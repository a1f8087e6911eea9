package query

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
)

// TransactionInfo is the response entry: an archive record merged with its
// ledger's close timestamp. PagingToken is set (to the same value as ID) for
// list results only.
type TransactionInfo struct {
	ID          string `json:"id"`
	PagingToken string `json:"paging_token,omitempty"`
	Hash        string `json:"hash"`
	Ledger      uint32 `json:"ledger"`
	Timestamp   int64  `json:"ts"`
	EnvelopeXdr string `json:"body"`
	MetaXdr     string `json:"meta"`
	ResultXdr   string `json:"result"`
}

func newTransactionInfo(tx db.Transaction, closeTime int64) TransactionInfo {
	return TransactionInfo{
		ID:          tx.ID.String(),
		Hash:        hex.EncodeToString(tx.Hash),
		Ledger:      tx.ID.LedgerSequence(),
		Timestamp:   closeTime,
		EnvelopeXdr: base64.StdEncoding.EncodeToString(tx.Envelope),
		MetaXdr:     base64.StdEncoding.EncodeToString(tx.Meta),
		ResultXdr:   base64.StdEncoding.EncodeToString(tx.Result),
	}
}

// fuse executes the search request and enriches the hits: archive records
// and ledger metadata are fetched concurrently since neither depends on the
// other, and the first failure aborts both (no partial responses).
func (b *Builder) fuse(ctx context.Context, req search.Request) ([]TransactionInfo, error) {
	ids, err := b.backend.Index.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []TransactionInfo{}, nil
	}

	seen := make(map[uint32]struct{}, len(ids))
	sequences := make([]uint32, 0, len(ids))
	for _, id := range ids {
		seq := id.LedgerSequence()
		if _, ok := seen[seq]; !ok {
			seen[seq] = struct{}{}
			sequences = append(sequences, seq)
		}
	}

	var (
		txs     []db.Transaction
		ledgers map[uint32]db.Ledger
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		txs, err = b.backend.Archive.GetTransactions(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		ledgers, err = b.backend.Ledgers.GetLedgers(gctx, sequences)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]TransactionInfo, 0, len(txs))
	for _, tx := range txs {
		ledger, ok := ledgers[tx.ID.LedgerSequence()]
		if !ok {
			return nil, fmt.Errorf("no metadata for ledger %d of transaction %s",
				tx.ID.LedgerSequence(), tx.ID)
		}
		entry := newTransactionInfo(tx, ledger.CloseTime)
		entry.PagingToken = entry.ID
		entries = append(entries, entry)
	}
	return entries, nil
}
