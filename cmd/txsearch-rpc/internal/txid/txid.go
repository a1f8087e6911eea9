package txid

import (
	"fmt"
	"strconv"
)

// ID is the position of a transaction in the chain's history, packed into a
// single unsigned 64-bit integer:
//
//	(ledger sequence << 32) | application order within the ledger
//
// Ordering over IDs is equivalent to chronological order, which is what makes
// the ID usable directly as a pagination cursor. Both halves are 32-bit
// values; the arithmetic must stay in uint64 end to end (never a float).
type ID uint64

const ledgerShift = 32

// New packs a ledger sequence and an application order into an ID.
func New(ledgerSequence uint32, applicationOrder uint32) ID {
	return ID(uint64(ledgerSequence)<<ledgerShift | uint64(applicationOrder))
}

// FromLedger returns the smallest ID belonging to the given ledger.
func FromLedger(ledgerSequence uint32) ID {
	return New(ledgerSequence, 0)
}

// LedgerSequence extracts the high 32 bits.
func (id ID) LedgerSequence() uint32 {
	return uint32(id >> ledgerShift)
}

// ApplicationOrder extracts the low 32 bits.
func (id ID) ApplicationOrder() uint32 {
	return uint32(id)
}

// String renders the ID in its canonical decimal form, which is also the
// paging token representation.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Parse decodes the canonical decimal form.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid transaction id %q: %w", s, err)
	}
	return ID(v), nil
}
