package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stellar/go/strkey"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
)

const (
	// DefaultLimit is the page size used when the request doesn't name one.
	DefaultLimit = 10
	// MaxLimit caps the page size regardless of what the request asks for.
	MaxLimit = 200

	maxTypeValues   = 30
	maxFilterValues = 10
)

// Params is the normalized state of one transaction query: paging parameters
// plus the raw (still symbolic) filter values. Everything here is
// request-scoped and discarded once the response is produced.
type Params struct {
	Cursor string
	Order  string
	Limit  uint

	Type        []string
	Account     []string
	Source      []string
	Destination []string
	Asset       []string
	SrcAsset    []string
	DestAsset   []string
	Offer       []string
	Pool        []string
	Memo        []string

	// From and To are unix timestamps bounding the query window.
	From *int64
	To   *int64
}

// ParseOrder validates the sort order parameter. An empty value defaults to
// descending (most recent first); anything other than asc/desc is rejected.
func ParseOrder(raw string) (search.SortOrder, error) {
	switch raw {
	case "":
		return search.SortDesc, nil
	case string(search.SortAsc):
		return search.SortAsc, nil
	case string(search.SortDesc):
		return search.SortDesc, nil
	default:
		return "", invalidf("order", "expected %q or %q, got %q", search.SortAsc, search.SortDesc, raw)
	}
}

// NormalizeLimit clamps the requested page size into [1, MaxLimit],
// defaulting when unset.
func NormalizeLimit(raw uint) uint {
	switch {
	case raw == 0:
		return DefaultLimit
	case raw > MaxLimit:
		return MaxLimit
	default:
		return raw
	}
}

// validAccountAddress reports whether s is a structurally valid account
// address (either a plain ed25519 account or a muxed account).
func validAccountAddress(s string) bool {
	return strkey.IsValidEd25519PublicKey(s) || strkey.IsValidMuxedAccountEd25519PublicKey(s)
}

var assetCodePattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,12}$`)

// canonicalAssetName canonicalizes an asset descriptor to its fully-qualified
// name: "native" for the native asset, "CODE:ISSUER" otherwise.
func canonicalAssetName(s string) (string, bool) {
	if s == "native" || s == "XLM" {
		return "native", true
	}
	code, issuer, found := strings.Cut(s, ":")
	if !found || !assetCodePattern.MatchString(code) || !strkey.IsValidEd25519PublicKey(issuer) {
		return "", false
	}
	return code + ":" + issuer, true
}

// canonicalOfferID validates an offer id and normalizes it to its canonical
// decimal form (no sign, no leading zeros).
func canonicalOfferID(s string) (int64, bool) {
	v, err := strconv.ParseUint(s, 10, 63)
	if err != nil || v == 0 {
		return 0, false
	}
	return int64(v), true
}

var poolHashPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// validPoolHash reports whether s looks like a liquidity pool id (hex-encoded
// 32-byte hash).
func validPoolHash(s string) bool {
	return poolHashPattern.MatchString(s)
}
