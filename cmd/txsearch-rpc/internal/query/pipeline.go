package query

import (
	"context"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/db"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/search"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/txid"
)

// searchTimeout is the fixed budget granted to one index call.
const searchTimeout = 5 * time.Second

// Builder orchestrates one transaction query: it runs the filter steps in a
// fixed order, accumulating predicates and range bounds, then executes the
// search and enriches the hits.
//
// Every step may mark the whole request unsatisfiable (a symbolic filter
// that resolves to zero matches, or an empty id range). The flag is
// monotonic and short-circuits all remaining steps, so the expensive search
// and resolver round-trips are skipped as early as possible. The trade-off
// is deliberate: validation inside skipped steps never runs for that
// request, so which of two bad filters gets reported depends on step order.
type Builder struct {
	backend Backend
	params  Params
	order   search.SortOrder
	limit   uint
	logger  *log.Entry

	rng           Range
	predicates    []search.Predicate
	unsatisfiable bool
}

// NewBuilder validates the paging parameters and prepares a pipeline run.
// The network must already be resolved to a backend via Registry.Lookup.
func NewBuilder(backend Backend, params Params, logger *log.Entry) (*Builder, error) {
	order, err := ParseOrder(params.Order)
	if err != nil {
		return nil, err
	}
	return &Builder{
		backend: backend,
		params:  params,
		order:   order,
		limit:   NormalizeLimit(params.Limit),
		logger:  logger,
	}, nil
}

type pipelineStep struct {
	name string
	run  func(ctx context.Context) error
}

// steps returns the filter steps in their fixed execution order: the cheap
// local ones first, the resolver round-trips after.
func (b *Builder) steps() []pipelineStep {
	return []pipelineStep{
		{"cursor", b.cursorStep},
		{"timestamps", b.timestampStep},
		{"id_range", b.idRangeStep},
		{"type", b.typeStep},
		{"account", b.accountStep},
		{"asset", b.assetStep},
		{"offer", b.offerStep},
		{"pool", b.poolStep},
		{"memo", b.memoStep},
	}
}

// Resolve runs the full pipeline and returns the enriched response entries.
// An unsatisfiable query yields an empty slice and no error; the index is
// never invoked for it.
func (b *Builder) Resolve(ctx context.Context) ([]TransactionInfo, error) {
	for _, step := range b.steps() {
		if err := step.run(ctx); err != nil {
			return nil, err
		}
		if b.unsatisfiable {
			b.logger.WithField("step", step.name).Debug("query unsatisfiable, skipping search")
			return []TransactionInfo{}, nil
		}
	}
	return b.fuse(ctx, b.buildRequest())
}

// buildRequest projects the accumulated predicates and paging parameters
// into a single filter-only search request.
func (b *Builder) buildRequest() search.Request {
	return search.Request{
		Predicates: b.predicates,
		Sort:       b.order,
		Size:       b.limit,
		Timeout:    searchTimeout,
	}
}

var bigOne = big.NewInt(1)

// cursorStep turns the paging cursor into a range bound: everything strictly
// after it when ascending, strictly before it when descending. A negative
// cursor is silently ignored; a non-numeric one is rejected.
func (b *Builder) cursorStep(context.Context) error {
	if b.params.Cursor == "" {
		return nil
	}
	cursor, ok := new(big.Int).SetString(b.params.Cursor, 10)
	if !ok {
		return invalidf("cursor", "invalid paging cursor %q", b.params.Cursor)
	}
	if cursor.Sign() < 0 {
		return nil
	}
	if b.order == search.SortAsc {
		b.rng.AddBottom(clampToID(new(big.Int).Add(cursor, bigOne)))
	} else {
		b.rng.AddTop(clampToID(new(big.Int).Sub(cursor, bigOne)))
	}
	return nil
}

// clampToID squeezes an arbitrary-precision bound into the id space. Values
// beyond either end saturate: no real id lives there, so a saturated bound
// keeps the same match set.
func clampToID(v *big.Int) txid.ID {
	if v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return txid.ID(^uint64(0))
	}
	return txid.ID(v.Uint64())
}

// timestampStep resolves the from/to unix timestamps to ledger sequences,
// concurrently when both are present, and folds them into the id range.
func (b *Builder) timestampStep(ctx context.Context) error {
	if b.params.From == nil && b.params.To == nil {
		return nil
	}
	var fromSeq, toSeq uint32
	g, gctx := errgroup.WithContext(ctx)
	if b.params.From != nil {
		g.Go(func() error {
			seq, err := b.backend.Ledgers.LedgerForTimestamp(gctx, *b.params.From)
			fromSeq = seq
			return err
		})
	}
	if b.params.To != nil {
		g.Go(func() error {
			seq, err := b.backend.Ledgers.LedgerForTimestamp(gctx, *b.params.To)
			toSeq = seq
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if b.params.From != nil {
		b.rng.AddBottom(txid.FromLedger(fromSeq))
	}
	if b.params.To != nil {
		b.rng.AddTop(txid.FromLedger(toSeq + 1))
	}
	return nil
}

// idRangeStep emits the single range predicate over the id field, or flags
// the request unsatisfiable when the accumulated bounds exclude everything.
func (b *Builder) idRangeStep(context.Context) error {
	if b.rng.IsEmpty() {
		return nil
	}
	if b.rng.IsUnfeasible() {
		b.unsatisfiable = true
		return nil
	}
	b.predicates = append(b.predicates, b.rng.Resolve())
	return nil
}

// typeStep expands operation type mnemonics and groups through the static
// taxonomy table and emits one de-duplicated set-membership predicate.
func (b *Builder) typeStep(context.Context) error {
	values := b.params.Type
	if len(values) == 0 {
		return nil
	}
	if len(values) > maxTypeValues {
		return invalidf("type", "at most %d values are allowed", maxTypeValues)
	}

	codes := make(map[int32]struct{})
	for _, value := range values {
		if group, ok := operationTypeGroups[value]; ok {
			for _, code := range group {
				codes[code] = struct{}{}
			}
			continue
		}
		if code, ok := operationTypeCodes[value]; ok {
			codes[code] = struct{}{}
			continue
		}
		code, err := strconv.ParseInt(value, 10, 32)
		if err != nil || code < 0 || code > maxOperationType {
			return invalidf("type", "unknown operation type %q", value)
		}
		codes[int32(code)] = struct{}{}
	}
	if len(codes) == 0 {
		return nil
	}

	sorted := make([]int64, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, int64(code))
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	b.predicates = append(b.predicates, search.Terms{Field: search.FieldType, Values: sorted})
	return nil
}

// resolveTerms validates and batch-resolves one role's symbolic values. A
// resolution with zero matches marks the request unsatisfiable instead of
// failing: the filter is legitimate, it just cannot match anything.
func (b *Builder) resolveTerms(
	ctx context.Context,
	paramName string,
	field string,
	values []string,
	valid func(string) bool,
	resolver db.Resolver,
) error {
	if len(values) == 0 {
		return nil
	}
	if len(values) > maxFilterValues {
		return invalidf(paramName, "at most %d values are allowed", maxFilterValues)
	}
	if valid != nil {
		for _, value := range values {
			if !valid(value) {
				return invalidf(paramName, "malformed value %q", value)
			}
		}
	}
	ids, err := resolver.Resolve(ctx, values)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		b.unsatisfiable = true
		return nil
	}
	b.predicates = append(b.predicates, search.Terms{Field: field, Values: ids})
	return nil
}

// accountStep handles the three account roles independently. Even once one
// role turns out unsatisfiable the remaining roles are still validated and
// resolved, so their errors are not masked within the same step.
func (b *Builder) accountStep(ctx context.Context) error {
	roles := []struct {
		param  string
		field  string
		values []string
	}{
		{"account", search.FieldAccount, b.params.Account},
		{"source", search.FieldSourceAccount, b.params.Source},
		{"destination", search.FieldDestAccount, b.params.Destination},
	}
	for _, role := range roles {
		if err := b.resolveTerms(ctx, role.param, role.field, role.values, validAccountAddress, b.backend.Accounts); err != nil {
			return err
		}
	}
	return nil
}

// assetStep mirrors accountStep with descriptors canonicalized to
// fully-qualified asset names before lookup.
func (b *Builder) assetStep(ctx context.Context) error {
	roles := []struct {
		param  string
		field  string
		values []string
	}{
		{"asset", search.FieldAsset, b.params.Asset},
		{"src_asset", search.FieldSourceAsset, b.params.SrcAsset},
		{"dest_asset", search.FieldDestAsset, b.params.DestAsset},
	}
	for _, role := range roles {
		if len(role.values) == 0 {
			continue
		}
		canonical := make([]string, len(role.values))
		for i, value := range role.values {
			name, ok := canonicalAssetName(value)
			if !ok {
				return invalidf(role.param, "malformed asset descriptor %q", value)
			}
			canonical[i] = name
		}
		if err := b.resolveTerms(ctx, role.param, role.field, canonical, nil, b.backend.Assets); err != nil {
			return err
		}
	}
	return nil
}

// offerStep needs no resolver round-trip: offer ids are already numeric,
// they just have to be validated and normalized.
func (b *Builder) offerStep(context.Context) error {
	values := b.params.Offer
	if len(values) == 0 {
		return nil
	}
	if len(values) > maxFilterValues {
		return invalidf("offer", "at most %d values are allowed", maxFilterValues)
	}
	ids := make([]int64, len(values))
	for i, value := range values {
		id, ok := canonicalOfferID(value)
		if !ok {
			return invalidf("offer", "malformed offer id %q", value)
		}
		ids[i] = id
	}
	b.predicates = append(b.predicates, search.Terms{Field: search.FieldOffer, Values: ids})
	return nil
}

func (b *Builder) poolStep(ctx context.Context) error {
	values := b.params.Pool
	if len(values) == 0 {
		return nil
	}
	if len(values) > maxFilterValues {
		return invalidf("pool", "at most %d values are allowed", maxFilterValues)
	}
	canonical := make([]string, len(values))
	for i, value := range values {
		if !validPoolHash(value) {
			return invalidf("pool", "malformed liquidity pool id %q", value)
		}
		canonical[i] = strings.ToLower(value)
	}
	return b.resolveTerms(ctx, "pool", search.FieldPool, canonical, nil, b.backend.Pools)
}

func (b *Builder) memoStep(ctx context.Context) error {
	return b.resolveTerms(ctx, "memo", search.FieldMemo, b.params.Memo, nil, b.backend.Memos)
}
