package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/samuelhorjet/solana-forge/internal/domain/model"
	"github.com/samuelhorjet/solana-forge/internal/events"
	"github.com/samuelhorjet/solana-forge/internal/metadata"
	"github.com/samuelhorjet/solana-forge/internal/metrics"
	"github.com/samuelhorjet/solana-forge/internal/retry"
	"github.com/samuelhorjet/solana-forge/internal/solana/rpc"
	"github.com/samuelhorjet/solana-forge/internal/store"
)

// ErrReconcileInFlight is returned when a cycle is requested while another
// cycle for the same identity is still running.
var ErrReconcileInFlight = errors.New("history: reconcile already in flight")

const (
	defaultFetchLimit = 100
	defaultDecimals   = 9

	fetchAttempts  = 3
	fetchBaseDelay = 200 * time.Millisecond
)

// Trigger labels why a cycle ran.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerForced    Trigger = "forced"
	TriggerManual    Trigger = "manual"
)

// Reconciler incrementally reconstructs one identity's activity log from
// the ledger. It is safe for concurrent use; at most one reconcile cycle
// runs at a time.
type Reconciler struct {
	identity string
	ledger   rpc.LedgerClient
	decoder  *events.Decoder
	resolver metadata.Resolver
	history  store.HistoryStore
	logger   *slog.Logger
	tracer   trace.Tracer

	fetchLimit int
	nowFn      func() time.Time

	mu         sync.Mutex
	inFlight   bool
	generation uint64
	records    []model.ActivityRecord
	progress   string
	loaded     bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithFetchLimit(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.fetchLimit = n
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Reconciler) { r.tracer = tracer }
}

func withNowFn(now func() time.Time) Option {
	return func(r *Reconciler) { r.nowFn = now }
}

func NewReconciler(identity string, ledger rpc.LedgerClient, decoder *events.Decoder, resolver metadata.Resolver, history store.HistoryStore, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		identity:   identity,
		ledger:     ledger,
		decoder:    decoder,
		resolver:   resolver,
		history:    history,
		logger:     logger.With("component", "reconciler", "identity", identity),
		tracer:     noop.NewTracerProvider().Tracer("history"),
		fetchLimit: defaultFetchLimit,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Identity() string { return r.identity }

// Records returns a snapshot of the current reconciled log, newest first.
func (r *Reconciler) Records() []model.ActivityRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ActivityRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Progress returns the human-readable status of the running cycle, or an
// empty string when idle.
func (r *Reconciler) Progress() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Reset discards all in-memory state. Any in-flight cycle's results are
// dropped when it completes.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.records = nil
	r.loaded = false
}

// AppendOptimistic prepends a locally observed record ahead of ledger
// confirmation. It is a no-op when a record with the same key exists.
func (r *Reconciler) AppendOptimistic(ctx context.Context, record model.ActivityRecord) error {
	record.Optimistic = true

	// Hydrate the cached log first so an append before the first cycle
	// cannot overwrite the persisted slot with a one-record history.
	if _, err := r.prepare(ctx, false); err != nil {
		return err
	}

	r.mu.Lock()
	key := record.Key()
	for _, existing := range r.records {
		if existing.Key() == key {
			r.mu.Unlock()
			return nil
		}
	}
	r.records = append([]model.ActivityRecord{record}, r.records...)
	snapshot := make([]model.ActivityRecord, len(r.records))
	copy(snapshot, r.records)
	r.mu.Unlock()

	return r.history.Save(ctx, r.identity, snapshot)
}

// Reconcile runs one cycle: fetch new signatures since the cached boundary,
// decode and classify their events, merge into the cached log and persist.
// A forced cycle discards cached state and refetches from scratch.
func (r *Reconciler) Reconcile(ctx context.Context, trigger Trigger) ([]model.ActivityRecord, error) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return nil, ErrReconcileInFlight
	}
	r.inFlight = true
	generation := r.generation
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.progress = ""
		r.mu.Unlock()
	}()

	metrics.ReconcileCyclesTotal.WithLabelValues(r.identity, string(trigger)).Inc()
	start := r.nowFn()
	cycleID := uuid.NewString()

	ctx, span := r.tracer.Start(ctx, "history.Reconcile",
		trace.WithAttributes(
			attribute.String("identity", r.identity),
			attribute.String("trigger", string(trigger)),
			attribute.String("cycle_id", cycleID),
		))
	defer span.End()

	logger := r.logger.With("cycle_id", cycleID)
	logger.Debug("reconcile cycle started", "trigger", trigger)

	merged, err := r.cycle(ctx, trigger == TriggerForced, generation)
	metrics.ReconcileCycleLatency.WithLabelValues(r.identity).Observe(r.nowFn().Sub(start).Seconds())
	if err != nil {
		metrics.ReconcileCycleErrors.WithLabelValues(r.identity).Inc()
		span.RecordError(err)
		logger.Warn("reconcile cycle failed", "error", err)
		return nil, err
	}
	logger.Debug("reconcile cycle finished", "records", len(merged), "duration", r.nowFn().Sub(start))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != generation {
		// Identity state was reset mid-cycle. Drop the results.
		r.logger.Debug("discarding stale reconcile results")
		return nil, nil
	}
	r.records = merged

	out := make([]model.ActivityRecord, len(merged))
	copy(out, merged)
	return out, nil
}

func (r *Reconciler) cycle(ctx context.Context, force bool, generation uint64) ([]model.ActivityRecord, error) {
	cached, err := r.prepare(ctx, force)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(cached))
	for _, rec := range cached {
		known[rec.Signature] = true
	}

	opts := &rpc.GetSignaturesOpts{Limit: r.fetchLimit}
	if boundary := fetchBoundary(cached); boundary != "" {
		opts.Until = boundary
	}

	var sigs []rpc.SignatureInfo
	err = retry.Do(ctx, fetchAttempts, fetchBaseDelay, func() error {
		var ferr error
		sigs, ferr = r.ledger.GetSignaturesForAddress(ctx, r.identity, opts)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch signatures: %w", err)
	}

	var fresh []model.ActivityRecord
	for i, sig := range sigs {
		r.setProgress(fmt.Sprintf("Processing transaction %d/%d...", i+1, len(sigs)))

		if known[sig.Signature] {
			metrics.ReconcileTxSkipped.WithLabelValues(r.identity, "known").Inc()
			continue
		}

		records, err := r.processTransaction(ctx, sig)
		if err != nil {
			// One bad transaction must not poison the cycle.
			metrics.ReconcileTxSkipped.WithLabelValues(r.identity, "error").Inc()
			r.logger.Warn("skipping transaction", "signature", sig.Signature, "error", err)
			continue
		}
		metrics.ReconcileTxProcessed.WithLabelValues(r.identity).Inc()
		fresh = append(fresh, records...)
	}

	merged := mergeRecords(fresh, cached)
	metrics.ReconcileRecordsMerged.WithLabelValues(r.identity).Add(float64(len(merged) - len(cached)))

	// A Reset during the fetch means these results belong to a previous
	// lifetime of this identity. They must not reach the slot either.
	r.mu.Lock()
	stale := r.generation != generation
	r.mu.Unlock()
	if stale {
		return nil, nil
	}

	if err := r.history.Save(ctx, r.identity, merged); err != nil {
		return nil, fmt.Errorf("persist history: %w", err)
	}
	return merged, nil
}

// prepare returns the cached baseline for a cycle. A forced cycle clears
// both the persistent slot and the in-memory view before fetching.
func (r *Reconciler) prepare(ctx context.Context, force bool) ([]model.ActivityRecord, error) {
	if force {
		if err := r.history.Clear(ctx, r.identity); err != nil {
			return nil, fmt.Errorf("clear history: %w", err)
		}
		r.mu.Lock()
		r.records = nil
		r.loaded = true
		r.mu.Unlock()
		return nil, nil
	}

	r.mu.Lock()
	loaded := r.loaded
	cached := make([]model.ActivityRecord, len(r.records))
	copy(cached, r.records)
	r.mu.Unlock()

	if loaded {
		return cached, nil
	}

	persisted, err := r.history.Load(ctx, r.identity)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	r.mu.Lock()
	r.records = persisted
	r.loaded = true
	cached = make([]model.ActivityRecord, len(persisted))
	copy(cached, persisted)
	r.mu.Unlock()
	return cached, nil
}

// processTransaction turns one confirmed signature into zero or more
// activity records. Transactions without retrievable detail are skipped.
func (r *Reconciler) processTransaction(ctx context.Context, sig rpc.SignatureInfo) ([]model.ActivityRecord, error) {
	var tx *rpc.TransactionResult
	err := retry.Do(ctx, fetchAttempts, fetchBaseDelay, func() error {
		var ferr error
		tx, ferr = r.ledger.GetTransaction(ctx, sig.Signature)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	if tx == nil || tx.Meta == nil {
		return nil, fmt.Errorf("transaction detail unavailable")
	}

	outcome := model.OutcomeSuccess
	if tx.Meta.Err != nil {
		outcome = model.OutcomeFailed
	}

	occurredAt := r.nowFn().UnixMilli()
	if tx.BlockTime != nil {
		occurredAt = *tx.BlockTime * 1000
	}

	var out []model.ActivityRecord
	var burns []model.ActivityRecord

	for _, ev := range r.decoder.DecodeLogs(tx.Meta.LogMessages) {
		record, ok := r.buildRecord(ctx, sig.Signature, ev, tx.Meta, occurredAt, outcome)
		if !ok {
			continue
		}
		if record.Kind == model.KindWalletBurn {
			burns = append(burns, record)
			continue
		}
		out = append(out, record)
	}

	// Several wallet burns inside one transaction collapse into a single
	// synthetic batch record.
	if len(burns) > 1 {
		out = append(out, collapseBurns(sig.Signature, burns, occurredAt, outcome))
	} else {
		out = append(out, burns...)
	}
	return out, nil
}

func (r *Reconciler) buildRecord(ctx context.Context, signature string, ev events.Event, meta *rpc.TransactionMeta, occurredAt int64, outcome model.Outcome) (model.ActivityRecord, bool) {
	record := model.ActivityRecord{
		Signature:  signature,
		Kind:       ev.Kind,
		OccurredAt: occurredAt,
		Outcome:    outcome,
	}

	switch p := ev.Payload.(type) {
	case events.BatchBurnPayload:
		return r.buildBatchRecord(ctx, record, p, meta), true

	case events.BurnPayload:
		record.AssetID = p.Mint
		r.applyQuantity(&record, p.Amount, meta)

	case events.LockPayload:
		record.AssetID = p.Mint
		record.LockID = fmt.Sprintf("%d", p.LockID)
		r.applyQuantity(&record, p.Amount, meta)

	case events.TransferPayload:
		record.AssetID = p.Mint
		record.Recipient = p.To
		r.applyQuantity(&record, p.Amount, meta)

	case events.MintPayload:
		record.AssetID = p.Mint
		r.applyQuantity(&record, p.Amount, meta)

	case events.WithdrawPayload:
		record.AssetID = p.Mint
		record.LockID = fmt.Sprintf("%d", p.LockID)
		r.applyQuantity(&record, p.Amount, meta)

	case events.VaultClosePayload:
		record.AssetID = p.Mint
		record.LockID = fmt.Sprintf("%d", p.LockID)

	case events.MetadataPayload:
		record.AssetID = p.Mint
		record.Name = p.Name
		record.Symbol = p.Symbol
		record.URI = p.URI
		return record, true

	case events.CreatePayload:
		record.AssetID = p.Mint
		record.Name = p.Name
		record.Symbol = p.Symbol
		record.URI = p.URI
		r.applyQuantity(&record, p.Supply, meta)
		record.Image = r.resolver.FetchImage(ctx, p.URI)
		return record, true

	default:
		return model.ActivityRecord{}, false
	}

	r.enrich(ctx, &record)
	return record, true
}

func (r *Reconciler) buildBatchRecord(ctx context.Context, record model.ActivityRecord, p events.BatchBurnPayload, meta *rpc.TransactionMeta) model.ActivityRecord {
	record.Kind = model.KindBatchBurn
	record.AssetID = model.MultipleAssets
	record.Symbol = model.BatchSymbol

	var total float64
	components := make([]model.BatchComponent, 0, len(p.Mints))
	for i, mint := range p.Mints {
		var amount uint64
		if i < len(p.Amounts) {
			amount = p.Amounts[i]
		}
		decimals := tokenDecimals(meta, mint)
		quantity := adjustQuantity(amount, decimals)
		total += quantity

		tokenMeta := r.resolver.Resolve(ctx, mint)
		components = append(components, model.BatchComponent{
			AssetID:  mint,
			Symbol:   tokenMeta.Symbol,
			Quantity: quantity,
			Image:    r.resolver.FetchImage(ctx, tokenMeta.URI),
			Decimals: decimals,
		})
	}

	record.Quantity = &total
	record.Components = components
	return record
}

// applyQuantity converts a raw on-chain amount to a display quantity using
// the mint's decimals. Unquantified kinds keep a nil quantity.
func (r *Reconciler) applyQuantity(record *model.ActivityRecord, rawAmount uint64, meta *rpc.TransactionMeta) {
	if !record.Kind.Quantified() {
		return
	}
	decimals := tokenDecimals(meta, record.AssetID)
	quantity := adjustQuantity(rawAmount, decimals)
	record.Quantity = &quantity
	record.Decimals = &decimals
}

func (r *Reconciler) enrich(ctx context.Context, record *model.ActivityRecord) {
	if record.AssetID == "" {
		return
	}
	tokenMeta := r.resolver.Resolve(ctx, record.AssetID)
	record.Name = tokenMeta.Name
	record.Symbol = tokenMeta.Symbol
	record.URI = tokenMeta.URI
	record.Image = r.resolver.FetchImage(ctx, tokenMeta.URI)
}

func (r *Reconciler) setProgress(msg string) {
	r.mu.Lock()
	r.progress = msg
	r.mu.Unlock()
}

// fetchBoundary returns the newest confirmed signature in the cached log.
// Optimistic records are ignored so a pending local append can never mask
// unfetched ledger history.
func fetchBoundary(cached []model.ActivityRecord) string {
	for _, rec := range cached {
		if !rec.Optimistic {
			return rec.Signature
		}
	}
	return ""
}

// mergeRecords prepends fresh records to the cached log and deduplicates
// by (signature, kind, asset), keeping the first occurrence.
func mergeRecords(fresh, cached []model.ActivityRecord) []model.ActivityRecord {
	merged := make([]model.ActivityRecord, 0, len(fresh)+len(cached))
	seen := make(map[model.RecordKey]bool, len(fresh)+len(cached))
	for _, rec := range append(fresh, cached...) {
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, rec)
	}
	return merged
}

// collapseBurns folds multiple wallet burns of one transaction into a
// synthetic batch record.
func collapseBurns(signature string, burns []model.ActivityRecord, occurredAt int64, outcome model.Outcome) model.ActivityRecord {
	var total float64
	components := make([]model.BatchComponent, 0, len(burns))
	for _, b := range burns {
		var quantity float64
		if b.Quantity != nil {
			quantity = *b.Quantity
		}
		decimals := defaultDecimals
		if b.Decimals != nil {
			decimals = *b.Decimals
		}
		total += quantity
		components = append(components, model.BatchComponent{
			AssetID:  b.AssetID,
			Symbol:   b.Symbol,
			Quantity: quantity,
			Image:    b.Image,
			Decimals: decimals,
		})
	}
	return model.ActivityRecord{
		Signature:  signature,
		Kind:       model.KindBatchBurn,
		AssetID:    model.MultipleAssets,
		Symbol:     model.BatchSymbol,
		Quantity:   &total,
		OccurredAt: occurredAt,
		Outcome:    outcome,
		Components: components,
	}
}

func tokenDecimals(meta *rpc.TransactionMeta, mint string) int {
	if meta != nil {
		for _, balance := range meta.PostTokenBalances {
			if balance.Mint == mint {
				return balance.UITokenAmount.Decimals
			}
		}
	}
	return defaultDecimals
}

func adjustQuantity(rawAmount uint64, decimals int) float64 {
	return float64(rawAmount) / math.Pow10(decimals)
}
