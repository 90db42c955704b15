// Package batch creates batches, charges for them and drives their items
// through the enhancement provider.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

// AcceptedTypes lists the sniffed content types a source image may have.
var AcceptedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Options tunes limits and timings. Zero values fall back to defaults.
type Options struct {
	MaxImages       int
	MaxImageBytes   int64
	Concurrency     int
	SourceURLTTL    time.Duration
	OutputURLTTL    time.Duration
	PollInterval    time.Duration
	PollMaxAttempts int
	// StuckItemAfter is how long an item may stay processing without an
	// update before a later run fails it.
	StuckItemAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxImages < 1 {
		o.MaxImages = 10
	}
	if o.MaxImageBytes <= 0 {
		o.MaxImageBytes = 10 << 20
	}
	if o.Concurrency < 1 {
		o.Concurrency = 3
	}
	if o.SourceURLTTL <= 0 {
		o.SourceURLTTL = 10 * time.Minute
	}
	if o.OutputURLTTL <= 0 {
		o.OutputURLTTL = 24 * time.Hour
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.PollMaxAttempts < 1 {
		o.PollMaxAttempts = 60
	}
	if o.StuckItemAfter <= 0 {
		o.StuckItemAfter = o.PollInterval*time.Duration(o.PollMaxAttempts) + 10*time.Minute
	}
	return o
}

// Notifier is told once when a batch reaches its terminal state.
type Notifier interface {
	BatchFinished(ctx context.Context, b domain.Batch) error
}

// Dispatcher starts the processing phase of a batch without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID string) error
}

// Source is one uploaded image.
type Source struct {
	Filename string `validate:"required,max=255"`
	Data     []byte `validate:"required"`
}

// SubmitInput is a validated batch submission.
type SubmitInput struct {
	UserID  string   `validate:"required"`
	Mode    string   `validate:"omitempty,max=32"`
	Shape   string   `validate:"omitempty,max=32"`
	Locale  string   `validate:"omitempty,bcp47_language_tag"`
	Sources []Source `validate:"dive"`
}

// SubmitResult is returned to the submitter before any processing happens.
type SubmitResult struct {
	BatchID        string `json:"batch_id"`
	CreditsCharged int64  `json:"credits_charged"`
	TotalItems     int    `json:"total_items"`
	Rejected       int    `json:"rejected_uploads"`
}

// ProcessResult reports the aggregate state after a processing run.
type ProcessResult struct {
	BatchID   string             `json:"batch_id"`
	Status    domain.BatchStatus `json:"status"`
	Total     int                `json:"total"`
	Completed int                `json:"completed"`
	Failed    int                `json:"failed"`
}

type Orchestrator struct {
	ledger     *credits.Ledger
	batches    domain.BatchRepository
	store      storage.BlobStore
	notifier   Notifier
	dispatcher Dispatcher
	processor  *Processor
	validate   *validator.Validate
	opts       Options
	logger     zerolog.Logger
}

func NewOrchestrator(ledger *credits.Ledger, batches domain.BatchRepository, store storage.BlobStore, provider enhance.Provider, notifier Notifier, opts Options, logger zerolog.Logger) *Orchestrator {
	opts = opts.withDefaults()
	logger = logger.With().Str("component", "batch").Logger()
	return &Orchestrator{
		ledger:   ledger,
		batches:  batches,
		store:    store,
		notifier: notifier,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		logger:   logger,
		processor: &Processor{
			batches:   batches,
			store:     store,
			provider:  provider,
			poller:    NewPoller(provider, opts.PollInterval, opts.PollMaxAttempts),
			sourceTTL: opts.SourceURLTTL,
			outputTTL: opts.OutputURLTTL,
			logger:    logger,
		},
	}
}

// SetDispatcher wires the dispatch target. Without one, Submit leaves the
// batch queued for the stale sweeper.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// Options returns the effective limits.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Validate checks a submission without side effects and returns the sniffed
// content type of every source.
func (o *Orchestrator) Validate(in SubmitInput) ([]string, error) {
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := o.validate.Var(len(in.Sources), fmt.Sprintf("min=1,max=%d", o.opts.MaxImages)); err != nil {
		return nil, fmt.Errorf("%w: between 1 and %d images are required", domain.ErrValidation, o.opts.MaxImages)
	}
	if _, err := enhance.ParseMode(in.Mode); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if _, err := enhance.ParseShape(in.Shape); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	types := make([]string, len(in.Sources))
	for i, src := range in.Sources {
		if int64(len(src.Data)) > o.opts.MaxImageBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrValidation, src.Filename, o.opts.MaxImageBytes)
		}
		detected := mimetype.Detect(src.Data)
		if !mimetype.EqualsAny(detected.String(), AcceptedTypes...) {
			return nil, fmt.Errorf("%w: %s has unsupported type %s", domain.ErrValidation, src.Filename, detected.String())
		}
		types[i] = detected.String()
	}
	return types, nil
}

// Submit validates, charges and ingests a batch, then dispatches processing
// and returns without waiting for it.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	types, err := o.Validate(in)
	if err != nil {
		return nil, err
	}
	mode, _ := enhance.ParseMode(in.Mode)
	shape, _ := enhance.ParseShape(in.Shape)

	batchID := uuid.NewString()
	reference := batchReference(batchID)
	requested := int64(len(in.Sources))
	log := o.logger.With().Str("batch_id", batchID).Str("user_id", in.UserID).Logger()

	if _, err := o.ledger.ReserveAndCharge(ctx, in.UserID, requested, reference); err != nil {
		return nil, err
	}

	b := &domain.Batch{
		ID:             batchID,
		UserID:         in.UserID,
		Mode:           string(mode),
		Shape:          shape.Key,
		Locale:         in.Locale,
		Status:         domain.BatchStatusQueued,
		TotalItems:     len(in.Sources),
		CreditsCharged: requested,
	}
	if err := o.batches.CreateBatch(ctx, b); err != nil {
		o.refund(ctx, log, in.UserID, requested, reference)
		return nil, fmt.Errorf("create batch: %w", err)
	}

	stored := o.ingest(ctx, log, b, in.Sources, types)
	rejected := len(in.Sources) - stored

	if stored == 0 {
		o.abandonIngestion(ctx, log, b, "all source uploads failed")
		return &SubmitResult{BatchID: batchID, Rejected: rejected}, fmt.Errorf("%w: no source image could be stored", domain.ErrStorageFailure)
	}

	charged := requested
	if rejected > 0 && o.refund(ctx, log, in.UserID, int64(rejected), reference) {
		charged = int64(stored)
	}
	if _, err := o.batches.FinalizeIngestion(ctx, batchID, stored, charged); err != nil {
		log.Error().Err(err).Msg("batch: finalize ingestion failed")
		o.abandonIngestion(ctx, log, b, "ingestion could not be finalized")
		return &SubmitResult{BatchID: batchID, Rejected: rejected}, fmt.Errorf("finalize batch: %w", err)
	}
	log.Info().Int("items", stored).Int("rejected", rejected).Int64("credits", charged).Msg("batch: submitted")

	if o.dispatcher != nil {
		if err := o.dispatcher.Dispatch(ctx, batchID); err != nil {
			log.Warn().Err(err).Msg("batch: dispatch failed, leaving batch for the sweeper")
		}
	}
	return &SubmitResult{BatchID: batchID, CreditsCharged: charged, TotalItems: stored, Rejected: rejected}, nil
}

// ingest stores every source and inserts one item per stored source. Items
// are numbered contiguously from 1 in upload order.
func (o *Orchestrator) ingest(ctx context.Context, log zerolog.Logger, b *domain.Batch, sources []Source, types []string) int {
	stored := 0
	for i, src := range sources {
		position := stored + 1
		key := storage.SourceKey(b.UserID, b.ID, position, src.Filename)
		if err := o.store.Put(ctx, key, src.Data, types[i]); err != nil {
			log.Warn().Err(err).Str("file", src.Filename).Msg("batch: store source failed")
			continue
		}
		item := &domain.Item{
			ID:                uuid.NewString(),
			BatchID:           b.ID,
			Position:          position,
			OriginalName:      src.Filename,
			SourcePath:        key,
			SourceContentType: types[i],
			Status:            domain.ItemStatusQueued,
		}
		if err := o.batches.InsertItem(ctx, item); err != nil {
			log.Warn().Err(err).Str("file", src.Filename).Msg("batch: insert item failed")
			if rmErr := o.store.Remove(ctx, key); rmErr != nil {
				log.Warn().Err(rmErr).Str("key", key).Msg("batch: remove orphaned source failed")
			}
			continue
		}
		stored++
	}
	return stored
}

// abandonIngestion fails a batch that never finished ingesting and returns
// everything still charged for it. A batch that did get ingested meanwhile
// keeps its charge. When the failure cannot be recorded the refund is still
// issued and ReclaimAbandoned marks the batch later.
func (o *Orchestrator) abandonIngestion(ctx context.Context, log zerolog.Logger, b *domain.Batch, reason string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := o.batches.FailIngestion(ctx, b.ID, reason); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("batch: ingestion already ended, keeping charge")
			return
		}
		log.Error().Err(err).Msg("batch: mark ingestion failure failed")
	}
	refunded, err := o.ledger.RefundOutstanding(ctx, b.UserID, batchReference(b.ID))
	if err != nil {
		log.Error().Err(err).Msg("batch: refund failed")
		return
	}
	log.Info().Int64("refunded", refunded).Str("reason", reason).Msg("batch: ingestion abandoned")
}

// ReclaimAbandoned fails batches whose submission died before ingestion
// finished and refunds their charge. It returns how many it reclaimed.
func (o *Orchestrator) ReclaimAbandoned(ctx context.Context, createdBefore time.Time) (int, error) {
	batches, err := o.batches.ListAbandonedBatches(ctx, createdBefore, 50)
	if err != nil {
		return 0, fmt.Errorf("list abandoned batches: %w", err)
	}
	reclaimed := 0
	for _, b := range batches {
		log := o.logger.With().Str("batch_id", b.ID).Str("user_id", b.UserID).Logger()
		if _, err := o.batches.FailIngestion(ctx, b.ID, "ingestion abandoned"); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Error().Err(err).Msg("worker: fail abandoned batch failed")
			}
			continue
		}
		refunded, err := o.ledger.RefundOutstanding(context.WithoutCancel(ctx), b.UserID, batchReference(b.ID))
		if err != nil {
			log.Error().Err(err).Msg("worker: refund abandoned batch failed")
			continue
		}
		reclaimed++
		log.Info().Int64("refunded", refunded).Msg("worker: reclaimed abandoned batch")
	}
	return reclaimed, nil
}

func batchReference(batchID string) string {
	return "batch:" + batchID
}

func (o *Orchestrator) refund(ctx context.Context, log zerolog.Logger, userID string, amount int64, reference string) bool {
	if _, err := o.ledger.Refund(context.WithoutCancel(ctx), userID, amount, reference); err != nil {
		log.Error().Err(err).Int64("amount", amount).Msg("batch: refund failed")
		return false
	}
	return true
}

// Process runs the processing phase of a batch. Calling it again for a batch
// that is finished, or while another run owns its items, does no extra work.
// Items left processing by a run that died are failed once they have been
// quiet for longer than Options.StuckItemAfter.
func (o *Orchestrator) Process(ctx context.Context, batchID string) (*ProcessResult, error) {
	b, err := o.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	log := o.logger.With().Str("batch_id", batchID).Logger()

	if b.IngestedAt == nil {
		log.Debug().Msg("worker: batch still ingesting")
		return resultOf(b), nil
	}
	if b.Status.Terminal() {
		o.notifyOnce(ctx, log, b)
		return resultOf(b), nil
	}

	b, started, err := o.batches.StartBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("start batch: %w", err)
	}
	if started {
		log.Info().Int("items", b.TotalItems).Msg("worker: batch started")
	}

	items, err := o.batches.ListItems(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	stuckBefore := time.Now().Add(-o.opts.StuckItemAfter)
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, item := range items {
		if item.Status == domain.ItemStatusProcessing && item.UpdatedAt.Before(stuckBefore) {
			o.failStuckItem(ctx, log, item)
			continue
		}
		if item.Status != domain.ItemStatusQueued {
			continue
		}
		g.Go(func() error {
			o.processor.Run(ctx, *b, item)
			return nil
		})
	}
	_ = g.Wait()

	latest, err := o.batches.GetBatch(context.WithoutCancel(ctx), batchID)
	if err != nil {
		return nil, err
	}
	if latest.Status == domain.BatchStatusCompleted {
		o.notifyOnce(ctx, log, latest)
	}
	log.Info().Str("status", string(latest.Status)).Int("completed", latest.CompletedCount).Int("failed", latest.FailedCount).Msg("worker: batch run finished")
	return resultOf(latest), nil
}

func (o *Orchestrator) failStuckItem(ctx context.Context, log zerolog.Logger, item domain.Item) {
	_, failed, err := o.batches.FailItem(context.WithoutCancel(ctx), item.ID, "processing abandoned")
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("worker: fail stuck item failed")
		return
	}
	if failed {
		log.Warn().Str("item_id", item.ID).Time("last_update", item.UpdatedAt).Msg("worker: failed stuck item")
	}
}

// notifyOnce emits the terminal notification of a completed batch. The
// notified_at stamp guarantees a single winner across workers. When the
// notification cannot be stored the stamp is cleared so a later run retries.
func (o *Orchestrator) notifyOnce(ctx context.Context, log zerolog.Logger, b *domain.Batch) {
	if b.Status != domain.BatchStatusCompleted || b.NotifiedAt != nil || o.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	won, err := o.batches.MarkNotified(ctx, b.ID)
	if err != nil {
		log.Error().Err(err).Msg("worker: mark notified failed")
		return
	}
	if !won {
		return
	}
	if err := o.notifier.BatchFinished(ctx, *b); err != nil {
		log.Error().Err(err).Msg("worker: notification failed")
		if err := o.batches.ClearNotified(ctx, b.ID); err != nil {
			log.Error().Err(err).Msg("worker: clear notified failed, notification needs a manual replay")
		}
	}
}

// Sweep processes batches that stayed queued since before cutoff, or whose
// processing went quiet for longer than Options.StuckItemAfter, one at a
// time, until none are left. It returns how many batches it picked.
func (o *Orchestrator) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	picked := 0
	for ctx.Err() == nil {
		b, err := o.batches.ClaimStaleBatch(ctx, cutoff, time.Now().Add(-o.opts.StuckItemAfter))
		if errors.Is(err, domain.ErrNotFound) {
			return picked, nil
		}
		if err != nil {
			return picked, fmt.Errorf("claim stale batch: %w", err)
		}
		picked++
		o.logger.Info().Str("batch_id", b.ID).Msg("worker: picked stale batch")
		if _, err := o.Process(ctx, b.ID); err != nil {
			o.logger.Error().Err(err).Str("batch_id", b.ID).Msg("worker: stale batch failed")
		}
	}
	return picked, ctx.Err()
}

func resultOf(b *domain.Batch) *ProcessResult {
	return &ProcessResult{
		BatchID:   b.ID,
		Status:    b.Status,
		Total:     b.TotalItems,
		Completed: b.CompletedCount,
		Failed:    b.FailedCount,
	}
}
