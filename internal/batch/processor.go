package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

// Processor drives one item through sign, submit, poll, fetch and store.
type Processor struct {
	batches   domain.BatchRepository
	store     storage.BlobStore
	provider  enhance.Provider
	poller    *Poller
	sourceTTL time.Duration
	outputTTL time.Duration
	logger    zerolog.Logger
}

// Run claims the item and records exactly one terminal outcome for it. It
// returns the batch as seen after the terminal transition, or nil when the
// item was already owned by someone else.
func (p *Processor) Run(ctx context.Context, batch domain.Batch, item domain.Item) *domain.Batch {
	log := p.logger.With().Str("batch_id", batch.ID).Str("item_id", item.ID).Int("position", item.Position).Logger()

	claimed, ok, err := p.batches.ClaimItem(ctx, item.ID)
	if err != nil {
		log.Error().Err(err).Msg("worker: claim item failed")
		return nil
	}
	if !ok {
		log.Debug().Msg("worker: item already claimed")
		return nil
	}

	out, runErr := p.process(ctx, batch, *claimed, log)

	// Terminal writes must land even when the processing context is gone.
	writeCtx := context.WithoutCancel(ctx)
	var (
		updated      *domain.Batch
		transitioned bool
	)
	if runErr != nil {
		log.Warn().Err(runErr).Msg("worker: item failed")
		updated, transitioned, err = p.batches.FailItem(writeCtx, claimed.ID, runErr.Error())
	} else {
		log.Info().Str("output", out.Path).Int64("size", out.Size).Msg("worker: item completed")
		updated, transitioned, err = p.batches.CompleteItem(writeCtx, claimed.ID, out)
	}
	if err != nil {
		log.Error().Err(err).Msg("worker: record item outcome failed")
		return nil
	}
	if !transitioned {
		log.Warn().Msg("worker: item was already terminal")
	}
	return updated
}

func (p *Processor) process(ctx context.Context, batch domain.Batch, item domain.Item, log zerolog.Logger) (domain.ItemOutput, error) {
	mode, err := enhance.ParseMode(batch.Mode)
	if err != nil {
		return domain.ItemOutput{}, err
	}
	shape, err := enhance.ParseShape(batch.Shape)
	if err != nil {
		return domain.ItemOutput{}, err
	}

	sourceURL, _, err := p.store.SignedURL(ctx, item.SourcePath, p.sourceTTL)
	if err != nil {
		return domain.ItemOutput{}, fmt.Errorf("sign source: %w", err)
	}

	jobID, err := p.provider.Submit(ctx, enhance.BuildRequest(sourceURL, mode, shape))
	if err != nil {
		return domain.ItemOutput{}, fmt.Errorf("submit: %w", err)
	}
	if err := p.batches.SetItemExternalRef(ctx, item.ID, jobID, progressSubmitted); err != nil {
		log.Warn().Err(err).Msg("worker: store external ref failed")
	}
	log.Debug().Str("job_ref", jobID).Msg("worker: submitted to provider")

	outputURL, err := p.poller.Wait(ctx, jobID, func(progress int) {
		if err := p.batches.UpdateItemProgress(ctx, item.ID, progress); err != nil {
			log.Warn().Err(err).Msg("worker: progress update failed")
		}
	})
	if err != nil {
		return domain.ItemOutput{}, err
	}

	if err := p.batches.UpdateItemProgress(ctx, item.ID, progressFetching); err != nil {
		log.Warn().Err(err).Msg("worker: progress update failed")
	}
	data, contentType, err := p.provider.Fetch(ctx, outputURL)
	if err != nil {
		return domain.ItemOutput{}, fmt.Errorf("fetch output: %w", err)
	}
	contentType = resolveContentType(data, contentType)

	key := storage.OutputKey(batch.UserID, batch.ID, item.Position, extensionForMIME(contentType))
	if err := p.store.Put(ctx, key, data, contentType); err != nil {
		return domain.ItemOutput{}, fmt.Errorf("%w: store output: %v", domain.ErrStorageFailure, err)
	}
	signed, expires, err := p.store.SignedURL(ctx, key, p.outputTTL)
	if err != nil {
		return domain.ItemOutput{}, fmt.Errorf("%w: sign output: %v", domain.ErrStorageFailure, err)
	}
	return domain.ItemOutput{
		Path:        key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SignedURL:   signed,
		ExpiresAt:   expires,
	}, nil
}

// resolveContentType trusts the provider header only when it names an image.
func resolveContentType(data []byte, header string) string {
	header = strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if strings.HasPrefix(header, "image/") {
		return header
	}
	return mimetype.Detect(data).String()
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if m := mimetype.Lookup(mime); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
