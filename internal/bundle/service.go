// Package bundle builds and caches the downloadable archive of a completed
// batch.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/storage"
	archive "github.com/davidkvd/nomnom-studio/pkg/zip"
)

// ReuseMargin is how long a cached link must stay valid to be handed out.
const ReuseMargin = 60 * time.Second

type Options struct {
	URLTTL     time.Duration
	FetchBatch int
}

// Result is what the caller needs to download a bundle.
type Result struct {
	SignedURL string    `json:"signed_url"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
	ItemCount int       `json:"item_count"`
	Cached    bool      `json:"cached"`
}

type Service struct {
	batches    domain.BatchRepository
	bundles    domain.BundleRepository
	store      storage.BlobStore
	ttl        time.Duration
	fetchBatch int
	now        func() time.Time
	group      singleflight.Group
	logger     zerolog.Logger
}

func NewService(batches domain.BatchRepository, bundles domain.BundleRepository, store storage.BlobStore, opts Options, logger zerolog.Logger) *Service {
	if opts.URLTTL <= 0 {
		opts.URLTTL = time.Hour
	}
	if opts.FetchBatch < 1 {
		opts.FetchBatch = 5
	}
	return &Service{
		batches:    batches,
		bundles:    bundles,
		store:      store,
		ttl:        opts.URLTTL,
		fetchBatch: opts.FetchBatch,
		now:        time.Now,
		logger:     logger.With().Str("component", "bundle").Logger(),
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// GetOrBuild returns a reusable cached bundle or builds a fresh one.
// Concurrent requests for the same batch share one build.
func (s *Service) GetOrBuild(ctx context.Context, userID, batchID string) (*Result, error) {
	b, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%w: batch belongs to another user", domain.ErrForbidden)
	}
	if b.Status != domain.BatchStatusCompleted {
		return nil, domain.ErrBatchNotReady
	}

	v, err, shared := s.group.Do(batchID, func() (any, error) {
		return s.getOrBuild(context.WithoutCancel(ctx), b)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	if shared {
		s.logger.Debug().Str("batch_id", batchID).Msg("bundle: shared in-flight build")
	}
	return &res, nil
}

func (s *Service) getOrBuild(ctx context.Context, b *domain.Batch) (*Result, error) {
	filename := Filename(b)
	cached, err := s.bundles.GetBundle(ctx, b.ID)
	switch {
	case err == nil && cached.Reusable(s.now(), ReuseMargin):
		s.logger.Debug().Str("batch_id", b.ID).Msg("bundle: cache hit")
		return &Result{
			SignedURL: cached.SignedURL,
			Filename:  filename,
			ExpiresAt: cached.SignedURLExpiry,
			Size:      cached.Size,
			ItemCount: cached.ItemCount,
			Cached:    true,
		}, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load bundle: %w", err)
	}

	items, err := s.batches.ListCompletedItems(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list completed items: %w", err)
	}
	if len(items) == 0 {
		return nil, domain.ErrNothingToBundle
	}

	entries, err := s.fetch(ctx, items)
	if err != nil {
		return nil, err
	}
	data, err := archive.Archive(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageFailure, err)
	}

	key := storage.BundleKey(b.UserID, b.ID)
	if err := s.store.Put(ctx, key, data, "application/zip"); err != nil {
		return nil, fmt.Errorf("%w: store bundle: %v", domain.ErrStorageFailure, err)
	}
	url, expires, err := s.store.SignedURL(ctx, key, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: sign bundle: %v", domain.ErrStorageFailure, err)
	}
	record := &domain.Bundle{
		BatchID:         b.ID,
		UserID:          b.UserID,
		StoragePath:     key,
		SignedURL:       url,
		SignedURLExpiry: expires,
		Size:            int64(len(data)),
		ItemCount:       len(entries),
	}
	if err := s.bundles.UpsertBundle(ctx, record); err != nil {
		return nil, fmt.Errorf("save bundle: %w", err)
	}
	s.logger.Info().Str("batch_id", b.ID).Int("items", len(entries)).Int("bytes", len(data)).Msg("bundle: built")
	return &Result{
		SignedURL: url,
		Filename:  filename,
		ExpiresAt: expires,
		Size:      record.Size,
		ItemCount: record.ItemCount,
	}, nil
}

// fetch downloads outputs in fixed-size groups to bound in-flight transfers.
func (s *Service) fetch(ctx context.Context, items []domain.Item) ([]archive.Entry, error) {
	entries := make([]archive.Entry, len(items))
	for start := 0; start < len(items); start += s.fetchBatch {
		end := min(start+s.fetchBatch, len(items))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			it := items[i]
			g.Go(func() error {
				data, _, err := s.store.Get(gctx, it.OutputPath)
				if err != nil {
					return fmt.Errorf("%w: fetch item %d: %v", domain.ErrStorageFailure, it.Position, err)
				}
				modified := it.UpdatedAt
				if it.CompletedAt != nil {
					modified = *it.CompletedAt
				}
				entries[i] = archive.Entry{Name: EntryName(it), Data: data, Modified: modified}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// EntryName encodes the position and original filename of an item, keeping
// the extension of the stored output.
func EntryName(it domain.Item) string {
	base := storage.SafeName(it.OriginalName)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" {
		base = "image"
	}
	ext := path.Ext(it.OutputPath)
	return fmt.Sprintf("%02d-%s%s", it.Position, base, ext)
}

// Filename is the download name offered for a batch archive.
func Filename(b *domain.Batch) string {
	id := b.ID
	if len(id) > 8 {
		id = id[:8]
	}
	mode := b.Mode
	if mode == "" {
		mode = "enhance"
	}
	return fmt.Sprintf("nomnom-%s-%s.zip", mode, id)
}
