package domain

import "time"

// BatchStatus enumerates batch lifecycle states.
type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "queued"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// ItemStatus enumerates item lifecycle states.
type ItemStatus string

const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Terminal reports whether the item has finished.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// Batch is one submitted set of images processed under a single configuration.
type Batch struct {
	ID             string
	UserID         string
	Mode           string
	Shape          string
	Locale         string
	Status         BatchStatus
	TotalItems     int
	CompletedCount int
	FailedCount    int
	CreditsCharged int64
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	IngestedAt     *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	NotifiedAt     *time.Time
}

// Finished is the number of items that reached a terminal state.
func (b Batch) Finished() int {
	return b.CompletedCount + b.FailedCount
}

// ProgressPercent reports how many items have finished, as a percentage.
func (b Batch) ProgressPercent() int {
	if b.TotalItems == 0 {
		if b.Status.Terminal() {
			return 100
		}
		return 0
	}
	return b.Finished() * 100 / b.TotalItems
}

// RecordItemOutcome counts one item's terminal transition and completes the
// batch once every item is accounted for. It returns false without changes
// when all items were already counted.
func (b *Batch) RecordItemOutcome(succeeded bool, now time.Time) bool {
	if b.Finished() >= b.TotalItems {
		return false
	}
	if succeeded {
		b.CompletedCount++
	} else {
		b.FailedCount++
	}
	b.UpdatedAt = now
	if b.Finished() == b.TotalItems {
		b.Status = BatchStatusCompleted
		b.CompletedAt = &now
	}
	return true
}

// Item is a single image tracked independently within a batch.
type Item struct {
	ID                 string
	BatchID            string
	Position           int
	OriginalName       string
	SourcePath         string
	SourceContentType  string
	OutputPath         string
	OutputContentType  string
	OutputSize         int64
	Status             ItemStatus
	Progress           int
	ExternalRef        string
	SignedURL          string
	SignedURLExpiresAt *time.Time
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CompletedAt        *time.Time
}

// ItemOutput describes a stored enhancement result.
type ItemOutput struct {
	Path        string
	ContentType string
	Size        int64
	SignedURL   string
	ExpiresAt   time.Time
}
