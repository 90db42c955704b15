package domain

import "time"

// Bundle is the cached archive of a completed batch's outputs.
type Bundle struct {
	BatchID         string
	UserID          string
	StoragePath     string
	SignedURL       string
	SignedURLExpiry time.Time
	Size            int64
	ItemCount       int
	CreatedAt       time.Time
}

// Reusable reports whether the signed URL stays valid beyond margin.
func (b Bundle) Reusable(now time.Time, margin time.Duration) bool {
	return b.SignedURLExpiry.After(now.Add(margin))
}
