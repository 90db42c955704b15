package notify

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/locale"
)

type messages struct {
	titleDone    string
	titleFailed  string
	bodySummary  string
	bodyFailures string
}

var catalog = map[string]messages{
	locale.English: {
		titleDone:    "Your %s photos are ready",
		titleFailed:  "We could not enhance your %s photos",
		bodySummary:  "%d of %d photos enhanced.",
		bodyFailures: " %d failed and can be retried.",
	},
	locale.Indonesian: {
		titleDone:    "Foto %s kamu sudah siap",
		titleFailed:  "Foto %s kamu gagal diproses",
		bodySummary:  "%d dari %d foto berhasil diproses.",
		bodyFailures: " %d gagal dan bisa dicoba lagi.",
	},
}

// batchFinishedText renders the terminal notification for a batch.
func batchFinishedText(b domain.Batch) (string, string) {
	loc := locale.Normalize(b.Locale)
	msg := catalog[loc]
	tag := language.English
	if loc == locale.Indonesian {
		tag = language.Indonesian
	}
	mode := cases.Title(tag).String(b.Mode)

	title := fmt.Sprintf(msg.titleDone, mode)
	if b.CompletedCount == 0 {
		title = fmt.Sprintf(msg.titleFailed, mode)
	}
	body := fmt.Sprintf(msg.bodySummary, b.CompletedCount, b.TotalItems)
	if b.FailedCount > 0 {
		body += fmt.Sprintf(msg.bodyFailures, b.FailedCount)
	}
	return title, body
}
