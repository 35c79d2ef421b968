package pipeline

import "github.com/AlColeNS/search-expiscor-sub004/internal/models"

// Notice is one operator-visible crawl event: a per-document failure or a
// run-level fault. Notices accumulate into the crawl summary mail.
type Notice struct {
	DocID   string
	Phase   models.Phase
	Status  string
	Message string
}

// NoticeFunc receives notices as they happen. Implementations must be safe
// for concurrent use; stage workers call it from their own goroutines.
type NoticeFunc func(Notice)
