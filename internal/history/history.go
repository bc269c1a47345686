// Package history maintains the per-platform testing ledger: one record per
// executed batch, grouped into daily sessions. The ledger is what the
// scheduler consults to decide where a new run resumes.
package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a batch.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// dateLayout is the day key of a Session.
const dateLayout = "2006-01-02"

// BatchRecord describes one executed (or partially executed) batch.
type BatchRecord struct {
	BatchNumber int `json:"batch_number"`

	// ActionRange is the 1-based inclusive range of global sorted indices the
	// batch covers, e.g. "1-10".
	ActionRange string `json:"action_range"`

	ActionCount  int       `json:"action_count"`
	SuccessCount int       `json:"success_count"`
	DurationMS   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
	Status       Status    `json:"status"`

	// InterruptedAt is the 0-based global index of the first action that was
	// not executed. Only set for interrupted batches.
	InterruptedAt *int `json:"interrupted_at,omitempty"`
}

// Duration returns the batch's wall-clock duration.
func (r BatchRecord) Duration() time.Duration {
	return time.Duration(r.DurationMS) * time.Millisecond
}

// Interrupted reports whether the batch stopped before finishing.
func (r BatchRecord) Interrupted() bool {
	return r.Status == StatusInterrupted
}

// Session groups the batches run on one calendar day.
type Session struct {
	ID      string        `json:"id"`
	Date    string        `json:"date"`
	Batches []BatchRecord `json:"batches"`
}

// TestingHistory is the ledger for one platform.
type TestingHistory struct {
	Platform string    `json:"platform"`
	Sessions []Session `json:"sessions"`
}

// New returns an empty ledger for platform.
func New(platform string) *TestingHistory {
	return &TestingHistory{Platform: platform}
}

// Upsert records rec in the session for now's date, creating the session if
// needed. Any existing record with the same batch number is replaced, so the
// upserted record always becomes the latest.
func (h *TestingHistory) Upsert(rec BatchRecord, now time.Time) {
	h.remove(rec.BatchNumber)

	if rec.Timestamp.IsZero() {
		rec.Timestamp = now
	}
	day := now.Format(dateLayout)
	if n := len(h.Sessions); n > 0 && h.Sessions[n-1].Date == day {
		h.Sessions[n-1].Batches = append(h.Sessions[n-1].Batches, rec)
		return
	}
	h.Sessions = append(h.Sessions, Session{
		ID:      uuid.NewString(),
		Date:    day,
		Batches: []BatchRecord{rec},
	})
}

// remove drops records with the given batch number and any session left
// empty by the removal.
func (h *TestingHistory) remove(batchNumber int) {
	kept := h.Sessions[:0]
	for _, s := range h.Sessions {
		batches := s.Batches[:0]
		removed := false
		for _, b := range s.Batches {
			if b.BatchNumber == batchNumber {
				removed = true
				continue
			}
			batches = append(batches, b)
		}
		s.Batches = batches
		if removed && len(s.Batches) == 0 {
			continue
		}
		kept = append(kept, s)
	}
	h.Sessions = kept
}

// Records returns every batch record in the order it was recorded.
func (h *TestingHistory) Records() []BatchRecord {
	if h == nil {
		return nil
	}
	var out []BatchRecord
	for _, s := range h.Sessions {
		out = append(out, s.Batches...)
	}
	return out
}

// Latest returns the most recently recorded batch.
func (h *TestingHistory) Latest() (BatchRecord, bool) {
	if h == nil {
		return BatchRecord{}, false
	}
	for i := len(h.Sessions) - 1; i >= 0; i-- {
		if b := h.Sessions[i].Batches; len(b) > 0 {
			return b[len(b)-1], true
		}
	}
	return BatchRecord{}, false
}

// LatestBatchNumber returns the highest batch number recorded, or 0.
func (h *TestingHistory) LatestBatchNumber() int {
	max := 0
	for _, r := range h.Records() {
		if r.BatchNumber > max {
			max = r.BatchNumber
		}
	}
	return max
}

// HasInterruptedBatch reports whether the latest record is interrupted.
func (h *TestingHistory) HasInterruptedBatch() bool {
	latest, ok := h.Latest()
	return ok && latest.Interrupted()
}

// LastCoveredActionIndex returns the end of the latest record's range, which
// equals the 0-based index of the next action to run. If that range cannot be
// parsed, the highest parseable end across all records is returned and
// ambiguous is true. With no parseable record the index is 0.
func (h *TestingHistory) LastCoveredActionIndex() (index int, ambiguous bool) {
	latest, ok := h.Latest()
	if !ok {
		return 0, false
	}
	if _, end, err := ParseRange(latest.ActionRange); err == nil {
		return end, false
	}

	for _, r := range h.Records() {
		if _, end, err := ParseRange(r.ActionRange); err == nil && end > index {
			index = end
		}
	}
	return index, true
}

// FormatRange renders the 1-based inclusive range covering count actions
// starting at the 0-based index start.
func FormatRange(start, count int) string {
	if count < 1 {
		count = 1
	}
	return fmt.Sprintf("%d-%d", start+1, start+count)
}

// ParseRange parses a "start-end" range. Both bounds are 1-based and
// inclusive; start must not exceed end.
func ParseRange(s string) (start, end int, err error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid action range %q: missing '-'", s)
	}
	start, err = strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid action range %q: %w", s, err)
	}
	end, err = strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid action range %q: %w", s, err)
	}
	if start < 1 || end < start {
		return 0, 0, fmt.Errorf("invalid action range %q: bounds out of order", s)
	}
	return start, end, nil
}
