// Package changes records plan edits and applies them to plan snapshots.
package changes

import (
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harrison/plangate/internal/models"
)

// Tracker is the ordered, append-only list of change records for one
// session. It is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	records []models.ChangeRecord
	now     func() time.Time
}

// NewTracker creates a Tracker seeded with records already accepted earlier,
// e.g. when a persisted session is reattached. Seed records are not
// re-validated.
func NewTracker(records ...models.ChangeRecord) *Tracker {
	t := &Tracker{now: time.Now}
	for _, r := range records {
		t.records = append(t.records, r.Clone())
	}
	return t
}

// Record validates change and appends a copy of it. A zero timestamp is set
// to the current time.
func (t *Tracker) Record(change models.ChangeRecord) error {
	if err := change.Validate(); err != nil {
		return err
	}
	c := change.Clone()
	if c.Timestamp.IsZero() {
		c.Timestamp = t.now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, c)
	return nil
}

// Changes returns a copy of the recorded changes in order.
func (t *Tracker) Changes() []models.ChangeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ChangeRecord, len(t.records))
	for i, r := range t.records {
		out[i] = r.Clone()
	}
	return out
}

// All returns a lazy view over the recorded changes. Each iteration starts
// from the records present at that moment; yielded values are copies.
func (t *Tracker) All() iter.Seq[models.ChangeRecord] {
	return func(yield func(models.ChangeRecord) bool) {
		t.mu.RLock()
		snapshot := t.records[:len(t.records):len(t.records)]
		t.mu.RUnlock()

		for _, r := range snapshot {
			if !yield(r.Clone()) {
				return
			}
		}
	}
}

// Len returns the number of recorded changes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Summary counts recorded changes per op and lists the touched fields.
type Summary struct {
	Added    int      `json:"added"`
	Removed  int      `json:"removed"`
	Modified int      `json:"modified"`
	Fields   []string `json:"fields,omitempty"`
}

// Total returns the number of changes summarized.
func (s Summary) Total() int {
	return s.Added + s.Removed + s.Modified
}

func (s Summary) String() string {
	if s.Total() == 0 {
		return "no changes"
	}
	return fmt.Sprintf("%d added, %d removed, %d modified (%s)",
		s.Added, s.Removed, s.Modified, strings.Join(s.Fields, ", "))
}

// Summarize builds a Summary over records.
func Summarize(records []models.ChangeRecord) Summary {
	var s Summary
	seen := map[string]bool{}
	for _, r := range records {
		switch r.Op {
		case models.OpAdd:
			s.Added++
		case models.OpRemove:
			s.Removed++
		case models.OpModify:
			s.Modified++
		}
		if !seen[r.Field] {
			seen[r.Field] = true
			s.Fields = append(s.Fields, r.Field)
		}
	}
	sort.Strings(s.Fields)
	return s
}

// Summary summarizes the recorded changes.
func (t *Tracker) Summary() Summary {
	return Summarize(t.Changes())
}
