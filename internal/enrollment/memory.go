// internal/enrollment/memory.go
package enrollment

import (
	"context"
	"sync"

	"upskill/internal/ledger"

	"github.com/google/uuid"
)

type pair struct {
	userID   string
	courseID uuid.UUID
}

// MemoryIndex keeps the projection in a map guarded by a RWMutex.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[pair]Record
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[pair]Record)}
}

func (x *MemoryIndex) Project(ctx context.Context, intent ledger.Intent) (bool, error) {
	rec, err := recordFor(intent)
	if err != nil {
		return false, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	return fold(x.records, rec), nil
}

// fold merges rec into records and reports whether the pair was new.
func fold(records map[pair]Record, rec Record) bool {
	k := pair{userID: rec.UserID, courseID: rec.CourseID}
	existing, ok := records[k]
	if !ok {
		records[k] = rec
		return true
	}
	if precedes(rec, existing) {
		records[k] = rec
	}
	return false
}

func (x *MemoryIndex) IsEnrolled(ctx context.Context, userID string, courseID uuid.UUID) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.records[pair{userID: userID, courseID: courseID}]
	return ok, nil
}

func (x *MemoryIndex) Rebuild(ctx context.Context, intents []ledger.Intent) error {
	next := make(map[pair]Record)
	for _, intent := range intents {
		rec, err := recordFor(intent)
		if err != nil {
			continue
		}
		fold(next, rec)
	}

	x.mu.Lock()
	x.records = next
	x.mu.Unlock()
	return nil
}

func (x *MemoryIndex) Records(ctx context.Context) ([]Record, error) {
	return x.filter(func(Record) bool { return true }), nil
}

func (x *MemoryIndex) ByCourses(ctx context.Context, courseIDs []uuid.UUID) ([]Record, error) {
	wanted := make(map[uuid.UUID]bool, len(courseIDs))
	for _, id := range courseIDs {
		wanted[id] = true
	}
	return x.filter(func(r Record) bool { return wanted[r.CourseID] }), nil
}

func (x *MemoryIndex) ByUser(ctx context.Context, userID string) ([]Record, error) {
	return x.filter(func(r Record) bool { return r.UserID == userID }), nil
}

func (x *MemoryIndex) filter(keep func(Record) bool) []Record {
	x.mu.RLock()
	out := make([]Record, 0, len(x.records))
	for _, r := range x.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	x.mu.RUnlock()

	sortRecords(out)
	return out
}
