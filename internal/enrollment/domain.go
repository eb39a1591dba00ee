// internal/enrollment/domain.go
package enrollment

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"upskill/internal/ledger"

	"github.com/google/uuid"
)

var ErrNotCompleted = errors.New("only completed intents grant enrollment")

// Record says a user may view a course. It exists iff some completed intent
// for the pair exists.
type Record struct {
	UserID     string    `json:"user_id" db:"user_id"`
	CourseID   uuid.UUID `json:"course_id" db:"course_id"`
	IntentID   uuid.UUID `json:"intent_id" db:"intent_id"`
	EnrolledAt time.Time `json:"enrolled_at" db:"enrolled_at"`
}

// recordFor derives the record a completed intent grants.
func recordFor(intent ledger.Intent) (Record, error) {
	if intent.Status != ledger.StatusCompleted {
		return Record{}, ErrNotCompleted
	}
	return Record{
		UserID:     intent.UserID,
		CourseID:   intent.CourseID,
		IntentID:   intent.ID,
		EnrolledAt: intent.UpdatedAt.UTC(),
	}, nil
}

// precedes reports whether a should replace b as the pair's record. The
// earliest (enrolled-at, intent id) wins, which keeps projection order-free.
func precedes(a, b Record) bool {
	if !a.EnrolledAt.Equal(b.EnrolledAt) {
		return a.EnrolledAt.Before(b.EnrolledAt)
	}
	return bytes.Compare(a.IntentID[:], b.IntentID[:]) < 0
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return bytes.Compare(a.CourseID[:], b.CourseID[:]) < 0
	})
}
