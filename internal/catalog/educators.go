// internal/catalog/educators.go
package catalog

import (
	"context"
	"log"

	"upskill/internal/membership"
)

// Educator is the public profile shown next to a course.
type Educator struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Educators looks up the profiles of the given educator ids. Ids the user
// directory does not know yet, or a failed lookup, yield a profile with only
// the id set.
func Educators(ctx context.Context, users membership.Service, ids []string) map[string]*Educator {
	out := make(map[string]*Educator, len(ids))
	for _, id := range ids {
		out[id] = &Educator{ID: id}
	}
	if users == nil || len(ids) == 0 {
		return out
	}

	found, err := users.GetMany(ctx, ids)
	if err != nil {
		log.Printf("[catalog] educator lookup failed, listing without names: %v", err)
		return out
	}
	for id, u := range found {
		if e, ok := out[id]; ok {
			e.Name = u.Name
			e.ImageURL = u.ImageURL
		}
	}
	return out
}

// WithEducators returns the summaries of courses with their educator
// profiles attached.
func WithEducators(ctx context.Context, users membership.Service, courses []*Course) []Summary {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range courses {
		if !seen[c.EducatorID] {
			seen[c.EducatorID] = true
			ids = append(ids, c.EducatorID)
		}
	}
	educators := Educators(ctx, users, ids)

	summaries := make([]Summary, 0, len(courses))
	for _, c := range courses {
		s := c.Summary()
		s.Educator = educators[c.EducatorID]
		summaries = append(summaries, s)
	}
	return summaries
}
