// internal/access/gate.go
package access

import (
	"context"
	"log"

	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/enrollment"
)

// Viewer is who is looking at a course. The zero value is anonymous.
type Viewer struct {
	UserID string
}

// ViewerFrom derives the viewer from a verified identity, which may be nil.
func ViewerFrom(id *auth.Identity) Viewer {
	if id == nil {
		return Viewer{}
	}
	return Viewer{UserID: id.UserID}
}

func (v Viewer) Anonymous() bool { return v.UserID == "" }

// Capabilities is what a viewer may do with one course.
type Capabilities struct {
	Anonymous  bool `json:"anonymous"`
	IsEducator bool `json:"is_educator"`
	IsEnrolled bool `json:"is_enrolled"`
}

// View is a course as one viewer may see it.
type View struct {
	Course       *catalog.Course   `json:"course"`
	Educator     *catalog.Educator `json:"educator,omitempty"`
	Rating       int               `json:"rating"`
	RatingCount  int               `json:"rating_count"`
	Capabilities Capabilities      `json:"capabilities"`
}

// CanOpen reports whether the viewer may open the course at all. Drafts
// stay open to their educator and to anyone who already bought them.
func (c Capabilities) CanOpen(course *catalog.Course) bool {
	return course.Published || c.IsEducator || c.IsEnrolled
}

// Gate decides which lecture locators a viewer may see.
type Gate struct {
	index enrollment.Index
}

func NewGate(index enrollment.Index) *Gate {
	return &Gate{index: index}
}

// Capabilities resolves what viewer may do with course. An index failure
// counts as not enrolled.
func (g *Gate) Capabilities(ctx context.Context, course *catalog.Course, viewer Viewer) Capabilities {
	caps := Capabilities{Anonymous: viewer.Anonymous()}
	if caps.Anonymous {
		return caps
	}
	caps.IsEducator = viewer.UserID == course.EducatorID
	if caps.IsEducator {
		return caps
	}
	enrolled, err := g.index.IsEnrolled(ctx, viewer.UserID, course.ID)
	if err != nil {
		log.Printf("[access] enrollment lookup failed for %s on %s, denying: %v", viewer.UserID, course.ID, err)
		return caps
	}
	caps.IsEnrolled = enrolled
	return caps
}

// Render returns a redacted copy of course. A lecture keeps its URL only
// when the viewer owns the course, is enrolled, or the lecture is a free
// preview. The input course is never modified.
func (g *Gate) Render(ctx context.Context, course *catalog.Course, viewer Viewer) View {
	return render(course, g.Capabilities(ctx, course, viewer))
}

func render(course *catalog.Course, caps Capabilities) View {
	view := View{
		Course:       course.Clone(),
		Rating:       course.AverageRating(),
		RatingCount:  len(course.Ratings),
		Capabilities: caps,
	}
	view.Course.Ratings = nil

	if caps.IsEducator || caps.IsEnrolled {
		return view
	}
	for i := range view.Course.Chapters {
		lectures := view.Course.Chapters[i].Lectures
		for j := range lectures {
			if !lectures[j].PreviewFree {
				lectures[j].URL = ""
			}
		}
	}
	return view
}
