package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"
	"upskill/internal/membership"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger  *ledger.MemoryLedger
	index   *enrollment.MemoryIndex
	courses catalog.Service
	users   membership.Service
	agg     *Aggregator
}

func newFixture() *fixture {
	f := &fixture{
		ledger:  ledger.NewMemoryLedger(),
		index:   enrollment.NewMemoryIndex(),
		courses: catalog.NewMemoryService(),
		users:   membership.NewMemoryService(),
	}
	f.agg = NewAggregator(f.ledger, f.index, f.courses, f.users)
	return f
}

func (f *fixture) course(t *testing.T, educator, title string) uuid.UUID {
	t.Helper()
	c := &catalog.Course{EducatorID: educator, Title: title, Price: 100, Published: true}
	require.NoError(t, f.courses.Save(context.Background(), c))
	return c.ID
}

func (f *fixture) purchase(t *testing.T, user string, course uuid.UUID, amount int64, outcome ledger.Status) {
	t.Helper()
	ctx := context.Background()
	id, err := f.ledger.Open(ctx, user, course, amount)
	require.NoError(t, err)
	if outcome == ledger.StatusPending {
		return
	}
	res, err := f.ledger.Resolve(ctx, "evt_"+id.String(), id, outcome)
	require.NoError(t, err)
	if outcome == ledger.StatusCompleted {
		_, err = f.index.Project(ctx, res.Intent)
		require.NoError(t, err)
	}
}

func TestDashboardCountsOnlyCompleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.course(t, "edu_1", "Go")
	b := f.course(t, "edu_1", "SQL")
	other := f.course(t, "edu_2", "Rust")

	require.NoError(t, f.users.Upsert(ctx, &membership.User{ID: "alice", Name: "Alice", Email: "alice@example.com"}))

	f.purchase(t, "alice", a, 10, ledger.StatusCompleted)
	f.purchase(t, "bob", b, 20, ledger.StatusCompleted)
	f.purchase(t, "carol", a, 15, ledger.StatusPending)
	f.purchase(t, "dave", b, 99, ledger.StatusFailed)
	f.purchase(t, "erin", other, 500, ledger.StatusCompleted)

	d, err := f.agg.Dashboard(ctx, "edu_1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.TotalCourses)
	assert.Equal(t, int64(30), d.TotalEarnings)
	require.Len(t, d.EnrolledStudents, 2)

	byStudent := map[string]Enrollment{}
	for _, e := range d.EnrolledStudents {
		byStudent[e.Student.ID] = e
	}
	assert.Equal(t, "Alice", byStudent["alice"].Student.Name)
	assert.Equal(t, "Go", byStudent["alice"].CourseTitle)
	assert.Empty(t, byStudent["bob"].Student.Name, "unknown users appear with id only")
	assert.Equal(t, "SQL", byStudent["bob"].CourseTitle)
	assert.False(t, byStudent["bob"].PurchaseDate.IsZero())
}

func TestDashboardWithoutCourses(t *testing.T) {
	f := newFixture()
	f.purchase(t, "alice", f.course(t, "edu_2", "Rust"), 10, ledger.StatusCompleted)

	d, err := f.agg.Dashboard(context.Background(), "edu_1")
	require.NoError(t, err)
	assert.Zero(t, d.TotalCourses)
	assert.Zero(t, d.TotalEarnings)
	assert.Empty(t, d.EnrolledStudents)
}

type repeatingLedger struct{ ledger.Ledger }

func (l repeatingLedger) Completed(ctx context.Context, ids []uuid.UUID) ([]ledger.Intent, error) {
	intents, err := l.Ledger.Completed(ctx, ids)
	return append(intents, intents...), err
}

func TestDashboardCountsEachIntentOnce(t *testing.T) {
	f := newFixture()
	f.agg = NewAggregator(repeatingLedger{f.ledger}, f.index, f.courses, f.users)
	f.purchase(t, "alice", f.course(t, "edu_1", "Go"), 40, ledger.StatusCompleted)

	d, err := f.agg.Dashboard(context.Background(), "edu_1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), d.TotalEarnings)
}

func TestHandlers(t *testing.T) {
	f := newFixture()
	f.purchase(t, "alice", f.course(t, "edu_1", "Go"), 40, ledger.StatusCompleted)
	h := NewHandler(f.agg)

	req := httptest.NewRequest(http.MethodGet, "/educator/dashboard", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: "edu_1", Role: auth.RoleEducator}))

	rec := httptest.NewRecorder()
	h.HandleDashboard(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_earnings":40`)

	rec = httptest.NewRecorder()
	h.HandleEnrolledStudents(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"course_title":"Go"`)

	rec = httptest.NewRecorder()
	h.HandleCourses(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"enrollments":1`)
}

func TestCoursesCountsEnrollments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.users.Upsert(ctx, &membership.User{ID: "edu_1", Name: "Ada", Email: "ada@example.com"}))

	a := f.course(t, "edu_1", "Go")
	draft := &catalog.Course{EducatorID: "edu_1", Title: "Draft", Price: 100}
	require.NoError(t, f.courses.Save(ctx, draft))
	f.course(t, "edu_2", "Rust")

	f.purchase(t, "alice", a, 10, ledger.StatusCompleted)
	f.purchase(t, "bob", a, 10, ledger.StatusCompleted)
	f.purchase(t, "carol", a, 10, ledger.StatusPending)

	stats, err := f.agg.Courses(ctx, "edu_1")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byTitle := map[string]CourseStats{}
	for _, s := range stats {
		byTitle[s.Title] = s
	}
	assert.Equal(t, 2, byTitle["Go"].Enrollments)
	assert.True(t, byTitle["Go"].Published)
	assert.Zero(t, byTitle["Draft"].Enrollments)
	assert.False(t, byTitle["Draft"].Published)
	require.NotNil(t, byTitle["Go"].Educator)
	assert.Equal(t, "Ada", byTitle["Go"].Educator.Name)

	none, err := f.agg.Courses(ctx, "edu_3")
	require.NoError(t, err)
	assert.Empty(t, none)
}
