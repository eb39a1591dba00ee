package checkout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"upskill/internal/auth"
	"upskill/internal/catalog"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger  *ledger.MemoryLedger
	index   *enrollment.MemoryIndex
	courses catalog.Service
}

func newFixture() *fixture {
	return &fixture{
		ledger:  ledger.NewMemoryLedger(),
		index:   enrollment.NewMemoryIndex(),
		courses: catalog.NewMemoryService(),
	}
}

func (f *fixture) service(perMinute int) Service {
	return NewService(f.ledger, f.index, f.courses, perMinute)
}

func (f *fixture) course(t *testing.T, published bool) *catalog.Course {
	t.Helper()
	c := &catalog.Course{EducatorID: "edu_1", Title: "Go", Price: 1999, Discount: 10, Published: published}
	require.NoError(t, f.courses.Save(context.Background(), c))
	return c
}

func TestStartOpensIntentAtSalePrice(t *testing.T) {
	f := newFixture()
	c := f.course(t, true)

	session, err := f.service(0).Start(context.Background(), "user_1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1800), session.Amount)

	intent, err := f.ledger.Get(context.Background(), session.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, intent.Status)
	assert.Equal(t, int64(1800), intent.Amount)
}

func TestStartRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	published := f.course(t, true)
	draft := f.course(t, false)
	svc := f.service(0)

	_, err := svc.Start(ctx, "user_1", uuid.New())
	assert.ErrorIs(t, err, ErrCourseUnavailable)
	_, err = svc.Start(ctx, "user_1", draft.ID)
	assert.ErrorIs(t, err, ErrCourseUnavailable)
	_, err = svc.Start(ctx, "edu_1", published.ID)
	assert.ErrorIs(t, err, ErrOwnCourse)

	_, err = svc.Start(ctx, "user_1", published.ID)
	require.NoError(t, err)
	_, err = svc.Start(ctx, "user_1", published.ID)
	assert.ErrorIs(t, err, ledger.ErrDuplicateCheckout)
}

func TestStartRejectsEnrolledUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c := f.course(t, true)
	_, err := f.index.Project(ctx, ledger.Intent{ID: uuid.New(), UserID: "user_1", CourseID: c.ID, Status: ledger.StatusCompleted})
	require.NoError(t, err)

	_, err = f.service(0).Start(ctx, "user_1", c.ID)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)
}

func TestStartIsRateLimited(t *testing.T) {
	f := newFixture()
	c := f.course(t, true)
	svc := f.service(2)

	_, err := svc.Start(context.Background(), "user_1", c.ID)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), "user_2", c.ID)
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), "user_3", c.ID)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestEnrolledCourses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	c := f.course(t, true)
	_ = f.course(t, true)
	_, err := f.index.Project(ctx, ledger.Intent{ID: uuid.New(), UserID: "user_1", CourseID: c.ID, Status: ledger.StatusCompleted})
	require.NoError(t, err)

	courses, err := f.service(0).EnrolledCourses(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, c.ID, courses[0].ID)

	none, err := f.service(0).EnrolledCourses(ctx, "user_2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHandlePurchaseStatusCodes(t *testing.T) {
	f := newFixture()
	c := f.course(t, true)
	h := NewHandler(f.service(0))

	post := func(user, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: user}))
		rec := httptest.NewRecorder()
		h.HandlePurchase(rec, req)
		return rec
	}

	body := `{"course_id":"` + c.ID.String() + `"}`
	rec := post("user_1", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":1800`)

	rec = post("user_1", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkout already in progress")

	assert.Equal(t, http.StatusNotFound, post("user_1", `{"course_id":"`+uuid.NewString()+`"}`).Code)
	assert.Equal(t, http.StatusForbidden, post("edu_1", body).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, post("user_1", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("user_1", `{"course_id":"nope"}`).Code)
}
