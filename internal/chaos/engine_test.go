package chaos

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"upskill/internal/catalog"
	"upskill/internal/enrollment"
	"upskill/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine() (*Engine, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return NewEngine(out, 50*time.Millisecond, 0), out
}

func TestRunRecordsRecoveryTime(t *testing.T) {
	engine, _ := newEngine()
	var broken atomic.Bool

	exp := Experiment{
		Name: "flapping",
		SteadyState: []Metric{{
			Name: "errors",
			Query: func(context.Context) (float64, error) {
				if broken.Load() {
					return 1, nil
				}
				return 0, nil
			},
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Target: "x", Execute: func(context.Context) error {
			broken.Store(true)
			time.AfterFunc(150*time.Millisecond, func() { broken.Store(false) })
			return nil
		}}},
		Validation: []Assertion{staysZero("errors", "recovers")},
		Duration:   500 * time.Millisecond,
	}

	result, err := engine.Run(context.Background(), exp)
	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.NotEmpty(t, result.Violations)
	require.NotNil(t, result.MTTR)
	assert.Len(t, engine.Results(), 1)
}

func TestRunAbortsOnInvalidSteadyState(t *testing.T) {
	engine, _ := newEngine()
	exp := Experiment{
		Name: "already-broken",
		SteadyState: []Metric{{
			Name:      "errors",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("unreachable") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Duration: time.Second,
	}
	result, err := engine.Run(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.Empty(t, engine.Results())
}

func TestFailedAssertionsAreReported(t *testing.T) {
	engine, out := newEngine()
	exp := Experiment{
		Name:        "stuck",
		SteadyState: []Metric{{Name: "lag", Query: func(context.Context) (float64, error) { return 3, nil }, Threshold: Threshold{Operator: ">=", Value: 0}}},
		Validation:  []Assertion{staysZero("lag", "lag drains")},
		Duration:    200 * time.Millisecond,
	}
	held, err := engine.ExecuteGameDay(context.Background(), GameDay{Name: "test", Date: time.Now(), Scenarios: []Experiment{exp}})
	require.NoError(t, err)
	assert.False(t, held)
	assert.Contains(t, out.String(), "lag drains")
}

func TestEvaluateThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true}, {"<", 2, false}, {">=", 1, true}, {"<=", 1, true}, {"==", 1, true}, {"!=", 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evaluateThreshold(tt.value, Threshold{Operator: tt.op, Value: 1}), tt.op)
	}
}

func newHarness() *Harness {
	return NewHarness(ledger.NewMemoryLedger(), enrollment.NewMemoryIndex(), catalog.NewMemoryService())
}

func TestCoreExperimentsHold(t *testing.T) {
	if testing.Short() {
		t.Skip("runs timed experiments")
	}
	h := newHarness()
	engine, out := newEngine()

	for _, exp := range []Experiment{h.DuplicateWebhookStorm(), h.OutOfOrderDelivery(10), h.ConcurrentCheckoutRace()} {
		exp.Duration = 300 * time.Millisecond
		result, err := engine.Run(context.Background(), exp)
		require.NoError(t, err, exp.Name)
		assert.True(t, result.HypothesisHeld, "%s: %v", exp.Name, result.FailedAssertions)
		assert.Empty(t, result.ErrorEvents, exp.Name)
	}
	t.Log(out.String())
}

func TestProjectionOutageIsRepairedBySweep(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the reconciliation schedule")
	}
	h := newHarness()
	engine, _ := newEngine()

	result, err := engine.Run(context.Background(), h.ProjectionOutage(200*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, result.ErrorEvents)
	assert.NotEmpty(t, result.Violations, "lag is observed while the index is down")
	assert.True(t, result.HypothesisHeld, "%v", result.FailedAssertions)
	assert.NotNil(t, result.MTTR)
}
