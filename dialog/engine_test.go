package dialog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/opsintent/checkpoint"
	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/completeness"
)

func testChecker(t *testing.T) *completeness.Checker {
	t.Helper()
	threshold := 0.6
	rules, err := completeness.CompileRules([]completeness.RuleSpec{{
		Category:  "INCIDENT",
		SubIntent: "etl_failure",
		Threshold: &threshold,
		RequiredFields: []completeness.FieldSpec{
			{Key: "error_message", Extractors: []completeness.ExtractorSpec{
				{Regex: `(error|failed)[:\s]+(.+)`, Group: 2},
			}},
			{Key: "occurrence_time", Extractors: []completeness.ExtractorSpec{
				{Regex: `at\s+(\d{1,2}:\d{2})`, Group: 1},
			}},
		},
	}})
	require.NoError(t, err)
	return completeness.NewChecker(rules, nil)
}

func testRefiner(t *testing.T) *Refiner {
	t.Helper()
	r, err := CompileRefinements([]RefinementSpec{{
		From:     "etl_failure",
		Category: "INCIDENT",
		Cases: []RefinementCase{{
			When: []ConditionSpec{{Field: "error_message", Contains: "disk"}},
			Then: "etl_storage_failure",
		}},
	}})
	require.NoError(t, err)
	return r
}

func testQuestions(t *testing.T) *QuestionGenerator {
	t.Helper()
	g, err := CompileQuestions([]QuestionSpec{
		{Field: "error_message", Question: "What error message did you see?"},
		{Field: "occurrence_time", Question: "When did it happen?"},
	})
	require.NoError(t, err)
	return g
}

func newTestEngine(t *testing.T, store checkpoint.Store) *Engine {
	t.Helper()
	return NewEngine(Config{
		Store:   store,
		Checker: testChecker(t),
		Refiner: testRefiner(t),
		QGen:    testQuestions(t),
	})
}

func insufficientDecision() *core.RoutingDecision {
	return &core.RoutingDecision{
		IntentCategory: core.CategoryIncident,
		SubIntent:      "etl_failure",
		Confidence:     0.95,
		RawInput:       "ETL broke",
		Completeness: core.CompletenessInfo{
			Score:         0,
			Threshold:     0.6,
			MissingFields: []string{"error_message", "occurrence_time"},
			IsSufficient:  false,
		},
	}
}

func TestStartCreatesSessionWithQuestions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	resp, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, StatusActive, resp.Status)
	assert.Equal(t, []string{
		"What error message did you see?",
		"When did it happen?",
	}, resp.Questions)

	session, err := e.Get(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, session.Status)
	require.Len(t, session.Turns, 1)
	assert.Equal(t, "assistant", session.Turns[0].Role)
}

func TestStartSufficientDecisionCompletesWithoutSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	d := insufficientDecision()
	d.Completeness.IsSufficient = true
	resp, err := e.Start(ctx, d)
	require.NoError(t, err)
	assert.Empty(t, resp.SessionID, "no session is created for a sufficient decision")
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Empty(t, resp.Questions)
	require.NotNil(t, resp.Decision)
	assert.Equal(t, d.SubIntent, resp.Decision.SubIntent)
	assert.NotSame(t, d, resp.Decision, "response carries a copy of the decision")

	_, err = e.Start(ctx, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRespondExtractsAndCompletes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	// First answer covers one of two required fields.
	resp, err := e.Respond(ctx, started.SessionID, "it failed: connection refused")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resp.Status)
	assert.Equal(t, []string{"When did it happen?"}, resp.Questions)
	assert.InDelta(t, 0.5, resp.Decision.Completeness.Score, 1e-9)

	// Second answer completes the session.
	resp, err = e.Respond(ctx, started.SessionID, "it happened at 03:15")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.True(t, resp.Decision.Completeness.IsSufficient)
	assert.Empty(t, resp.Questions)
	assert.Equal(t, "connection refused", resp.Decision.ExtractedFields["error_message"])
	assert.Equal(t, "03:15", resp.Decision.ExtractedFields["occurrence_time"])
}

func TestRespondRefinesWithinCategory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	resp, err := e.Respond(ctx, started.SessionID, "failed: disk full on worker at 03:15")
	require.NoError(t, err)
	assert.Equal(t, "etl_storage_failure", resp.Decision.SubIntent)
	assert.Equal(t, core.CategoryIncident, resp.Decision.IntentCategory,
		"refinement must never change the category")
}

func TestRespondRejectsEmptyAndTerminal(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	_, err = e.Respond(ctx, started.SessionID, "")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = e.Close(ctx, started.SessionID)
	require.NoError(t, err)
	_, err = e.Respond(ctx, started.SessionID, "too late")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRespondUnknownSession(t *testing.T) {
	e := newTestEngine(t, checkpoint.NewMemoryStore())
	_, err := e.Respond(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRespondReplaysOnConflict(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	e := newTestEngine(t, store)

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	// Concurrent writer bumps the version between load and CAS.
	conflicting := &conflictOnceStore{Store: store}
	e.store = conflicting

	resp, err := e.Respond(ctx, started.SessionID, "failed: oom at 03:15")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, 1, conflicting.injected, "first CAS conflicts, replay succeeds")
}

// conflictOnceStore forces exactly one CAS conflict by racing a no-op write
// in front of the first CAS it sees.
type conflictOnceStore struct {
	checkpoint.Store
	injected int
}

func (s *conflictOnceStore) CAS(ctx context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error) {
	if s.injected == 0 {
		s.injected++
		current, _, err := s.Store.Load(ctx, key)
		if err == nil {
			if _, err := s.Store.Save(ctx, key, current, ttl); err != nil {
				return 0, err
			}
		}
	}
	return s.Store.CAS(ctx, key, payload, expected, ttl)
}

func TestRespondExpiresIdleSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())
	now := time.Now()
	e.now = func() time.Time { return now }

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	now = now.Add(DefaultIdleTTL + time.Minute)
	_, err = e.Respond(ctx, started.SessionID, "failed: oom")
	assert.ErrorIs(t, err, core.ErrSessionExpired)

	session, err := e.Get(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, session.Status)
}

func TestRespondExhaustsMaxTurns(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())
	e.maxTurns = 2

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	resp, err := e.Respond(ctx, started.SessionID, "no idea")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resp.Status)

	resp, err = e.Respond(ctx, started.SessionID, "still no idea")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.False(t, resp.Decision.Completeness.IsSufficient)
	assert.Equal(t, true, resp.Decision.Metadata["dialog_exhausted"])
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	paused, err := e.Pause(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	assert.False(t, StatusPaused.Terminal())

	// Pausing a paused session is a no-op.
	paused, err = e.Pause(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	// The next turn resumes it.
	resp, err := e.Respond(ctx, started.SessionID, "no idea")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resp.Status)

	// Terminal sessions cannot be paused.
	_, err = e.Close(ctx, started.SessionID)
	require.NoError(t, err)
	_, err = e.Pause(ctx, started.SessionID)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	first, err := e.Close(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, first.Status, "insufficient session cancels on close")

	second, err := e.Close(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, second.Status)
}

func TestCloseCompletesSufficientSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, checkpoint.NewMemoryStore())

	started, err := e.Start(ctx, insufficientDecision())
	require.NoError(t, err)

	// One turn answers everything; the session is already completed, and a
	// close on a terminal session reports the recorded state.
	resp, err := e.Respond(ctx, started.SessionID, "failed: oom at 03:15")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, resp.Status)

	closed, err := e.Close(ctx, started.SessionID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, closed.Status)
}
