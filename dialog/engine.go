package dialog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/checkpoint"
	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/completeness"
	"github.com/hrygo/opsintent/metrics"
)

const (
	// DefaultIdleTTL expires a session after this much inactivity.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultMaxTurns bounds user turns before the dialog gives up asking
	// and hands back whatever it has.
	DefaultMaxTurns = 5

	keyPrefix = "dialog/"
)

// Engine drives guided dialogs over the checkpoint store. All session
// mutations go through CAS so concurrent responders cannot silently
// clobber each other's turns.
type Engine struct {
	store    checkpoint.Store
	checker  *completeness.Checker
	refiner  *Refiner
	qgen     *QuestionGenerator
	metrics  *metrics.Metrics
	idleTTL  time.Duration
	maxTurns int
	now      func() time.Time
}

// Config assembles an Engine.
type Config struct {
	Store    checkpoint.Store
	Checker  *completeness.Checker
	Refiner  *Refiner
	QGen     *QuestionGenerator
	Metrics  *metrics.Metrics
	IdleTTL  time.Duration // default DefaultIdleTTL
	MaxTurns int           // default DefaultMaxTurns
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Engine{
		store:    cfg.Store,
		checker:  cfg.Checker,
		refiner:  cfg.Refiner,
		qgen:     cfg.QGen,
		metrics:  cfg.Metrics,
		idleTTL:  cfg.IdleTTL,
		maxTurns: cfg.MaxTurns,
		now:      time.Now,
	}
}

// Response is what a dialog operation hands back to the caller.
type Response struct {
	SessionID string                `json:"session_id"`
	Status    SessionStatus         `json:"status"`
	Decision  *core.RoutingDecision `json:"decision"`
	Questions []string              `json:"questions,omitempty"`
}

// Start opens a session for a decision that lacks required fields. A decision
// that is already sufficient needs no dialog: Start hands it straight back as
// a completed response without creating a session.
func (e *Engine) Start(ctx context.Context, decision *core.RoutingDecision) (*Response, error) {
	if decision == nil {
		return nil, errors.Wrap(core.ErrValidation, "dialog: decision required")
	}
	if decision.Completeness.IsSufficient {
		return &Response{
			Status:   StatusCompleted,
			Decision: decision.Clone(),
		}, nil
	}

	now := e.now()
	questions := e.qgen.Generate(decision.Completeness.MissingFields)
	session := &Session{
		ID:              uuid.NewString(),
		Status:          StatusActive,
		InitialDecision: decision.Clone(),
		CurrentDecision: decision.Clone(),
		Fields:          cloneFields(decision.ExtractedFields),
		CreatedAt:       now,
		UpdatedAt:       now,
		Turns: []Turn{{
			Role:      "assistant",
			Questions: questions,
			At:        now,
		}},
	}

	if err := e.persistNew(ctx, session); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.AddActiveDialogs(1)
	}
	slog.Info("dialog session started",
		"session_id", session.ID,
		"category", decision.IntentCategory,
		"sub_intent", decision.SubIntent,
		"missing", decision.Completeness.MissingFields)

	return &Response{
		SessionID: session.ID,
		Status:    StatusActive,
		Decision:  session.CurrentDecision.Clone(),
		Questions: questions,
	}, nil
}

// Respond applies one user turn to a session. The turn is extracted against
// the session's current completeness rule, merged into accumulated fields,
// run through the refinement rules, and re-scored. The write is a CAS
// against the loaded version; on a conflict the whole turn is replayed once
// against the fresh state, and a second conflict surfaces to the caller.
func (e *Engine) Respond(ctx context.Context, sessionID, text string) (*Response, error) {
	if text == "" {
		return nil, errors.Wrap(core.ErrValidation, "dialog: turn text required")
	}

	resp, err := e.respondOnce(ctx, sessionID, text)
	if err != nil && errors.Is(err, core.ErrConflict) {
		slog.Warn("dialog session conflict, replaying turn", "session_id", sessionID)
		resp, err = e.respondOnce(ctx, sessionID, text)
	}
	return resp, err
}

func (e *Engine) respondOnce(ctx context.Context, sessionID, text string) (*Response, error) {
	session, version, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if session.Status.Terminal() {
		return nil, errors.Wrapf(core.ErrValidation, "dialog: session %s is %s", sessionID, session.Status)
	}
	if now.Sub(session.UpdatedAt) > e.idleTTL {
		e.markExpired(ctx, session, version)
		return nil, errors.Wrapf(core.ErrSessionExpired, "dialog: session %s idle since %s", sessionID, session.UpdatedAt.Format(time.RFC3339))
	}
	// A parked session resumes on its next turn.
	if session.Status == StatusPaused {
		session.Status = StatusActive
	}

	category := session.CurrentDecision.IntentCategory
	subIntent := session.CurrentDecision.SubIntent

	// Extract from this turn with the fields of the current rule, then
	// merge. Turn-local values win over older answers for the same key.
	turnFields := e.extractTurn(category, subIntent, text)
	merged := cloneFields(session.Fields)
	for k, v := range turnFields {
		merged[k] = v
	}

	refined := e.refiner.Refine(category, subIntent, merged)
	if refined != subIntent {
		slog.Info("dialog refined sub-intent",
			"session_id", sessionID, "from", subIntent, "to", refined)
		subIntent = refined
	}

	info, fields := e.checker.Check(category, subIntent, merged, text)

	decision := session.CurrentDecision.Clone()
	decision.SubIntent = subIntent
	decision.Completeness = info
	decision.ExtractedFields = fields

	session.CurrentDecision = decision
	session.Fields = fields
	session.Turns = append(session.Turns, Turn{
		Role:   "user",
		Text:   text,
		Fields: turnFields,
		At:     now,
	})
	session.UpdatedAt = now

	var questions []string
	switch {
	case info.IsSufficient:
		session.Status = StatusCompleted
	case session.userTurns() >= e.maxTurns:
		// Out of turns. Close with what we have and flag the decision so
		// downstream can route it to a human or a stronger model.
		session.Status = StatusCompleted
		if decision.Metadata == nil {
			decision.Metadata = make(map[string]any)
		}
		decision.Metadata["dialog_exhausted"] = true
	default:
		questions = e.qgen.Generate(info.MissingFields)
		session.Turns = append(session.Turns, Turn{
			Role:      "assistant",
			Questions: questions,
			At:        now,
		})
	}

	if err := e.persist(ctx, session, version); err != nil {
		return nil, err
	}
	if session.Status == StatusCompleted && e.metrics != nil {
		e.metrics.ObserveDialogDuration(now.Sub(session.CreatedAt))
		e.metrics.AddActiveDialogs(-1)
	}

	return &Response{
		SessionID: session.ID,
		Status:    session.Status,
		Decision:  decision.Clone(),
		Questions: questions,
	}, nil
}

// Pause parks an active session while the caller waits on an external step.
// The idle clock keeps running; a paused session still expires on schedule.
func (e *Engine) Pause(ctx context.Context, sessionID string) (*Response, error) {
	session, version, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, errors.Wrapf(core.ErrValidation, "dialog: session %s is %s", sessionID, session.Status)
	}
	if session.Status != StatusPaused {
		session.Status = StatusPaused
		if err := e.persist(ctx, session, version); err != nil {
			return nil, err
		}
	}
	return &Response{
		SessionID: session.ID,
		Status:    session.Status,
		Decision:  session.CurrentDecision.Clone(),
	}, nil
}

// Close terminates a session. An already-terminal session closes
// idempotently with its recorded state.
func (e *Engine) Close(ctx context.Context, sessionID string) (*Response, error) {
	session, version, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Status.Terminal() {
		if session.CurrentDecision.Completeness.IsSufficient {
			session.Status = StatusCompleted
		} else {
			session.Status = StatusCancelled
		}
		session.UpdatedAt = e.now()
		if err := e.persist(ctx, session, version); err != nil {
			return nil, err
		}
		if e.metrics != nil {
			e.metrics.ObserveDialogDuration(session.UpdatedAt.Sub(session.CreatedAt))
			e.metrics.AddActiveDialogs(-1)
		}
	}
	return &Response{
		SessionID: session.ID,
		Status:    session.Status,
		Decision:  session.CurrentDecision.Clone(),
	}, nil
}

// Get returns the current session state without mutating it.
func (e *Engine) Get(ctx context.Context, sessionID string) (*Session, error) {
	session, _, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (e *Engine) extractTurn(category core.IntentCategory, subIntent, text string) map[string]any {
	fields := make(map[string]any)
	for _, fd := range e.checker.Fields(category, subIntent) {
		if v, ok := fd.Extract(text); ok {
			fields[fd.Key] = v
		}
	}
	return fields
}

func (e *Engine) load(ctx context.Context, sessionID string) (*Session, int64, error) {
	payload, version, err := e.store.Load(ctx, keyPrefix+sessionID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, 0, errors.Wrapf(core.ErrSessionNotFound, "dialog: session %s", sessionID)
		}
		return nil, 0, errors.Wrapf(err, "dialog: load session %s", sessionID)
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, 0, errors.Wrapf(err, "dialog: decode session %s", sessionID)
	}
	return &session, version, nil
}

// persistNew writes a fresh session, asserting the key is unused.
func (e *Engine) persistNew(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "dialog: encode session")
	}
	if _, err := e.store.CAS(ctx, keyPrefix+session.ID, payload, 0, e.storeTTL()); err != nil {
		return errors.Wrapf(err, "dialog: create session %s", session.ID)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, session *Session, expected int64) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "dialog: encode session")
	}
	if _, err := e.store.CAS(ctx, keyPrefix+session.ID, payload, expected, e.storeTTL()); err != nil {
		return errors.Wrapf(err, "dialog: persist session %s", session.ID)
	}
	return nil
}

// markExpired records the expiry best-effort; losing the CAS race here is
// fine, whoever won has already advanced or expired the session.
func (e *Engine) markExpired(ctx context.Context, session *Session, version int64) {
	session.Status = StatusExpired
	session.UpdatedAt = e.now()
	if err := e.persist(ctx, session, version); err != nil {
		slog.Warn("dialog: could not mark session expired",
			"session_id", session.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.ObserveDialogDuration(session.UpdatedAt.Sub(session.CreatedAt))
		e.metrics.AddActiveDialogs(-1)
	}
}

// storeTTL keeps expired sessions readable a little past the idle window so
// the caller still gets a precise "expired" answer instead of "not found".
func (e *Engine) storeTTL() time.Duration {
	return e.idleTTL * 2
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
