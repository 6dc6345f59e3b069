package hitl

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/checkpoint"
	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/metrics"
)

const (
	// DefaultApprovalTimeout bounds how long a request stays pending before
	// expiry escalation kicks in.
	DefaultApprovalTimeout = 15 * time.Minute

	// DefaultSweepInterval is how often the controller scans for expired
	// pending requests.
	DefaultSweepInterval = 30 * time.Second

	keyPrefix     = "approvals/"
	pendingPrefix = "approvals/pending/"
)

// Controller owns approval requests: creation, human decisions, and the
// background expiry sweep. All transitions are CAS writes, so two operators
// racing on the same request resolve deterministically: one wins, the other
// sees the terminal state.
type Controller struct {
	store      checkpoint.Store
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	timeout    time.Duration
	interval   time.Duration
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// Config assembles a Controller.
type Config struct {
	Store      checkpoint.Store
	Dispatcher *Dispatcher
	Metrics    *metrics.Metrics
	Timeout    time.Duration // default DefaultApprovalTimeout
	Interval   time.Duration // default DefaultSweepInterval
}

// NewController creates a Controller. Call Start to run the expiry sweep.
func NewController(cfg Config) *Controller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultApprovalTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher(LogNotifier{})
	}
	return &Controller{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		timeout:    cfg.Timeout,
		interval:   cfg.Interval,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// RequestApproval raises a pending request for a decision whose assessment
// requires a human. The request is durable before any notification is sent.
func (c *Controller) RequestApproval(ctx context.Context, decision *core.RoutingDecision, assessment *core.RiskAssessment, approver string) (*Request, error) {
	if decision == nil || assessment == nil {
		return nil, errors.Wrap(core.ErrValidation, "hitl: decision and assessment required")
	}
	if !assessment.RequiresApproval {
		return nil, errors.Wrap(core.ErrValidation, "hitl: assessment does not require approval")
	}
	if approver == "" {
		return nil, errors.Wrap(core.ErrValidation, "hitl: approver required")
	}

	now := c.now()
	req := &Request{
		ID:         shortuuid.New(),
		Decision:   decision.Clone(),
		Assessment: assessment,
		Approver:   approver,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.timeout),
	}
	if err := c.create(ctx, req); err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.AddPendingApprovals(1)
	}
	c.dispatcher.Dispatch(Event{Type: EventCreated, Request: req})
	slog.Info("approval requested",
		"approval_id", req.ID,
		"approver", approver,
		"risk_level", assessment.Level,
		"expires_at", req.ExpiresAt.Format(time.RFC3339))
	return req, nil
}

// Approve transitions a pending request to approved.
func (c *Controller) Approve(ctx context.Context, id, by, reason string) (*Request, error) {
	return c.decide(ctx, id, StatusApproved, by, reason, EventApproved)
}

// Reject transitions a pending request to rejected.
func (c *Controller) Reject(ctx context.Context, id, by, reason string) (*Request, error) {
	return c.decide(ctx, id, StatusRejected, by, reason, EventRejected)
}

// Cancel withdraws a pending request, typically because the underlying
// intent was abandoned.
func (c *Controller) Cancel(ctx context.Context, id, by, reason string) (*Request, error) {
	return c.decide(ctx, id, StatusCancelled, by, reason, EventCancelled)
}

// Get returns the current state of an approval request.
func (c *Controller) Get(ctx context.Context, id string) (*Request, error) {
	req, _, err := c.load(ctx, id)
	return req, err
}

// ListPending returns the pending requests assigned to approver, resolved
// through the pending index.
func (c *Controller) ListPending(ctx context.Context, approver string) ([]*Request, error) {
	keys, err := c.store.List(ctx, pendingPrefix+approver+"/")
	if err != nil {
		return nil, errors.Wrap(err, "hitl: list pending index")
	}
	requests := make([]*Request, 0, len(keys))
	for _, key := range keys {
		payload, _, err := c.store.Load(ctx, key)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "hitl: read pending index")
		}
		req, _, err := c.load(ctx, string(payload))
		if err != nil {
			if errors.Is(err, core.ErrApprovalNotFound) {
				continue
			}
			return nil, err
		}
		// Index entries outlive transitions briefly; skip stale ones.
		if req.Status == StatusPending {
			requests = append(requests, req)
		}
	}
	return requests, nil
}

// Start launches the background expiry sweep.
func (c *Controller) Start() {
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.interval)
				c.sweep(ctx)
				cancel()
			}
		}
	}()
}

// Stop terminates the expiry sweep and waits for it to finish.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.done.Wait()
}

// decide runs a human transition with one CAS retry. Racing against
// another decision resolves to ErrApprovalTerminal for the loser.
func (c *Controller) decide(ctx context.Context, id string, status Status, by, reason string, event EventType) (*Request, error) {
	req, err := c.transition(ctx, id, func(r *Request) error {
		r.Status = status
		r.DecidedBy = by
		r.Reason = reason
		t := c.now()
		r.DecidedAt = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.finish(req, event)
	return req, nil
}

// transition loads, mutates and CAS-writes a pending request. On a version
// conflict it reloads once: a now-terminal request fails with
// ErrApprovalTerminal, otherwise the mutation is replayed.
func (c *Controller) transition(ctx context.Context, id string, mutate func(*Request) error) (*Request, error) {
	for attempt := 0; attempt < 2; attempt++ {
		req, version, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status.Terminal() {
			return nil, errors.Wrapf(core.ErrApprovalTerminal, "hitl: approval %s is %s", id, req.Status)
		}
		if err := mutate(req); err != nil {
			return nil, err
		}
		if err := c.save(ctx, req, version); err != nil {
			if errors.Is(err, core.ErrConflict) && attempt == 0 {
				continue
			}
			return nil, err
		}
		if req.Status.Terminal() {
			c.dropPendingIndex(ctx, req)
		}
		return req, nil
	}
	return nil, errors.Wrapf(core.ErrConflict, "hitl: approval %s", id)
}

// finish records the terminal metrics and fires the notification.
func (c *Controller) finish(req *Request, event EventType) {
	if c.metrics != nil {
		c.metrics.RecordHITL(string(req.Assessment.Level), string(req.Status))
		c.metrics.AddPendingApprovals(-1)
		if req.DecidedAt != nil {
			c.metrics.ObserveApprovalTime(req.DecidedAt.Sub(req.CreatedAt))
		}
	}
	c.dispatcher.Dispatch(Event{Type: event, Request: req})
	slog.Info("approval resolved",
		"approval_id", req.ID,
		"status", req.Status,
		"decided_by", req.DecidedBy)
}

// sweep expires overdue pending requests and escalates them.
func (c *Controller) sweep(ctx context.Context) {
	keys, err := c.store.List(ctx, pendingPrefix)
	if err != nil {
		slog.Warn("approval sweep: list failed", "error", err)
		return
	}
	now := c.now()
	for _, key := range keys {
		payload, _, err := c.store.Load(ctx, key)
		if err != nil {
			continue
		}
		id := string(payload)
		req, _, err := c.load(ctx, id)
		if err != nil || req.Status.Terminal() || now.Before(req.ExpiresAt) {
			continue
		}
		c.expire(ctx, req)
	}
}

// expire transitions an overdue request. Below the escalation cap the
// request moves to escalated and a fresh one is raised a level up; at the
// cap the system rejects it outright.
func (c *Controller) expire(ctx context.Context, stale *Request) {
	atCap := stale.EscalationLevel >= MaxEscalationLevel
	req, err := c.transition(ctx, stale.ID, func(r *Request) error {
		t := c.now()
		r.DecidedAt = &t
		r.DecidedBy = "system"
		if atCap {
			r.Status = StatusRejected
			r.Reason = "approval timed out at maximum escalation level"
		} else {
			r.Status = StatusEscalated
			r.Reason = "approval timed out"
		}
		return nil
	})
	if err != nil {
		// Lost the race to a human decision; nothing to do.
		if !errors.Is(err, core.ErrApprovalTerminal) {
			slog.Warn("approval expiry failed", "approval_id", stale.ID, "error", err)
		}
		return
	}
	if atCap {
		c.finish(req, EventRejected)
		return
	}
	c.finish(req, EventEscalated)

	now := c.now()
	escalated := &Request{
		ID:              shortuuid.New(),
		Decision:        req.Decision.Clone(),
		Assessment:      req.Assessment,
		Approver:        req.Approver,
		Status:          StatusPending,
		EscalationLevel: req.EscalationLevel + 1,
		ParentID:        req.ID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(c.timeout),
	}
	if err := c.create(ctx, escalated); err != nil {
		slog.Error("approval escalation failed", "parent_id", req.ID, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.AddPendingApprovals(1)
	}
	c.dispatcher.Dispatch(Event{Type: EventCreated, Request: escalated})
	slog.Warn("approval escalated",
		"approval_id", escalated.ID,
		"parent_id", req.ID,
		"escalation_level", escalated.EscalationLevel)
}

func (c *Controller) create(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "hitl: encode approval")
	}
	if _, err := c.store.CAS(ctx, keyPrefix+req.ID, payload, 0, checkpoint.NoTTL); err != nil {
		return errors.Wrapf(err, "hitl: create approval %s", req.ID)
	}
	if _, err := c.store.Save(ctx, c.pendingKey(req), []byte(req.ID), checkpoint.NoTTL); err != nil {
		return errors.Wrapf(err, "hitl: index approval %s", req.ID)
	}
	return nil
}

func (c *Controller) save(ctx context.Context, req *Request, expected int64) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "hitl: encode approval")
	}
	if _, err := c.store.CAS(ctx, keyPrefix+req.ID, payload, expected, checkpoint.NoTTL); err != nil {
		return errors.Wrapf(err, "hitl: persist approval %s", req.ID)
	}
	return nil
}

func (c *Controller) load(ctx context.Context, id string) (*Request, int64, error) {
	payload, version, err := c.store.Load(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, 0, errors.Wrapf(core.ErrApprovalNotFound, "hitl: approval %s", id)
		}
		return nil, 0, errors.Wrapf(err, "hitl: load approval %s", id)
	}
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, 0, errors.Wrapf(err, "hitl: decode approval %s", id)
	}
	return &req, version, nil
}

func (c *Controller) dropPendingIndex(ctx context.Context, req *Request) {
	if _, err := c.store.Delete(ctx, c.pendingKey(req)); err != nil {
		slog.Warn("approval pending index cleanup failed",
			"approval_id", req.ID, "error", err)
	}
}

func (c *Controller) pendingKey(req *Request) string {
	return pendingPrefix + req.Approver + "/" + req.ID
}
