// Package service wires the pipeline together and exposes the operations a
// transport layer would call: classification, dialog, risk, approvals and
// system-source ingestion.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/checkpoint"
	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/dialog"
	"github.com/hrygo/opsintent/gateway"
	"github.com/hrygo/opsintent/hitl"
	"github.com/hrygo/opsintent/intent/completeness"
	"github.com/hrygo/opsintent/intent/llmclass"
	"github.com/hrygo/opsintent/intent/pattern"
	"github.com/hrygo/opsintent/intent/router"
	"github.com/hrygo/opsintent/intent/semantic"
	"github.com/hrygo/opsintent/internal/profile"
	"github.com/hrygo/opsintent/metrics"
	"github.com/hrygo/opsintent/risk"
)

// Core is the assembled orchestration pipeline. The rule-derived components
// live in an atomically swapped snapshot so Reload never blocks requests.
type Core struct {
	profile  *profile.Profile
	store    checkpoint.Store
	metrics  *metrics.Metrics
	assessor *risk.Assessor
	approval *hitl.Controller
	sweeper  *checkpoint.Sweeper

	snapshot atomic.Pointer[pipeline]
}

// pipeline holds everything rebuilt on a rules reload.
type pipeline struct {
	router  *router.Router
	gateway *gateway.Gateway
	dialog  *dialog.Engine
	llm     llmclass.Classifier // nil when the tier is disabled
}

// New builds the Core from a validated profile.
func New(ctx context.Context, p *profile.Profile, notifiers ...hitl.Notifier) (*Core, error) {
	store, err := openStore(ctx, p)
	if err != nil {
		return nil, err
	}

	m := metrics.New(metrics.DefaultConfig())
	c := &Core{
		profile:  p,
		store:    store,
		metrics:  m,
		assessor: risk.NewAssessor(),
		approval: hitl.NewController(hitl.Config{
			Store:      store,
			Dispatcher: hitl.NewDispatcher(append([]hitl.Notifier{hitl.LogNotifier{}}, notifiers...)...),
			Metrics:    m,
			Timeout:    time.Duration(p.ApprovalTimeoutMin) * time.Minute,
		}),
		sweeper: checkpoint.NewSweeper(store, 0),
	}

	if err := c.rebuild(ctx); err != nil {
		store.Close()
		return nil, err
	}

	c.approval.Start()
	c.sweeper.Start(ctx)
	return c, nil
}

// openStore maps the profile's driver to a checkpoint backend.
func openStore(ctx context.Context, p *profile.Profile) (checkpoint.Store, error) {
	switch p.Driver {
	case "", "memory":
		return checkpoint.NewMemoryStore(), nil
	case "file":
		return checkpoint.NewFileStore(p.Data)
	case "sqlite":
		return checkpoint.NewSQLStore(ctx, "sqlite", p.DSN)
	case "postgres":
		return checkpoint.NewSQLStore(ctx, "postgres", p.DSN)
	case "redis":
		return checkpoint.NewRedisStore(ctx, checkpoint.RedisConfig{
			Addr:      p.RedisAddr,
			Password:  p.RedisPassword,
			DB:        p.RedisDB,
			KeyPrefix: p.RedisPrefix,
		})
	default:
		return nil, errors.Errorf("service: unsupported checkpoint driver %q", p.Driver)
	}
}

// rebuild loads the rule documents and swaps in a fresh pipeline.
func (c *Core) rebuild(ctx context.Context) error {
	rules, err := LoadRuleSet(c.profile.RulesDir)
	if err != nil {
		return errors.Wrap(err, "service: load rules")
	}

	matcher := pattern.NewMatcher(rules.Patterns)
	checker := completeness.NewChecker(rules.Completeness, func(category core.IntentCategory, _ string) {
		c.metrics.RecordMissingCompletenessRule(string(category))
	})

	tiers := []router.Tier{
		&router.PatternTier{Matcher: matcher, MinConfidence: c.profile.PatternMinConfidence},
	}

	if c.profile.IsSemanticEnabled() {
		embedder, err := semantic.NewEmbedder(semantic.EmbedderConfig{
			APIKey:  c.profile.EmbeddingAPIKey,
			BaseURL: c.profile.EmbeddingBaseURL,
			Model:   c.profile.EmbeddingModel,
		})
		if err != nil {
			return err
		}
		semOpts := []semantic.Option{
			semantic.WithThreshold(c.profile.SemanticThreshold),
			semantic.WithFailureHook(func(error) {
				c.metrics.RecordTierFailure(string(core.LayerSemantic))
			}),
		}
		// On postgres the route index lives in pgvector, sharing the
		// checkpoint store's connection pool.
		if sqlStore, ok := c.store.(*checkpoint.SQLStore); ok && c.profile.Driver == "postgres" {
			idx, err := semantic.NewPGIndex(ctx, sqlStore.DB(), embedder.Dimensions())
			if err != nil {
				return errors.Wrap(err, "service: init route index")
			}
			semOpts = append(semOpts, semantic.WithIndex(idx))
		}
		semRouter := semantic.NewRouter(embedder, semOpts...)
		if err := semRouter.Load(ctx, rules.Routes); err != nil {
			return errors.Wrap(err, "service: load semantic routes")
		}
		tiers = append(tiers, &router.SemanticTier{Router: semRouter})
	} else {
		slog.Warn("semantic tier disabled: no embedding API key")
	}

	var llm llmclass.Classifier
	if c.profile.IsLLMEnabled() {
		llm, err = llmclass.New(llmclass.Config{
			APIKey:  c.profile.LLMAPIKey,
			BaseURL: c.profile.LLMBaseURL,
			Model:   c.profile.LLMModel,
			Budget:  time.Duration(c.profile.LLMBudgetMs) * time.Millisecond,
		}, rules.Vocabulary())
		if err != nil {
			return err
		}
		tiers = append(tiers, &router.LLMTier{Classifier: llm})
	} else {
		slog.Warn("llm tier disabled: no API key")
	}

	intentRouter := router.New(router.Config{
		Tiers:       tiers,
		Checker:     checker,
		Metrics:     c.metrics,
		EnableCache: c.profile.CacheEnabled,
	})

	engine := dialog.NewEngine(dialog.Config{
		Store:   c.store,
		Checker: checker,
		Refiner: rules.Refiner,
		QGen:    rules.Questions,
		Metrics: c.metrics,
	})

	gw := gateway.New(
		gateway.NewUserHandler(intentRouter),
		c.metrics,
		gateway.NewServiceNowHandler(rules.ServiceNow, matcher),
		gateway.NewPrometheusHandler(rules.Alerts),
	)

	c.snapshot.Store(&pipeline{
		router:  intentRouter,
		gateway: gw,
		dialog:  engine,
		llm:     llm,
	})
	slog.Info("pipeline rules loaded",
		"pattern_rules", len(rules.Patterns),
		"semantic_routes", len(rules.Routes),
		"completeness_rules", len(rules.Completeness))
	return nil
}

// Reload re-reads the rule documents and swaps the pipeline atomically.
// In-flight requests finish on the old snapshot.
func (c *Core) Reload(ctx context.Context) error {
	if err := c.rebuild(ctx); err != nil {
		return err
	}
	slog.Info("pipeline reloaded")
	return nil
}

// Warmup primes the upstream LLM connection so the first real request does
// not pay the handshake.
func (c *Core) Warmup(ctx context.Context) {
	if p := c.snapshot.Load(); p.llm != nil {
		p.llm.Warmup(ctx)
	}
}

// ClassifyIntent runs text through the tier cascade. Empty input is not an
// error; it walks the cascade like anything else and comes back UNKNOWN with
// confidence 0.
func (c *Core) ClassifyIntent(ctx context.Context, text string, rctx *core.RequestContext) (*core.RoutingDecision, error) {
	return c.snapshot.Load().router.Route(ctx, text, rctx), nil
}

// Ingest routes an inbound request (user or system webhook) through the
// gateway.
func (c *Core) Ingest(ctx context.Context, req *gateway.Request) ([]*core.RoutingDecision, error) {
	return c.snapshot.Load().gateway.Ingest(ctx, req)
}

// DialogStart opens a guided dialog for an insufficient decision.
func (c *Core) DialogStart(ctx context.Context, decision *core.RoutingDecision) (*dialog.Response, error) {
	return c.snapshot.Load().dialog.Start(ctx, decision)
}

// DialogRespond applies one user turn.
func (c *Core) DialogRespond(ctx context.Context, sessionID, text string) (*dialog.Response, error) {
	return c.snapshot.Load().dialog.Respond(ctx, sessionID, text)
}

// DialogPause parks a session without closing it.
func (c *Core) DialogPause(ctx context.Context, sessionID string) (*dialog.Response, error) {
	return c.snapshot.Load().dialog.Pause(ctx, sessionID)
}

// DialogClose terminates a session.
func (c *Core) DialogClose(ctx context.Context, sessionID string) (*dialog.Response, error) {
	return c.snapshot.Load().dialog.Close(ctx, sessionID)
}

// DialogGet returns current session state.
func (c *Core) DialogGet(ctx context.Context, sessionID string) (*dialog.Session, error) {
	return c.snapshot.Load().dialog.Get(ctx, sessionID)
}

// AssessRisk scores a decision under the caller's context.
func (c *Core) AssessRisk(decision *core.RoutingDecision, rctx *core.RequestContext) *core.RiskAssessment {
	return c.assessor.Assess(decision, rctx)
}

// RequestApproval raises an approval request when the assessment demands
// one; the profile's default approver is used when none is given.
func (c *Core) RequestApproval(ctx context.Context, decision *core.RoutingDecision, assessment *core.RiskAssessment, approver string) (*hitl.Request, error) {
	if approver == "" {
		approver = c.profile.DefaultApprover
	}
	return c.approval.RequestApproval(ctx, decision, assessment, approver)
}

// Approve resolves a pending approval positively.
func (c *Core) Approve(ctx context.Context, id, by, reason string) (*hitl.Request, error) {
	return c.approval.Approve(ctx, id, by, reason)
}

// Reject resolves a pending approval negatively.
func (c *Core) Reject(ctx context.Context, id, by, reason string) (*hitl.Request, error) {
	return c.approval.Reject(ctx, id, by, reason)
}

// CancelApproval withdraws a pending approval.
func (c *Core) CancelApproval(ctx context.Context, id, by, reason string) (*hitl.Request, error) {
	return c.approval.Cancel(ctx, id, by, reason)
}

// GetApproval returns one approval request.
func (c *Core) GetApproval(ctx context.Context, id string) (*hitl.Request, error) {
	return c.approval.Get(ctx, id)
}

// ListPendingApprovals returns an approver's queue.
func (c *Core) ListPendingApprovals(ctx context.Context, approver string) ([]*hitl.Request, error) {
	if approver == "" {
		approver = c.profile.DefaultApprover
	}
	return c.approval.ListPending(ctx, approver)
}

// MetricsHandler exposes the Prometheus endpoint.
func (c *Core) MetricsHandler() http.Handler {
	return c.metrics.Handler()
}

// Shutdown stops background loops and closes the store.
func (c *Core) Shutdown(context.Context) error {
	c.approval.Stop()
	c.sweeper.Stop()
	return c.store.Close()
}
