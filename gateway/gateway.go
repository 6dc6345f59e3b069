// Package gateway normalizes inbound requests from humans and systems into
// routing decisions. System sources (ServiceNow, Prometheus) carry structure
// the classifier cascade does not need; the gateway maps them directly and
// only falls back to classification when the structure is not conclusive.
package gateway

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/metrics"
)

// Webhook marker headers checked before anything else.
const (
	HeaderServiceNow = "X-ServiceNow-Webhook"
	HeaderPrometheus = "X-Prometheus-Alertmanager"
)

// Request is the normalized inbound envelope. Text carries free-form user
// input; Payload carries the parsed body of a system webhook.
type Request struct {
	Source  core.SourceType      `json:"source,omitempty"`
	Headers map[string]string    `json:"headers,omitempty"`
	Text    string               `json:"text,omitempty"`
	Payload map[string]any       `json:"payload,omitempty"`
	Context *core.RequestContext `json:"context,omitempty"`
}

// Handler turns a source-specific request into decisions. A single webhook
// may carry several logical requests (Prometheus alert batches), hence the
// slice.
type Handler interface {
	Source() core.SourceType
	Handle(ctx context.Context, req *Request) ([]*core.RoutingDecision, error)
}

// Gateway selects a handler per request. Selection order: webhook marker
// header, explicit source, then the user handler as the default.
type Gateway struct {
	handlers map[core.SourceType]Handler
	fallback Handler
	metrics  *metrics.Metrics
}

// New creates a Gateway. The user handler doubles as the fallback.
func New(user Handler, m *metrics.Metrics, system ...Handler) *Gateway {
	g := &Gateway{
		handlers: make(map[core.SourceType]Handler, len(system)+1),
		fallback: user,
		metrics:  m,
	}
	g.handlers[user.Source()] = user
	for _, h := range system {
		g.handlers[h.Source()] = h
	}
	return g
}

// Ingest routes a request through the selected handler.
func (g *Gateway) Ingest(ctx context.Context, req *Request) ([]*core.RoutingDecision, error) {
	if req == nil {
		return nil, errors.Wrap(core.ErrValidation, "gateway: request required")
	}
	source := g.detect(req)
	handler, ok := g.handlers[source]
	if !ok {
		handler = g.fallback
		source = handler.Source()
	}
	if g.metrics != nil && source != core.SourceUser {
		g.metrics.RecordSystemSource(string(source))
	}
	decisions, err := handler.Handle(ctx, req)
	if err != nil {
		slog.Warn("gateway handler rejected request", "source", source, "error", err)
		return nil, err
	}
	slog.Debug("gateway ingested request", "source", source, "decisions", len(decisions))
	return decisions, nil
}

// detect picks the source. Marker headers win over the explicit source
// field so a mislabeled webhook still lands on the right handler.
func (g *Gateway) detect(req *Request) core.SourceType {
	if _, ok := req.Headers[HeaderServiceNow]; ok {
		return core.SourceServiceNow
	}
	if _, ok := req.Headers[HeaderPrometheus]; ok {
		return core.SourcePrometheus
	}
	if req.Source != "" {
		return req.Source
	}
	return core.SourceUser
}
