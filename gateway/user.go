package gateway

import (
	"context"
	"strings"

	"github.com/hrygo/opsintent/core"
	"github.com/hrygo/opsintent/intent/router"
)

// UserHandler feeds free-form user text through the full classification
// cascade. It is the default handler and the only one allowed to reach the
// semantic and LLM tiers.
type UserHandler struct {
	router *router.Router
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(r *router.Router) *UserHandler {
	return &UserHandler{router: r}
}

func (h *UserHandler) Source() core.SourceType { return core.SourceUser }

func (h *UserHandler) Handle(ctx context.Context, req *Request) ([]*core.RoutingDecision, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(stringField(req.Payload, "text"))
	}
	// Empty text still goes through the cascade; no tier will claim it and
	// the router hands back UNKNOWN with confidence 0.
	decision := h.router.Route(ctx, text, req.Context)
	return []*core.RoutingDecision{decision}, nil
}
