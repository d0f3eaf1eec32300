package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"chatpresence/internal/apperr"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent   = apperr.New(apperr.Validation, "unknown_event", "unknown event")
	ErrInvalidPayload = apperr.New(apperr.Validation, "invalid_payload", "invalid payload")
)

// ConnContext is what a handler knows about the connection it serves.
type ConnContext struct {
	UserID string
	Conn   *clientConn
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error)

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]rawHandler),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register binds an event to a strongly-typed handler. Struct requests are
// validated with their `validate` tags before the handler runs.
func Register[Req any, Res any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) (any, error) {
		var req Req
		if len(body) > 0 && string(body) != "null" {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		if reflect.TypeOf(req) != nil && reflect.TypeOf(req).Kind() == reflect.Struct {
			if err := r.validate.Struct(req); err != nil {
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) && len(verrs) > 0 {
					return nil, fmt.Errorf("%w: %s failed on %s", ErrInvalidPayload, verrs[0].Field(), verrs[0].Tag())
				}
				return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownEvent
	}
	return h(ctx, c, env.Body)
}
