package guard

import (
	"context"

	"github.com/EduardoReolon/jwtguard/pkg/jwtx"
	"github.com/EduardoReolon/jwtguard/pkg/slogx"
)

// Event carries the facts of a login or authenticate outcome to an
// external observer. IssuedToken is only set on login events.
type Event struct {
	UserID      string
	TokenHash   string
	Claims      jwtx.Claims
	IssuedToken *Token
}

// Observer receives domain notifications. It is injected so the guard
// compiles against no particular event bus; implementations typically
// forward to one. Observer outcome never influences guard state.
type Observer interface {
	OnLogin(ctx context.Context, ev Event)
	OnAuthenticate(ctx context.Context, ev Event)
}

// NopObserver discards all events. It is the default.
type NopObserver struct{}

func (NopObserver) OnLogin(context.Context, Event)        {}
func (NopObserver) OnAuthenticate(context.Context, Event) {}

// notify shields guard state from observer failures: a panicking
// observer is logged and otherwise ignored.
func notify(ctx context.Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slogx.FromContext(ctx).Warn("guard observer panicked", "panic", r)
		}
	}()
	fn()
}
