package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
)

// Guard suppresses subscription teardown unless the caller is inside a
// teardown scope opened by WithTeardownAllowed on this same guard.
type Guard struct {
	mu        sync.Mutex
	open      int
	onAttempt func(allowed bool)
}

type scopeKey struct{ g *Guard }

func NewGuard() *Guard {
	return &Guard{}
}

// OnAttempt registers a callback run for every teardown attempt.
func (g *Guard) OnAttempt(fn func(allowed bool)) {
	g.onAttempt = fn
}

// WithTeardownAllowed runs fn with a context that permits teardown. The scope
// is closed again on every exit path of fn, including a panic. Scopes nest.
func (g *Guard) WithTeardownAllowed(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	g.open++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.open--
		g.mu.Unlock()
	}()

	return fn(context.WithValue(ctx, scopeKey{g}, true))
}

// OpenScopes reports how many teardown scopes are currently running.
func (g *Guard) OpenScopes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *Guard) allowed(ctx context.Context) bool {
	ok, _ := ctx.Value(scopeKey{g}).(bool)
	return ok
}

// Subscribe opens a mesh subscription and returns its guarded handle.
func (g *Guard) Subscribe(mesh Mesh, channels []string) (*Handle, error) {
	if err := mesh.Subscribe(channels); err != nil {
		return nil, err
	}
	return &Handle{guard: g, mesh: mesh, channels: channels, active: true}, nil
}

// Handle is a live subscription whose teardown is intercepted by its Guard.
type Handle struct {
	guard    *Guard
	mesh     Mesh
	channels []string

	mu     sync.Mutex
	active bool
}

func (h *Handle) Channels() []string {
	return h.channels
}

func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Teardown unsubscribes only inside a teardown scope; otherwise it is a no-op
// that leaves the subscription live. It reports whether teardown happened.
func (h *Handle) Teardown(ctx context.Context) bool {
	caller := callerContext(2)
	allowed := h.guard.allowed(ctx)
	if h.guard.onAttempt != nil {
		h.guard.onAttempt(allowed)
	}

	if !allowed {
		slog.Warn("teardown_blocked",
			"event", "teardown_blocked", "channels", h.channels, "caller", caller)
		return false
	}

	h.mu.Lock()
	wasActive := h.active
	h.active = false
	h.mu.Unlock()

	if wasActive {
		if err := h.mesh.Unsubscribe(h.channels); err != nil {
			slog.Error("unsubscribe failed", "channels", h.channels, "error", err)
		}
	}
	slog.Info("teardown_allowed",
		"event", "teardown_allowed", "channels", h.channels, "caller", caller, "was_active", wasActive)
	return true
}

func callerContext(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	name := "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		name = filepath.Base(fn.Name())
	}
	return fmt.Sprintf("%s:%d %s", filepath.Base(file), line, name)
}
