package envman

import (
	"context"
	"log/slog"
	"sync"

	"github.com/p-arndt/fabrik/protocol"
)

// DefaultMailboxSize is used when Spawn is given a non-positive size.
const DefaultMailboxSize = 64

type envelope struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	ran  bool
	done chan struct{}
}

// Handle owns a Backend and serializes every request to it through a
// mailbox drained by a single goroutine. A request that is still queued when
// its caller gives up is dropped; a request that has started runs to
// completion even if the caller goes away.
type Handle struct {
	name    string
	backend Backend
	logger  *slog.Logger

	mailbox chan *envelope
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

var _ Backend = (*Handle)(nil)

// Spawn starts the actor goroutine for backend.
func Spawn(name string, backend Backend, size int, logger *slog.Logger) *Handle {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	h := &Handle{
		name:    name,
		backend: backend,
		logger:  logger,
		mailbox: make(chan *envelope, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Handle) Name() string { return h.name }

// Stop halts the actor after the request in progress, if any, completes.
func (h *Handle) Stop() {
	h.once.Do(func() { close(h.quit) })
	<-h.done
}

func (h *Handle) loop() {
	defer close(h.done)
	h.logger.Debug("backend actor started", "env", h.name)
	for {
		select {
		case <-h.quit:
			h.logger.Debug("backend actor stopped", "env", h.name)
			return
		case env := <-h.mailbox:
			if env.ctx.Err() == nil {
				env.fn(context.WithoutCancel(env.ctx))
				env.ran = true
			}
			close(env.done)
		}
	}
}

// call enqueues fn and waits until the actor has run it.
func (h *Handle) call(ctx context.Context, fn func(ctx context.Context)) error {
	env := &envelope{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case h.mailbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.quit:
		return ErrStopped
	}

	select {
	case <-env.done:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		select {
		case <-env.done:
		default:
			return ErrStopped
		}
	}
	if !env.ran {
		return ctx.Err()
	}
	return nil
}

func (h *Handle) CreateSession(ctx context.Context, req protocol.CreateSession) (string, error) {
	var (
		id  string
		err error
	)
	if cerr := h.call(ctx, func(ctx context.Context) {
		id, err = h.backend.CreateSession(ctx, req)
	}); cerr != nil {
		return "", cerr
	}
	return id, err
}

func (h *Handle) DestroySession(ctx context.Context, sessionID string) (string, error) {
	var (
		msg string
		err error
	)
	if cerr := h.call(ctx, func(ctx context.Context) {
		msg, err = h.backend.DestroySession(ctx, sessionID)
	}); cerr != nil {
		return "", cerr
	}
	return msg, err
}

func (h *Handle) GetSessions(ctx context.Context) []protocol.SessionInfo {
	var infos []protocol.SessionInfo
	if err := h.call(ctx, func(ctx context.Context) {
		infos = h.backend.GetSessions(ctx)
	}); err != nil {
		h.logger.Warn("list sessions", "env", h.name, "error", err)
		return []protocol.SessionInfo{}
	}
	return infos
}

func (h *Handle) UpdateSession(ctx context.Context, sessionID string, commands []protocol.Command) ([]string, error) {
	var (
		results []string
		err     error
	)
	if cerr := h.call(ctx, func(ctx context.Context) {
		results, err = h.backend.UpdateSession(ctx, sessionID, commands)
	}); cerr != nil {
		return []string{"Error: " + cerr.Error()}, cerr
	}
	return results, err
}

// Reconcile forwards to the backend if it implements Reconciler.
func (h *Handle) Reconcile(ctx context.Context) error {
	r, ok := h.backend.(Reconciler)
	if !ok {
		return nil
	}
	var err error
	if cerr := h.call(ctx, func(ctx context.Context) {
		err = r.Reconcile(ctx)
	}); cerr != nil {
		return cerr
	}
	return err
}

// CheckSessions forwards to the backend if it implements HealthChecker.
func (h *Handle) CheckSessions(ctx context.Context) error {
	c, ok := h.backend.(HealthChecker)
	if !ok {
		return nil
	}
	var err error
	if cerr := h.call(ctx, func(ctx context.Context) {
		err = c.CheckSessions(ctx)
	}); cerr != nil {
		return cerr
	}
	return err
}
