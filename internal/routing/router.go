// Package routing connects messaging channels to the relay.
package routing

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/soyeahso/anonrelay/internal/channel"
	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
	"github.com/soyeahso/anonrelay/internal/metrics"
)

const (
	defaultIdleTimeout = 2 * time.Minute
	queueDepth         = 32
)

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev domain.InboundEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev domain.InboundEvent) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev domain.InboundEvent) error { return f(ctx, ev) }

// Router delivers inbound events to the handler and outbound messages to
// channels. Events from one sender are handled one at a time in arrival
// order by a dedicated worker; different senders run concurrently.
// Workers exit after sitting idle.
type Router struct {
	channels *channel.Registry
	handler  Handler
	metrics  *metrics.Metrics
	log      *logging.Logger
	idle     time.Duration

	mu      sync.Mutex
	ctx     context.Context
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	events  chan domain.InboundEvent
	pending int // guarded by Router.mu
}

// Option configures a Router.
type Option func(*Router)

// WithIdleTimeout sets how long a sender's worker waits before exiting.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Router) { r.idle = d }
}

// WithMetrics records handler panics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter creates a router. Handler may be set later with SetHandler.
func NewRouter(channels *channel.Registry, handler Handler, log *logging.Logger, opts ...Option) *Router {
	r := &Router{
		channels: channels,
		handler:  handler,
		log:      log.Sub("routing"),
		idle:     defaultIdleTimeout,
		ctx:      context.Background(),
		workers:  make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetHandler replaces the event handler. Call before Wire.
func (r *Router) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// Wire registers Dispatch as the event handler on all channels. Workers
// stop when ctx is done.
func (r *Router) Wire(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	for _, ch := range r.channels.Channels() {
		ch.OnEvent(r.Dispatch)
		r.log.Debug().Str("channel", ch.ID()).Msg("wired event handler")
	}
}

// Dispatch queues ev on its sender's worker, starting one if needed.
func (r *Router) Dispatch(ev domain.InboundEvent) {
	key := ev.ChannelID + ":" + ev.From.ID.String()

	r.mu.Lock()
	ctx := r.ctx
	if ctx.Err() != nil {
		r.mu.Unlock()
		r.log.Warn().Str("event", ev.ID).Msg("router stopped, dropping event")
		return
	}
	w, ok := r.workers[key]
	if !ok {
		w = &worker{events: make(chan domain.InboundEvent, queueDepth)}
		r.workers[key] = w
		r.wg.Add(1)
		go r.run(ctx, key, w)
	}
	w.pending++
	r.mu.Unlock()

	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (r *Router) run(ctx context.Context, key string, w *worker) {
	defer r.wg.Done()

	timer := time.NewTimer(r.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			delete(r.workers, key)
			r.mu.Unlock()
			return

		case ev := <-w.events:
			r.handle(ctx, ev)
			r.mu.Lock()
			w.pending--
			r.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.idle)

		case <-timer.C:
			r.mu.Lock()
			if w.pending == 0 {
				delete(r.workers, key)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			timer.Reset(r.idle)
		}
	}
}

// handle runs the handler for one event, recovering panics so one bad
// event cannot take down the sender's worker.
func (r *Router) handle(ctx context.Context, ev domain.InboundEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.Panic()
			r.log.Error().
				Str("event", ev.ID).
				Str("channel", ev.ChannelID).
				Str("panic", fmt.Sprint(p)).
				Bytes("stack", debug.Stack()).
				Msg("panic while handling event")
		}
	}()

	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		r.log.Warn().Msg("no handler configured, dropping event")
		return
	}

	r.log.Debug().
		Str("event", ev.ID).
		Str("channel", ev.ChannelID).
		Str("kind", string(ev.Kind)).
		Msg("routing inbound event")

	_ = h.Handle(ctx, ev)
}

// Send delivers msg through the channel it names.
func (r *Router) Send(ctx context.Context, msg domain.OutboundMessage) error {
	return r.channels.Send(ctx, msg)
}

// Active returns the number of running sender workers.
func (r *Router) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Wait blocks until every worker has exited. Cancel the Wire context first.
func (r *Router) Wait() {
	r.wg.Wait()
}
