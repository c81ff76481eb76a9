// Package channel holds the set of transports the relay talks through.
package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
)

var (
	ErrDuplicateChannel = errors.New("channel already registered")
	ErrUnknownChannel   = errors.New("unknown channel")
)

// Registry owns the relay's transports. Channels are addressed by ID, and
// outbound messages are routed by their ChannelID.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	running  sync.WaitGroup
	log      *logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds ch. A second channel with the same ID is rejected.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.channels[ch.ID()]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.ID())
	}
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Interface("caps", ch.Capabilities()).Msg("channel registered")
	return nil
}

// Get returns the channel with id.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// IDs returns the registered channel IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// Channels returns the registered channels ordered by ID.
func (r *Registry) Channels() []domain.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chans := slices.Collect(maps.Values(r.channels))
	slices.SortFunc(chans, func(a, b domain.Channel) int { return cmp.Compare(a.ID(), b.ID()) })
	return chans
}

// Send delivers msg through the channel named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.ChannelID)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("send via %s: %w", msg.ChannelID, err)
	}
	return nil
}

// Limits is what every registered channel can deliver: media and buttons
// only if all support them, and the smallest non-zero size limits.
func (r *Registry) Limits() domain.ChannelCapabilities {
	chans := r.Channels()
	if len(chans) == 0 {
		return domain.ChannelCapabilities{}
	}
	out := domain.ChannelCapabilities{Media: true, Buttons: true}
	for _, ch := range chans {
		c := ch.Capabilities()
		out.Media = out.Media && c.Media
		out.Buttons = out.Buttons && c.Buttons
		out.MaxText = minLimit(out.MaxText, c.MaxText)
		out.MaxCaption = minLimit(out.MaxCaption, c.MaxCaption)
	}
	return out
}

// minLimit treats zero as unlimited.
func minLimit(a, b int) int {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

type statuser interface {
	Status() domain.ChannelStatus
}

// Status reports each channel, ordered by ID. Channels without their own
// Status are reported as running.
func (r *Registry) Status() []domain.ChannelStatus {
	chans := r.Channels()
	out := make([]domain.ChannelStatus, 0, len(chans))
	for _, ch := range chans {
		if s, ok := ch.(statuser); ok {
			out = append(out, s.Status())
			continue
		}
		out = append(out, domain.ChannelStatus{ChannelID: ch.ID(), Running: true})
	}
	return out
}

// StartAll runs every channel's Start on its own goroutine. Start blocks for
// the channel's lifetime, so errors are logged rather than returned.
func (r *Registry) StartAll(ctx context.Context) {
	for _, ch := range r.Channels() {
		r.log.Info().Str("channel", ch.ID()).Msg("starting channel")
		r.running.Add(1)
		go func() {
			defer r.running.Done()
			if err := ch.Start(ctx); err != nil {
				r.log.Error().Err(err).Str("channel", ch.ID()).Msg("channel exited with error")
			}
		}()
	}
}

// StopAll stops every channel, then waits for their Start calls to return
// or for ctx to end.
func (r *Registry) StopAll(ctx context.Context) error {
	for _, ch := range r.Channels() {
		r.log.Info().Str("channel", ch.ID()).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", ch.ID()).Msg("failed to stop channel")
		}
	}

	done := make(chan struct{})
	go func() {
		r.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for channels: %w", ctx.Err())
	}
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
