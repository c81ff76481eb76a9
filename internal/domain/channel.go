package domain

import "context"

// ChannelCapabilities describes what a channel implementation supports.
type ChannelCapabilities struct {
	Media   bool `json:"media,omitempty"`
	Buttons bool `json:"buttons,omitempty"`
	// MaxText and MaxCaption cap one outbound message in runes; zero means
	// no limit.
	MaxText    int `json:"maxText,omitempty"`
	MaxCaption int `json:"maxCaption,omitempty"`
}

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Mode      string `json:"mode,omitempty"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is the interface that all messaging transports must satisfy.
type Channel interface {
	// ID returns the channel identifier (e.g., "telegram").
	ID() string

	// Capabilities returns what this channel supports.
	Capabilities() ChannelCapabilities

	// Start connects the channel and begins receiving events.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message through this channel.
	Send(ctx context.Context, msg OutboundMessage) error

	// OnEvent registers a handler for inbound events.
	OnEvent(handler func(ev InboundEvent))
}
