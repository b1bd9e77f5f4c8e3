package provider

import (
	"context"
	"errors"

	"github.com/unclebandit/broadcast-service/internal/model"
)

// ErrDisabled is returned when a transport is asked to send without its
// provider configuration.
var ErrDisabled = errors.New("provider not configured")

// Message is one rendered delivery.
type Message struct {
	Channel model.Channel
	LogID   string
	To      string
	ToName  string
	Subject string
	Body    string
}

// Transport delivers a message over one channel. Failures carry the provider
// response as *appErrors.TransportError.
type Transport interface {
	Channel() model.Channel
	Send(ctx context.Context, msg Message, cfg model.ProviderConfigs) error
}

// Registry maps each channel to its transport.
type Registry map[model.Channel]Transport

func NewRegistry(transports ...Transport) Registry {
	r := make(Registry, len(transports))
	for _, t := range transports {
		r[t.Channel()] = t
	}
	return r
}
