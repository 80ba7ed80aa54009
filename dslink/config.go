package dslink

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// LinkConfig carries the host-supplied configuration for one link.
type LinkConfig struct {
	// Name prefixes the dsId. Required.
	Name string
	// Broker is the handshake endpoint, e.g. http://localhost:8080/conn.
	// Required.
	Broker string
	// KeyPath is where the device keypair persists across restarts.
	KeyPath string
	// NodesPath is where the node structure persists. Empty disables
	// persistence.
	NodesPath string
	// Token is the optional broker access token.
	Token string

	IsRequester bool
	IsResponder bool

	// OnConnected runs exactly once, after the transport connects and
	// before the link goes active. Build the default node structure here.
	OnConnected func(superRoot *Node)
}

func (self *LinkConfig) validate() error {
	if self.Name == "" {
		return fmt.Errorf("%w: link name is required", ErrInvalidValue)
	}
	if self.Broker == "" {
		return fmt.Errorf("%w: broker url is required", ErrInvalidValue)
	}
	if !self.IsRequester && !self.IsResponder {
		return fmt.Errorf("%w: link must be a requester, a responder, or both", ErrInvalidValue)
	}
	return nil
}

type LinkSettings struct {
	// PostConnectDelay is how long the link waits after the transport
	// connects before running OnConnected and going active.
	PostConnectDelay time.Duration
	Transport        *WsTransportSettings
	Clock            clock.Clock
}

func DefaultLinkSettings() *LinkSettings {
	return &LinkSettings{
		PostConnectDelay: 1 * time.Second,
		Transport:        DefaultWsTransportSettings(),
		Clock:            clock.New(),
	}
}
