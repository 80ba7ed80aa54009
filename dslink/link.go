package dslink

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/golang/glog"

	"github.com/benbjohnson/clock"

	"github.com/oklog/ulid/v2"
)

type LinkState int

const (
	LinkStateCreated LinkState = iota
	LinkStateKeypairLoaded
	LinkStateHandshaken
	LinkStateConnecting
	LinkStateActive
	LinkStateStopping
	LinkStateStopped
)

func (self LinkState) String() string {
	switch self {
	case LinkStateCreated:
		return "created"
	case LinkStateKeypairLoaded:
		return "keypair_loaded"
	case LinkStateHandshaken:
		return "handshaken"
	case LinkStateConnecting:
		return "connecting"
	case LinkStateActive:
		return "active"
	case LinkStateStopping:
		return "stopping"
	case LinkStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Link is the lifecycle controller. It owns the process-wide session
// state (state machine, active flag, transport handle, structure-changed
// flag) and sequences keypair load -> handshake -> connect -> active.
// Nodes observe that state through the non-owning handle they carry.
type Link struct {
	config   *LinkConfig
	settings *LinkSettings
	clock    clock.Clock

	// distinguishes concurrent runs of the same dsId in logs
	instanceId ulid.ULID

	ctx    context.Context
	cancel context.CancelFunc

	profileManager *ProfileManager
	responder      *Responder
	requester      *Requester

	keypair   *Keypair
	handshake Handshake

	stateMu      sync.Mutex
	state        LinkState
	active       bool
	nodesChanged bool
	transport    Transport
}

func NewLink(config *LinkConfig) *Link {
	return NewLinkWithSettings(context.Background(), config, DefaultLinkSettings())
}

func NewLinkWithSettings(ctx context.Context, config *LinkConfig, settings *LinkSettings) *Link {
	cancelCtx, cancel := context.WithCancel(ctx)
	clk := settings.Clock
	if clk == nil {
		clk = clock.New()
	}
	link := &Link{
		config:         config,
		settings:       settings,
		clock:          clk,
		instanceId:     ulid.Make(),
		ctx:            cancelCtx,
		cancel:         cancel,
		profileManager: NewProfileManager(),
		state:          LinkStateCreated,
	}
	if config.IsResponder {
		link.responder = NewResponder(link)
	}
	if config.IsRequester {
		link.requester = NewRequester(link)
	}
	return link
}

func (self *Link) Profiles() *ProfileManager {
	return self.profileManager
}

// Responder returns the inbound dispatch layer, or nil for a pure
// requester link.
func (self *Link) Responder() *Responder {
	return self.responder
}

// Requester returns the outbound request layer, or nil for a pure
// responder link.
func (self *Link) Requester() *Requester {
	return self.requester
}

func (self *Link) InstanceId() ulid.ULID {
	return self.instanceId
}

// Run drives the link to Active and blocks until shutdown. SIGINT and
// SIGTERM route to Stop; a clean shutdown returns nil so the process can
// exit 0. Protocol-state errors (handshake failure, malformed connect
// URL) are fatal and returned.
func (self *Link) Run() error {
	if err := self.config.validate(); err != nil {
		return err
	}

	glog.Infof("starting link %s instance %s", self.config.Name, self.instanceId)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			glog.Infof("received %s, stopping", sig)
			self.Stop()
		case <-self.ctx.Done():
		}
	}()

	keyPath := self.config.KeyPath
	if keyPath == "" {
		keyPath = ".key"
	}
	keypair, err := LoadOrGenerateKeypair(keyPath)
	if err != nil {
		return err
	}
	self.keypair = keypair
	self.setState(LinkStateKeypairLoaded)

	if self.handshake == nil {
		self.handshake = NewHttpHandshake(self.config, keypair)
	}
	if err := self.handshake.Run(self.ctx); err != nil {
		return err
	}
	self.setState(LinkStateHandshaken)

	if err := self.LoadNodes(); err != nil {
		return err
	}

	session, err := BuildConnectUrl(
		self.config.Broker,
		self.handshake.WsPath(),
		self.handshake.DsId(),
		self.handshake.NeedsAuth(),
		self.handshake.Salt(),
		self.handshake.SharedSecret(),
		self.config.Token,
	)
	if err != nil {
		return err
	}
	glog.V(1).Infof("connecting to %s port %d", session.Url, session.Port)

	self.setState(LinkStateConnecting)
	transport, err := ConnectWs(self.ctx, session.Url, self.handleMessage, self.settings.Transport)
	if err != nil {
		return err
	}
	self.setTransport(transport)

	// deferred post-connect hook: give the host a beat to build its
	// default structure before traffic is accepted
	timer := self.clock.Timer(self.settings.PostConnectDelay)
	select {
	case <-self.ctx.Done():
		timer.Stop()
	case <-timer.C:
		if self.config.OnConnected != nil && self.responder != nil {
			self.config.OnConnected(self.responder.SuperRoot())
		}
		self.setActive(true)
		self.setState(LinkStateActive)
		glog.Infof("link active dsId=%s", self.handshake.DsId())
	}

	<-self.ctx.Done()
	self.setState(LinkStateStopping)
	self.setActive(false)
	transport.Close()
	if self.NodesChanged() {
		if err := self.SaveNodes(); err != nil {
			glog.Warningf("saving nodes failed: %s", err)
		}
	}
	self.setState(LinkStateStopped)
	glog.Infof("link stopped")
	return nil
}

// Stop requests shutdown. Scheduled work and in-flight notifications are
// canceled as a unit through the link context.
func (self *Link) Stop() {
	self.cancel()
}

func (self *Link) Done() <-chan struct{} {
	return self.ctx.Done()
}

func (self *Link) State() LinkState {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	return self.state
}

func (self *Link) setState(state LinkState) {
	self.stateMu.Lock()
	previous := self.state
	self.state = state
	self.stateMu.Unlock()
	glog.V(1).Infof("link state %s -> %s", previous, state)
}

// Active reports whether the session is established. The notifier
// consults this before emitting traffic for non-standalone structures.
func (self *Link) Active() bool {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	return self.active
}

func (self *Link) setActive(active bool) {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	self.active = active
}

// NodesChanged reports whether the structure mutated since the last save.
func (self *Link) NodesChanged() bool {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	return self.nodesChanged
}

func (self *Link) markNodesChanged() {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	self.nodesChanged = true
}

func (self *Link) setTransport(transport Transport) {
	self.stateMu.Lock()
	defer self.stateMu.Unlock()
	self.transport = transport
}

// send pushes one outbound message through the current transport.
// Fire-and-forget: failures are logged, not returned, and nothing is
// sent before a transport exists.
func (self *Link) send(msg *Message) {
	self.stateMu.Lock()
	transport := self.transport
	self.stateMu.Unlock()
	if transport == nil {
		glog.V(1).Infof("dropping message, no transport")
		return
	}
	if err := transport.SendMessage(msg); err != nil {
		glog.Infof("send error = %s", err)
	}
}

func (self *Link) handleMessage(msg *Message) {
	if 0 < len(msg.Requests) && self.responder != nil {
		responses := self.responder.HandleRequests(msg.Requests)
		if 0 < len(responses) {
			self.send(&Message{
				Responses: responses,
			})
		}
	}
	if 0 < len(msg.Responses) && self.requester != nil {
		self.requester.HandleResponses(msg.Responses)
	}
}

// SaveNodes writes the node structure to NodesPath and clears the
// structure-changed flag.
func (self *Link) SaveNodes() error {
	if self.responder == nil || self.config.NodesPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(self.responder.SuperRoot().ToJSON(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(self.config.NodesPath, data, 0644); err != nil {
		return err
	}
	self.stateMu.Lock()
	self.nodesChanged = false
	self.stateMu.Unlock()
	return nil
}

// LoadNodes populates the structure from NodesPath when the file exists.
func (self *Link) LoadNodes() error {
	if self.responder == nil || self.config.NodesPath == "" {
		return nil
	}
	data, err := os.ReadFile(self.config.NodesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	self.responder.LoadJSON(obj)
	glog.Infof("loaded node structure from %s", self.config.NodesPath)
	return nil
}
