package dslink

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// Transport is the outbound side of the broker connection. The core only
// writes to it; inbound frames are routed by the responder/requester
// dispatch. Sends are fire-and-forget: they never await acknowledgment.
type Transport interface {
	SendMessage(msg *Message) error
	Close()
}

// MessageHandler receives every inbound frame, on the transport's read
// goroutine.
type MessageHandler func(msg *Message)

type WsTransportSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingTimeout        time.Duration
	SendBufferSize     int
}

func DefaultWsTransportSettings() *WsTransportSettings {
	return &WsTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingTimeout:        30 * time.Second,
		SendBufferSize:     32,
	}
}

// WsTransport drives one websocket session: a send loop that stamps the
// msg counter and keeps the connection alive, and a read loop that feeds
// the message handler. Reconnect policy lives with the host, not here.
type WsTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws       *websocket.Conn
	handler  MessageHandler
	settings *WsTransportSettings

	send chan *Message
}

func ConnectWs(
	ctx context.Context,
	url string,
	handler MessageHandler,
	settings *WsTransportSettings,
) (*WsTransport, error) {
	if settings == nil {
		settings = DefaultWsTransportSettings()
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &WsTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		ws:       ws,
		handler:  handler,
		settings: settings,
		send:     make(chan *Message, settings.SendBufferSize),
	}
	go transport.sendLoop()
	go transport.receiveLoop()
	return transport, nil
}

// SendMessage enqueues one outbound frame. It fails only when the
// transport is closed, so notification call sites cannot deadlock on
// shutdown.
func (self *WsTransport) SendMessage(msg *Message) error {
	select {
	case <-self.ctx.Done():
		return ErrClosed
	case self.send <- msg:
		return nil
	}
}

func (self *WsTransport) sendLoop() {
	defer self.cancel()

	nextMsg := 0
	write := func(msg *Message) error {
		nextMsg += 1
		msg.Msg = nextMsg
		self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return self.ws.WriteJSON(msg)
	}

	for {
		select {
		case <-self.ctx.Done():
			return
		case msg := <-self.send:
			if err := write(msg); err != nil {
				// a websocket deadline timeout cannot be recovered
				glog.Infof("[ws]-> error = %s", err)
				return
			}
			glog.V(2).Infof("[ws]-> msg=%d responses=%d requests=%d", msg.Msg, len(msg.Responses), len(msg.Requests))
		case <-time.After(self.settings.PingTimeout):
			if err := write(&Message{}); err != nil {
				return
			}
			glog.V(2).Infof("[ws]-> ping")
		}
	}
}

func (self *WsTransport) receiveLoop() {
	defer func() {
		self.cancel()
		self.ws.Close()
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		var msg Message
		if err := self.ws.ReadJSON(&msg); err != nil {
			glog.Infof("[ws]<- error = %s", err)
			return
		}
		if len(msg.Requests) == 0 && len(msg.Responses) == 0 {
			// ping
			glog.V(2).Infof("[ws]<- ping")
			continue
		}
		glog.V(2).Infof("[ws]<- msg=%d responses=%d requests=%d", msg.Msg, len(msg.Responses), len(msg.Requests))
		if self.handler != nil {
			self.handler(&msg)
		}
	}
}

func (self *WsTransport) Close() {
	self.cancel()
	self.ws.Close()
}
