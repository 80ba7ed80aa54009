package dslink

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// recordingTransport captures outbound messages in order.
type recordingTransport struct {
	mu       sync.Mutex
	messages []*Message
}

func (self *recordingTransport) SendMessage(msg *Message) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.messages = append(self.messages, msg)
	return nil
}

func (self *recordingTransport) Close() {
}

func (self *recordingTransport) count() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.messages)
}

func (self *recordingTransport) message(i int) *Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.messages[i]
}

func (self *recordingTransport) last() *Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.messages[len(self.messages)-1]
}

// newTestLink returns an active link wired to a recording transport and a
// mock clock pinned to a known instant.
func newTestLink(t *testing.T) (*Link, *recordingTransport, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC))

	settings := DefaultLinkSettings()
	settings.Clock = mock

	config := &LinkConfig{
		Name:        "test",
		Broker:      "http://localhost:8080/conn",
		IsRequester: true,
		IsResponder: true,
	}
	link := NewLinkWithSettings(context.Background(), config, settings)

	transport := &recordingTransport{}
	link.setTransport(transport)
	link.setActive(true)
	return link, transport, mock
}

// testTs is the wire form of the mock clock's pinned instant.
const testTs = "2024-05-06T07:08:09.123456+00:00"
