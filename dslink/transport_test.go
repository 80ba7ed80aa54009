package dslink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-playground/assert/v2"
)

func TestWsTransportSendReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverReceived := make(chan *Message, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		serverReceived <- &msg

		ws.WriteJSON(&Message{
			Msg: 1,
			Requests: []*Request{{
				Rid:    4,
				Method: MethodList,
				Path:   "/",
			}},
		})

		// hold the connection open until the client closes
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handled := make(chan *Message, 1)
	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http")
	transport, err := ConnectWs(context.Background(), wsUrl, func(msg *Message) {
		handled <- msg
	}, nil)
	assert.Equal(t, nil, err)
	defer transport.Close()

	assert.Equal(t, nil, transport.SendMessage(&Message{
		Responses: []*Response{{
			Rid:    0,
			Updates: []any{[]any{1, 5, testTs}},
		}},
	}))

	select {
	case msg := <-serverReceived:
		// the send loop stamps the msg counter
		assert.Equal(t, 1, msg.Msg)
		assert.Equal(t, 1, len(msg.Responses))
	case <-time.After(5 * time.Second):
		t.Fatal("server did not receive the message")
	}

	select {
	case msg := <-handled:
		assert.Equal(t, MethodList, msg.Requests[0].Method)
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not receive the inbound frame")
	}
}

func TestWsTransportClosed(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsUrl := "ws" + strings.TrimPrefix(server.URL, "http")
	transport, err := ConnectWs(context.Background(), wsUrl, nil, nil)
	assert.Equal(t, nil, err)

	transport.Close()
	// sends after close fail instead of blocking
	deadline := time.After(5 * time.Second)
	for {
		err := transport.SendMessage(&Message{})
		if err != nil {
			assert.Equal(t, ErrClosed, err)
			break
		}
		select {
		case <-deadline:
			t.Fatal("send did not fail after close")
		default:
		}
	}
}

func TestConnectWsRefused(t *testing.T) {
	_, err := ConnectWs(context.Background(), "ws://127.0.0.1:1/ws", nil, nil)
	assert.NotEqual(t, nil, err)
}
