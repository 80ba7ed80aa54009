package dslink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-playground/assert/v2"
)

func TestLinkStateString(t *testing.T) {
	assert.Equal(t, "created", LinkStateCreated.String())
	assert.Equal(t, "active", LinkStateActive.String())
	assert.Equal(t, "stopped", LinkStateStopped.String())
}

func TestLinkConfigValidate(t *testing.T) {
	config := &LinkConfig{}
	assert.NotEqual(t, nil, config.validate())

	config.Name = "test"
	assert.NotEqual(t, nil, config.validate())

	config.Broker = "http://localhost:8080/conn"
	assert.NotEqual(t, nil, config.validate())

	config.IsResponder = true
	assert.Equal(t, nil, config.validate())
}

func TestSaveLoadNodes(t *testing.T) {
	nodesPath := filepath.Join(t.TempDir(), "nodes.json")

	link, _, _ := newTestLink(t)
	link.config.NodesPath = nodesPath
	root := link.Responder().SuperRoot()
	sensor := NewNode("sensor", root)
	sensor.SetType(TypeNumber)
	root.AddChild(sensor)

	assert.Equal(t, true, link.NodesChanged())
	assert.Equal(t, nil, link.SaveNodes())
	assert.Equal(t, false, link.NodesChanged())

	reloaded, _, _ := newTestLink(t)
	reloaded.config.NodesPath = nodesPath
	assert.Equal(t, nil, reloaded.LoadNodes())
	restored, ok := reloaded.Responder().SuperRoot().Child("sensor")
	assert.Equal(t, true, ok)
	assert.Equal(t, TypeNumber, restored.Type())
}

// TestLinkRunLifecycle drives the full sequence against a fake broker:
// keypair load, handshake, connect, deferred activation, stop.
func TestLinkRunLifecycle(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan string, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/conn", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&handshakeResponse{
			WsUri: "/ws",
			Salt:  "0123",
		})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		connected <- r.URL.Query().Get("dsId")
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	onConnected := make(chan struct{}, 1)
	config := &LinkConfig{
		Name:        "test",
		Broker:      server.URL + "/conn",
		KeyPath:     filepath.Join(t.TempDir(), ".key"),
		IsResponder: true,
		OnConnected: func(superRoot *Node) {
			superRoot.AddChild(NewNode("ready", superRoot))
			onConnected <- struct{}{}
		},
	}
	settings := DefaultLinkSettings()
	settings.PostConnectDelay = 10 * time.Millisecond
	link := NewLinkWithSettings(context.Background(), config, settings)

	runDone := make(chan error, 1)
	go func() {
		runDone <- link.Run()
	}()

	select {
	case dsId := <-connected:
		// no temp key was issued, so the url carries no auth parameter
		assert.Equal(t, true, dsId != "")
	case <-time.After(10 * time.Second):
		t.Fatal("transport never connected")
	}

	select {
	case <-onConnected:
	case <-time.After(10 * time.Second):
		t.Fatal("post-connect hook never ran")
	}

	deadline := time.Now().Add(10 * time.Second)
	for link.State() != LinkStateActive {
		if time.Now().After(deadline) {
			t.Fatal("link never became active")
		}
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, true, link.Active())
	assert.Equal(t, true, link.Responder().SuperRoot().HasChild("ready"))

	link.Stop()
	select {
	case err := <-runDone:
		assert.Equal(t, nil, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after stop")
	}
	assert.Equal(t, LinkStateStopped, link.State())
	assert.Equal(t, false, link.Active())
}
