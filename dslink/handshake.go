package dslink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
)

const ProtocolVersion = "1.1.2"

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

// Handshake negotiates the session with the broker. An unrecoverable
// authentication failure is fatal for the link.
type Handshake interface {
	Run(ctx context.Context) error
	DsId() string
	Salt() string
	SharedSecret() []byte
	NeedsAuth() bool
	WsPath() string
}

type handshakeRequest struct {
	PublicKey   string   `json:"publicKey"`
	IsRequester bool     `json:"isRequester"`
	IsResponder bool     `json:"isResponder"`
	Version     string   `json:"version"`
	Formats     []string `json:"formats"`
}

type handshakeResponse struct {
	WsUri   string `json:"wsUri"`
	Salt    string `json:"salt"`
	TempKey string `json:"tempKey"`
	Format  string `json:"format"`
}

// HttpHandshake posts the link's public key to the broker's handshake
// endpoint and derives the shared secret from the returned temp key.
// Authentication is required iff the broker returned a temp key.
type HttpHandshake struct {
	config  *LinkConfig
	keypair *Keypair
	client  *http.Client

	dsId         string
	salt         string
	sharedSecret []byte
	needsAuth    bool
	wsPath       string
}

func NewHttpHandshake(config *LinkConfig, keypair *Keypair) *HttpHandshake {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &HttpHandshake{
		config:  config,
		keypair: keypair,
		client: &http.Client{
			Transport: transport,
			Timeout:   defaultHttpTimeout,
		},
		dsId: keypair.DsId(config.Name),
	}
}

func (self *HttpHandshake) Run(ctx context.Context) error {
	requestBody, err := json.Marshal(&handshakeRequest{
		PublicKey:   self.keypair.PublicKeyBase64(),
		IsRequester: self.config.IsRequester,
		IsResponder: self.config.IsResponder,
		Version:     ProtocolVersion,
		Formats:     []string{"json"},
	})
	if err != nil {
		return err
	}

	handshakeUrl := self.config.Broker + "?dsId=" + self.dsId
	req, err := http.NewRequestWithContext(ctx, "POST", handshakeUrl, bytes.NewReader(requestBody))
	if err != nil {
		return fmt.Errorf("handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := self.client.Do(req)
	if err != nil {
		return fmt.Errorf("handshake post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("handshake rejected: %s", resp.Status)
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("handshake response: %w", err)
	}
	var response handshakeResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return fmt.Errorf("handshake response: %w", err)
	}

	self.salt = response.Salt
	self.wsPath = response.WsUri
	if response.TempKey == "" {
		self.needsAuth = false
		self.sharedSecret = nil
	} else {
		sharedSecret, err := self.keypair.SharedSecret(response.TempKey)
		if err != nil {
			return fmt.Errorf("handshake temp key: %w", err)
		}
		self.sharedSecret = sharedSecret
		self.needsAuth = true
	}

	glog.Infof("handshake complete dsId=%s auth=%t", self.dsId, self.needsAuth)
	return nil
}

func (self *HttpHandshake) DsId() string {
	return self.dsId
}

func (self *HttpHandshake) Salt() string {
	return self.salt
}

func (self *HttpHandshake) SharedSecret() []byte {
	return self.sharedSecret
}

func (self *HttpHandshake) NeedsAuth() bool {
	return self.needsAuth
}

func (self *HttpHandshake) WsPath() string {
	return self.wsPath
}
