package dslink

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/golang/glog"
)

// Keypair is the device's P-256 keypair. The dsId the broker knows the
// link by is derived from the public key, so the keypair must be stable
// across restarts: it is loaded from its file when present and generated
// and saved otherwise.
type Keypair struct {
	private *ecdh.PrivateKey
}

func GenerateKeypair() (*Keypair, error) {
	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{
		private: private,
	}, nil
}

func KeypairFromBase64(encoded string) (*Keypair, error) {
	keyBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("malformed keypair: %w", err)
	}
	private, err := ecdh.P256().NewPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("malformed keypair: %w", err)
	}
	return &Keypair{
		private: private,
	}, nil
}

func LoadOrGenerateKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return KeypairFromBase64(string(data))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	glog.Infof("generating new keypair at %s", path)
	keypair, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	if err := keypair.Save(path); err != nil {
		return nil, err
	}
	return keypair, nil
}

func (self *Keypair) Save(path string) error {
	encoded := base64.RawURLEncoding.EncodeToString(self.private.Bytes())
	return os.WriteFile(path, []byte(encoded), 0600)
}

func (self *Keypair) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(self.private.PublicKey().Bytes())
}

// DsId derives the device identity: the link name plus a base64url hash
// of the public key. It is immutable for the process lifetime.
func (self *Keypair) DsId(name string) string {
	sum := sha256.Sum256(self.private.PublicKey().Bytes())
	return name + "-" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// SharedSecret runs ECDH against the broker's base64url temp key.
func (self *Keypair) SharedSecret(tempKeyBase64 string) ([]byte, error) {
	remoteBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(tempKeyBase64, "="))
	if err != nil {
		return nil, fmt.Errorf("malformed temp key: %w", err)
	}
	remote, err := ecdh.P256().NewPublicKey(remoteBytes)
	if err != nil {
		return nil, fmt.Errorf("malformed temp key: %w", err)
	}
	return self.private.ECDH(remote)
}
