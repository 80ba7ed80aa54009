package dslink

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// AuthToken derives the connection auth parameter from the broker-issued
// salt and the handshake shared secret:
// base64url(sha256(salt ++ secret)) with padding stripped. It must be
// recomputed whenever the broker issues a new salt.
func AuthToken(salt string, sharedSecret []byte) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write(sharedSecret)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// TokenParam builds the query fragment for a configured broker access
// token: the first 16 characters of the token followed by
// base64url(sha256(dsId ++ token)). Empty token, empty fragment.
func TokenParam(dsId string, token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(dsId + token))
	prefix := token
	if 16 < len(prefix) {
		prefix = prefix[:16]
	}
	return "&token=" + prefix + base64.RawURLEncoding.EncodeToString(sum[:])
}

// SessionUrl is the fully negotiated websocket connect address.
type SessionUrl struct {
	Url  string
	Port int
}

// BuildConnectUrl combines the broker base address, the negotiated
// websocket path, the device identity, and the session credentials into
// the transport connect URL. The broker's trailing path segment (the
// handshake endpoint) is stripped and the scheme is rewritten http->ws,
// https->wss. The builder is a pure function of its inputs.
func BuildConnectUrl(
	broker string,
	wsPath string,
	dsId string,
	needsAuth bool,
	salt string,
	sharedSecret []byte,
	token string,
) (*SessionUrl, error) {
	base, err := url.Parse(broker)
	if err != nil {
		return nil, fmt.Errorf("malformed broker url %s: %w", broker, err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("malformed broker url %s: unsupported scheme", broker)
	}

	basePath := ""
	if base.Path != "" && base.Path != "/" {
		basePath = strings.TrimSuffix(path.Dir(base.Path), "/")
		if basePath == "." {
			basePath = ""
		}
	}
	if wsPath == "" {
		wsPath = "/ws"
	} else if !strings.HasPrefix(wsPath, "/") {
		wsPath = "/" + wsPath
	}

	connectUrl := fmt.Sprintf(
		"%s://%s%s%s?dsId=%s",
		base.Scheme,
		base.Host,
		basePath,
		wsPath,
		url.QueryEscape(dsId),
	)
	if needsAuth {
		connectUrl += "&auth=" + AuthToken(salt, sharedSecret)
	}
	connectUrl += TokenParam(dsId, token)

	parsed, err := url.Parse(connectUrl)
	if err != nil {
		return nil, fmt.Errorf("malformed connect url %s: %w", connectUrl, err)
	}
	port := 80
	if portStr := parsed.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("malformed connect url %s: %w", connectUrl, err)
		}
	}

	return &SessionUrl{
		Url:  connectUrl,
		Port: port,
	}, nil
}
