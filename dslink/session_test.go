package dslink

import (
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestAuthToken(t *testing.T) {
	// fixed vector: base64url(sha256("abcsecret")) with padding stripped
	assert.Equal(t,
		"pCF4t3MnP1yfJDh_vqVGr1N9CLjAayNjHkSHi5zkf0k",
		AuthToken("abc", []byte("secret")))

	// a new salt changes the token
	assert.NotEqual(t, AuthToken("abc", []byte("secret")), AuthToken("def", []byte("secret")))
}

func TestTokenParam(t *testing.T) {
	assert.Equal(t, "", TokenParam("mydsid", ""))

	assert.Equal(t,
		"&token=sometoken123-XtfVuxSw1mv0EJt6GCTBvXK--IjYOZ8pq6Ek-pLuu8",
		TokenParam("mydsid", "sometoken123"))

	// long tokens contribute only their first 16 characters in the clear
	assert.Equal(t,
		"&token=0123456789abcdeffdQelub2HZ33xcg-tvmS7tXILTN5xsmp2dBU6JXG0CM",
		TokenParam("mydsid", "0123456789abcdefGHIJ"))
}

func TestBuildConnectUrl(t *testing.T) {
	session, err := BuildConnectUrl(
		"http://localhost:8080/conn", "/ws", "mylink-abc", false, "", nil, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://localhost:8080/ws?dsId=mylink-abc", session.Url)
	assert.Equal(t, 8080, session.Port)

	// no explicit port defaults to 80
	session, err = BuildConnectUrl(
		"http://broker.example/conn", "", "d", false, "", nil, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://broker.example/ws?dsId=d", session.Url)
	assert.Equal(t, 80, session.Port)

	// https rewrites to wss
	session, err = BuildConnectUrl(
		"https://broker.example/conn", "/ws", "d", false, "", nil, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, strings.HasPrefix(session.Url, "wss://"))

	// nested handshake paths keep their base
	session, err = BuildConnectUrl(
		"http://broker.example/sub/conn", "/ws", "d", false, "", nil, "")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://broker.example/sub/ws?dsId=d", session.Url)
}

func TestBuildConnectUrlAuth(t *testing.T) {
	session, err := BuildConnectUrl(
		"http://localhost:8080/conn", "/ws", "d", true, "abc", []byte("secret"), "")
	assert.Equal(t, nil, err)
	assert.Equal(t,
		"ws://localhost:8080/ws?dsId=d&auth=pCF4t3MnP1yfJDh_vqVGr1N9CLjAayNjHkSHi5zkf0k",
		session.Url)

	// with a configured access token the fragment comes last
	session, err = BuildConnectUrl(
		"http://localhost:8080/conn", "/ws", "mydsid", true, "abc", []byte("secret"), "sometoken123")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, strings.HasSuffix(session.Url,
		"&token=sometoken123-XtfVuxSw1mv0EJt6GCTBvXK--IjYOZ8pq6Ek-pLuu8"))
}

func TestBuildConnectUrlIdempotent(t *testing.T) {
	first, err := BuildConnectUrl(
		"http://localhost:8080/conn", "/ws", "d", true, "abc", []byte("secret"), "tok")
	assert.Equal(t, nil, err)
	second, err := BuildConnectUrl(
		"http://localhost:8080/conn", "/ws", "d", true, "abc", []byte("secret"), "tok")
	assert.Equal(t, nil, err)
	assert.Equal(t, first.Url, second.Url)
	assert.Equal(t, first.Port, second.Port)
}

func TestBuildConnectUrlErrors(t *testing.T) {
	_, err := BuildConnectUrl("://bad", "/ws", "d", false, "", nil, "")
	assert.NotEqual(t, nil, err)

	_, err = BuildConnectUrl("ftp://broker/conn", "/ws", "d", false, "", nil, "")
	assert.NotEqual(t, nil, err)
}
