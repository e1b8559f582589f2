package connection

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/chatstream/chatstream/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint(t *testing.T) {
	base, err := url.Parse("wss://chat.example.com/connect?region=eu")
	require.NoError(t, err)

	raw := Endpoint(base, Credentials{APIKey: "key", UserID: "u1", UserName: "Ann", Token: "jwt"})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/connect", u.Path)

	q := u.Query()
	assert.Equal(t, "eu", q.Get("region"), "existing query parameters are kept")
	assert.Equal(t, "key", q.Get("api_key"))
	assert.Equal(t, "jwt", q.Get("authorization"))
	assert.Equal(t, "jwt", q.Get("stream-auth-type"))

	var req protocol.ConnectRequest
	require.NoError(t, json.Unmarshal([]byte(q.Get("json")), &req))
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "Ann", req.UserDetails.Name)
	assert.True(t, req.ServerDeterminesConnectionID)

	assert.Equal(t, "wss://chat.example.com/connect?region=eu", base.String(), "base is not modified")
}

func TestEndpointAnonymous(t *testing.T) {
	base, _ := url.Parse("ws://localhost:8080/connect")
	u, err := url.Parse(Endpoint(base, Credentials{APIKey: "key", UserID: "guest"}))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "anonymous", q.Get("stream-auth-type"))
	assert.False(t, q.Has("authorization"))
}
