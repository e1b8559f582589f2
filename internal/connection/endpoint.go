package connection

import (
	"encoding/json"
	"net/url"

	"github.com/chatstream/chatstream/internal/protocol"
)

// Credentials identify the user a connection is opened for.
type Credentials struct {
	APIKey   string
	UserID   string
	UserName string
	// Token is a JWT. Empty means an anonymous connection.
	Token string
}

// Endpoint builds the connect URL for creds on top of base. It is called for
// every attempt so refreshed credentials take effect on the next transport.
func Endpoint(base *url.URL, creds Credentials) string {
	req := protocol.ConnectRequest{
		UserID:                       creds.UserID,
		UserDetails:                  protocol.User{ID: creds.UserID, Name: creds.UserName},
		ServerDeterminesConnectionID: true,
	}
	// Marshalling a struct of strings cannot fail.
	payload, _ := json.Marshal(req)

	u := *base
	q := u.Query()
	q.Set("json", string(payload))
	q.Set("api_key", creds.APIKey)
	if creds.Token != "" {
		q.Set("authorization", creds.Token)
		q.Set("stream-auth-type", "jwt")
	} else {
		q.Set("stream-auth-type", "anonymous")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
