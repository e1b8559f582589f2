package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want FrameKind
	}{
		{"token expired", `{"error":{"code":40,"message":"JWT token expired","StatusCode":401}}`, FrameTokenExpired},
		{"generic error", `{"error":{"code":17,"message":"not allowed"}}`, FrameError},
		{"empty error body", `{"error":{}}`, FrameError},
		{"error wins over type", `{"type":"message.new","error":{"code":4}}`, FrameError},
		{"null error is an event", `{"type":"message.new","error":null}`, FrameEvent},
		{"string error field is an event", `{"type":"typing.start","error":"oops"}`, FrameEvent},
		{"health check", `{"type":"health.check","connection_id":"abc"}`, FrameEvent},
		{"message event", `{"type":"message.new","cid":"messaging:general","message":{"id":"m1","text":"hi"}}`, FrameEvent},
		{"odd typed field keeps type", `{"type":"custom.thing","created_at":"yesterday"}`, FrameEvent},
		{"missing type", `{"cid":"messaging:general"}`, FrameMalformed},
		{"not json", `hello`, FrameMalformed},
		{"array", `[1,2,3]`, FrameMalformed},
		{"null", `null`, FrameMalformed},
		{"empty", ``, FrameMalformed},
	}

	d := NewDecoder(clockwork.NewFakeClock())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := d.Decode(tt.raw)
			if f.Kind != tt.want {
				t.Errorf("Decode(%q).Kind = %s, want %s", tt.raw, f.Kind, tt.want)
			}
		})
	}
}

func TestDecodeTokenExpiredCarriesOnlyError(t *testing.T) {
	d := NewDecoder(nil)
	f := d.Decode(`{"error":{"code":40,"message":"expired"}}`)

	require.Equal(t, FrameTokenExpired, f.Kind)
	require.NotNil(t, f.Err)
	assert.True(t, f.Err.IsTokenExpired())
	assert.Nil(t, f.Event)
	assert.NoError(t, f.DecodeErr)
	assert.Equal(t, "stream error 40: expired", f.Err.Error())
}

func TestDecodeStampsReceiptTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(at)
	d := NewDecoder(clock)

	raw := `{"type":"message.new","created_at":"2020-01-01T00:00:00Z","message":{"id":"m1","text":"**bold**"}}`
	f := d.Decode(raw)

	require.Equal(t, FrameEvent, f.Kind)
	ev := f.Event
	assert.Equal(t, EventMessageNew, ev.Type)
	assert.True(t, ev.ReceivedAt.Equal(at), "ReceivedAt = %v, want %v", ev.ReceivedAt, at)
	assert.Equal(t, 2020, ev.CreatedAt.Year(), "server time kept separately")
	assert.Equal(t, "**bold**", ev.Text())
	assert.JSONEq(t, raw, string(ev.Raw))
}

func TestDecodeMissingType(t *testing.T) {
	f := NewDecoder(nil).Decode(`{"cid":"x"}`)
	assert.True(t, errors.Is(f.DecodeErr, ErrMissingType))
}

func TestHealthCheckFrame(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(HealthCheckFrame()), &ev))
	assert.True(t, ev.IsHealthCheck())
}

func TestEncodeErrorRoundTripsToTokenExpired(t *testing.T) {
	data, err := EncodeError(&APIError{Code: TokenExpiredCode, Message: "expired", StatusCode: 401})
	require.NoError(t, err)

	f := NewDecoder(nil).Decode(string(data))
	assert.Equal(t, FrameTokenExpired, f.Kind)
	assert.Equal(t, 401, f.Err.StatusCode)
}
