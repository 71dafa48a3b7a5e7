package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sutext.github.io/realtime/xerr"
)

func TestDeriveURL(t *testing.T) {
	cases := []struct {
		origin string
		want   string
	}{
		{"http://localhost:3000", "ws://localhost:3000/ws"},
		{"https://app.example.com", "wss://app.example.com/ws"},
		{"https://app.example.com/some/page?q=1", "wss://app.example.com/ws"},
		{"wss://edge.example.com/other", "wss://edge.example.com/ws"},
	}
	for _, tc := range cases {
		t.Run(tc.origin, func(t *testing.T) {
			got, err := DeriveURL(tc.origin)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveURLRejects(t *testing.T) {
	for _, origin := range []string{"ftp://example.com", "https://", "::bad"} {
		_, err := DeriveURL(origin)
		assert.ErrorIs(t, err, xerr.InvalidOrigin, origin)
	}
}

func TestCloseStatus(t *testing.T) {
	code, reason, clean := closeStatus(&CloseError{Code: CloseGoingAway, Reason: "bye"})
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "bye", reason)
	assert.True(t, clean)

	code, reason, clean = closeStatus(errors.New("eof"))
	assert.Equal(t, CloseAbnormal, code)
	assert.Equal(t, "eof", reason)
	assert.False(t, clean)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "CLOSING", StateClosing.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
}
