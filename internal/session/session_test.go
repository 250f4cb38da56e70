package session

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHelperOutput(t *testing.T) {
	data := []byte(`{
		"user_agent": "Mozilla/5.0 (X11; Linux x86_64)",
		"cookies": [
			{"name": "session_id", "value": "abc123", "domain": "portal.example.gov", "path": "/", "secure": true},
			{"name": "gate_token", "value": "tok", "domain": ".example.gov"}
		]
	}`)

	sess, err := ParseHelperOutput(data)
	require.NoError(t, err)
	require.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", sess.UserAgent)
	require.False(t, sess.AcquiredAt.IsZero())

	u, err := url.Parse("https://portal.example.gov/docs/1")
	require.NoError(t, err)

	cookies := sess.Jar.Cookies(u)
	names := make([]string, len(cookies))
	for i, c := range cookies {
		names[i] = c.Name
	}
	require.Contains(t, names, "session_id")
	require.Contains(t, names, "gate_token")
}

func TestParseHelperOutputNoCookies(t *testing.T) {
	_, err := ParseHelperOutput([]byte(`{"cookies": []}`))
	require.Error(t, err)
}

func TestParseHelperOutputBadJSON(t *testing.T) {
	_, err := ParseHelperOutput([]byte(`not json`))
	require.Error(t, err)
}

func TestParseHelperOutputMissingDomain(t *testing.T) {
	_, err := ParseHelperOutput([]byte(`{"cookies":[{"name":"x","value":"y"}]}`))
	require.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	want := &Session{UserAgent: "ua"}
	p := &StaticProvider{Session: want}

	got, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, want, got)
}
