package callinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestTwilioResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Calls/CA456.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"from": "+15550001111", "to": "+15559990000"}`))
	}))
	defer server.Close()

	resolver, err := NewTwilioResolver(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		APIURL:     server.URL,
	}, testLogger())
	require.NoError(t, err)

	info, err := resolver.Resolve(context.Background(), "CA456")
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", info.CallerID)
	assert.Equal(t, "+15559990000", info.To)
}

func TestTwilioResolveErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver, err := NewTwilioResolver(TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		APIURL:     server.URL,
	}, testLogger())
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "CA456")
	assert.Error(t, err)
}

func TestTwilioResolverRequiresCredentials(t *testing.T) {
	_, err := NewTwilioResolver(TwilioConfig{}, testLogger())
	assert.Error(t, err)
}

func TestStaticResolver(t *testing.T) {
	info, err := StaticResolver{CallerID: "agent-1"}.Resolve(context.Background(), "any")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", info.CallerID)
}

func TestPlaceholderUnique(t *testing.T) {
	assert.NotEqual(t, Placeholder(), Placeholder())
}
