package httpx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalHTTPClientTimeout(t *testing.T) {
	require.NotNil(t, Client())
	assert.Equal(t, defaultExternalHTTPTimeout, Client().Timeout)
}

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	assert.Equal(t, defaultExternalHTTPTimeout, ConfigureExternalHTTPClient(0))
	assert.Equal(t, defaultExternalHTTPTimeout, Client().Timeout)

	assert.Equal(t, 30*time.Second, ConfigureExternalHTTPClient(30))
	assert.Equal(t, 30*time.Second, Client().Timeout)
}
