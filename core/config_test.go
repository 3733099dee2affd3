package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "L0", c.DefaultAutomationLevel)
	assert.Equal(t, 8443, c.WebhookPort)
	assert.False(t, c.EnableL2)
}

func TestNewConfigAppliesOptionsOverEnv(t *testing.T) {
	os.Setenv("DETECTFORGE_WEBHOOK_PORT", "9000")
	defer os.Unsetenv("DETECTFORGE_WEBHOOK_PORT")

	c, err := NewConfig(WithWebhook("127.0.0.1", 7000))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.WebhookHost)
	assert.Equal(t, 7000, c.WebhookPort)
}

func TestValidateRejectsBadAutomationLevel(t *testing.T) {
	c := DefaultConfig()
	c.DefaultAutomationLevel = "L9"
	err := c.Validate()
	require.Error(t, err)
}

func TestValidateRejectsBadPort(t *testing.T) {
	c := DefaultConfig()
	c.WebhookPort = 99999
	require.Error(t, c.Validate())
}
