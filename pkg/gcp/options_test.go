package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
)

func TestClientOptionsPrefersInlineCredentials(t *testing.T) {
	assert.Len(t, ClientOptions(config.GCPConfig{}), 0)
	assert.Len(t, ClientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, ClientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, ClientOptions(config.GCPConfig{CredentialsJSON: "   "}), 0)
}
