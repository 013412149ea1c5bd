package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/comercio-backoffice/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/billing", topicResourceName("p1", "billing"))
	assert.Equal(t, "projects/other/topics/billing", topicResourceName("p1", "projects/other/topics/billing"))
	assert.Empty(t, topicResourceName("p1", "  "))
	assert.Empty(t, topicResourceName("", "billing"))
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	assert.Equal(t, []string{"billing"}, topicNames(config.PubSubConfig{BillingTopic: " billing "}))
	assert.Empty(t, topicNames(config.PubSubConfig{}))
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("billing"))
	_, err := c.Send(context.Background(), "billing", nil)
	assert.ErrorIs(t, err, ErrTopicNotConfigured)
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
