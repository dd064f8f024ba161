package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/rentflow-backend/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicNamesSkipsBlankAndDuplicates(t *testing.T) {
	names := TopicNames(config.PubSubConfig{NotificationTopic: " rf-notify ", JobsTopic: "rf-notify"})
	assert.Equal(t, []string{"rf-notify"}, names)

	assert.Empty(t, TopicNames(config.PubSubConfig{}))
}

func TestTopicResourceName(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/jobs", TopicResourceName("p1", "jobs"))
	assert.Equal(t, "projects/other/topics/jobs", TopicResourceName("p1", "projects/other/topics/jobs"))
	assert.Empty(t, TopicResourceName("", "jobs"))
	assert.Empty(t, TopicResourceName("p1", "  "))
}

func TestNewClientRequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("jobs"))
	assert.Nil(t, c.NotificationPublisher())
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}

func TestClientOptionsPrefersInlineCredentials(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{ProjectID: "p1"}))
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
}
