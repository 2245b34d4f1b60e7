package broker

import (
	"testing"

	"github.com/dyluth/cerebrum/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicChannel_RoundTrip(t *testing.T) {
	for _, topic := range protocol.Topics() {
		channel := TopicChannel("prod", topic)
		got, err := TopicFromChannel("prod", channel)
		require.NoError(t, err)
		assert.Equal(t, topic, got)
	}

	assert.Equal(t, "cerebrum:prod:topic:/task/present_report", TopicChannel("prod", protocol.TopicPresentReport))
	assert.Equal(t, "cerebrum:prod:topic:*", TopicPattern("prod"))
}

func TestTopicFromChannel_Errors(t *testing.T) {
	_, err := TopicFromChannel("prod", "cerebrum:dev:topic:system/shutdown")
	assert.Error(t, err)

	_, err = TopicFromChannel("prod", "cerebrum:prod:topic:system/reboot")
	assert.Error(t, err)
}

func TestValidateInstance(t *testing.T) {
	assert.NoError(t, ValidateInstance("default"))
	assert.NoError(t, ValidateInstance("team-a_1"))

	for _, bad := range []string{"", "a*b", "a:b", "a b", "a[1]", "a?"} {
		assert.Error(t, ValidateInstance(bad), bad)
	}
}
