package broker

import (
	"fmt"
	"strings"

	"github.com/dyluth/cerebrum/pkg/protocol"
)

// TopicChannel returns the Redis Pub/Sub channel carrying topic for an
// instance. Pattern: cerebrum:{instance}:topic:{topic}
func TopicChannel(instance string, topic protocol.Topic) string {
	return fmt.Sprintf("cerebrum:%s:topic:%s", instance, topic)
}

// TopicPattern matches every topic channel of an instance.
func TopicPattern(instance string) string {
	return fmt.Sprintf("cerebrum:%s:topic:*", instance)
}

// TopicFromChannel extracts the topic from a channel name produced by
// TopicChannel.
func TopicFromChannel(instance, channel string) (protocol.Topic, error) {
	prefix := fmt.Sprintf("cerebrum:%s:topic:", instance)
	if !strings.HasPrefix(channel, prefix) {
		return "", fmt.Errorf("channel %q does not belong to instance %q", channel, instance)
	}
	return protocol.ParseTopic(strings.TrimPrefix(channel, prefix))
}

// ValidateInstance rejects instance names that would break key patterns.
func ValidateInstance(instance string) error {
	if instance == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if strings.ContainsAny(instance, "*?[]\\: ") {
		return fmt.Errorf("invalid instance name %q: must not contain glob characters, colons or spaces", instance)
	}
	return nil
}
