package mqtt

import (
	"fmt"
	"strings"
)

// TopicBuilder maps logical queue names onto MQTT topics.
// Pattern: {root}/{queue}
type TopicBuilder struct {
	root string
}

// NewTopicBuilder creates a TopicBuilder under the given root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Topic returns the topic carrying queue.
func (b *TopicBuilder) Topic(queue string) string {
	return fmt.Sprintf("%s/%s", b.root, queue)
}

// Queue returns the queue carried by topic, or false if topic is outside the root.
func (b *TopicBuilder) Queue(topic string) (string, bool) {
	q, ok := strings.CutPrefix(topic, b.root+"/")
	if !ok || q == "" || strings.Contains(q, "/") {
		return "", false
	}
	return q, true
}
