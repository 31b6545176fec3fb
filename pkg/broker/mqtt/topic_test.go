package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("skyrelay/")

	assert.Equal(t, "skyrelay/commands", b.Topic("commands"))
	assert.Equal(t, "skyrelay/responses", b.Topic("responses"))

	tests := []struct {
		topic string
		queue string
		ok    bool
	}{
		{"skyrelay/commands", "commands", true},
		{"skyrelay/responses", "responses", true},
		{"other/commands", "", false},
		{"skyrelay/", "", false},
		{"skyrelay/commands/extra", "", false},
	}
	for _, tt := range tests {
		q, ok := b.Queue(tt.topic)
		assert.Equal(t, tt.ok, ok, tt.topic)
		assert.Equal(t, tt.queue, q, tt.topic)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BrokerURL: "tcp://localhost:1883", ClientID: "a"}, false},
		{"tls", Config{BrokerURL: "mqtts://broker:8883", ClientID: "a"}, false},
		{"missing url", Config{ClientID: "a"}, true},
		{"missing client id", Config{BrokerURL: "tcp://localhost:1883"}, true},
		{"amqp scheme", Config{BrokerURL: "amqp://localhost:5672", ClientID: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
