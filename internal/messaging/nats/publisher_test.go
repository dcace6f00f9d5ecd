package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	p := NewPublisher(nil, "registry.")
	assert.Equal(t, "registry.challenge", p.Subject("challenge"))
	assert.Equal(t, "registry.registry.events", p.Subject("registry:events"))

	bare := NewPublisher(nil, "")
	assert.Equal(t, "exit_finalized", bare.Subject("exit_finalized"))
}

func TestPublishWithoutConnection(t *testing.T) {
	p := NewPublisher(nil, "registry")
	assert.Error(t, p.Publish(context.Background(), "challenge", []byte("{}")))
	assert.NoError(t, p.Close())
}
