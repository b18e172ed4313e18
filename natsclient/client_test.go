package natsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jkerrors "github.com/c360/journeykit/errors"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.True(t, jkerrors.IsInvalid(err))

	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
}

func TestClientOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("test-client"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithTimeout(2*time.Second),
		WithDrainTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "test-client", c.name)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestOperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.Error(t, err)

	err = c.Publish("subject", []byte("data"))
	assert.Error(t, err)

	_, err = c.Subscribe("subject", func([]byte) {})
	assert.Error(t, err)

	_, err = c.GetKeyValueBucket(context.Background(), "bucket")
	assert.Error(t, err)
}

func TestCloseWithoutConnect(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	// Close on an unconnected client is a no-op, and so is a second Close.
	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))
}

func TestIsKVErrorClassifiers(t *testing.T) {
	assert.False(t, IsKVNotFoundError(nil))
	assert.False(t, IsKVConflictError(nil))

	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found (10037)")))

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.True(t, IsKVConflictError(errors.New("nats: wrong last sequence: 5")))

	assert.False(t, IsKVNotFoundError(errors.New("connection refused")))
	assert.False(t, IsKVConflictError(errors.New("connection refused")))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(errors.New("stream name already in use")))
	assert.True(t, isAlreadyExistsError(errors.New("bucket already exists")))
	assert.False(t, isAlreadyExistsError(errors.New("timeout")))
}
