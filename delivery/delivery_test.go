package delivery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
)

func TestSendKey(t *testing.T) {
	assert.Equal(t, "exec-1.s2", SendKey("exec-1", "s2"))
}

func TestMemorySendDeduplicatesOnKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	req := SendRequest{
		IdempotencyKey: SendKey("exec-1", "s1"),
		ContactID:      "c-1",
		Email:          "a@example.com",
		Subject:        "Welcome",
	}

	first, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.DeliveryID)

	// Retried advance replays the same key: same delivery, no new send.
	second, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DeliveryID, second.DeliveryID)
	assert.Equal(t, 1, m.SendCount())

	// A different step sends normally.
	req.IdempotencyKey = SendKey("exec-1", "s4")
	third, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.Equal(t, 2, m.SendCount())
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.FailNext(2, errors.ErrDeliveryTimeout)

	req := SendRequest{IdempotencyKey: "k1"}
	_, err := m.Send(ctx, req)
	assert.ErrorIs(t, err, errors.ErrDeliveryTimeout)
	_, err = m.Send(ctx, req)
	assert.ErrorIs(t, err, errors.ErrDeliveryTimeout)

	// Third attempt succeeds, key was never recorded by the failures.
	receipt, err := m.Send(ctx, req)
	require.NoError(t, err)
	assert.False(t, receipt.Duplicate)
	assert.Equal(t, 1, m.SendCount())
}

func TestMemorySendHonorsCancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Send(ctx, SendRequest{IdempotencyKey: "k1"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestCallerPostsJSON(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	caller := NewCaller(WithTimeout(2 * time.Second))
	err := caller.Call(context.Background(), srv.URL, map[string]any{"contact_id": "c-1"})
	require.NoError(t, err)
	assert.Contains(t, gotBody.Load().(string), `"contact_id":"c-1"`)
}

func TestCallerStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		transient bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, true, false},
		{http.StatusNotFound, true, false},
		{http.StatusTooManyRequests, true, true},
		{http.StatusInternalServerError, true, true},
		{http.StatusBadGateway, true, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewCaller().Call(context.Background(), srv.URL, nil)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}
}

func TestCallerTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	caller := NewCaller(WithTimeout(50 * time.Millisecond))
	err := caller.Call(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrWebhookUnreachable)
}

func TestCallerUnreachableHost(t *testing.T) {
	caller := NewCaller(WithTimeout(time.Second))
	err := caller.Call(context.Background(), "http://127.0.0.1:1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
