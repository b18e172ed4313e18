package frequency

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/natsclient"
	"github.com/c360/journeykit/pkg/retry"
)

// Bucket is the KV bucket holding daily counters. A TTL of a few days on
// the bucket keeps old counters from accumulating.
const Bucket = "frequency-caps"

var errCapReached = stderrors.New("frequency cap reached")

// KV is the Limiter on NATS JetStream KV. Each (contact, day) pair maps to
// an integer counter updated with CAS, so competing workers serialize on
// the revision check instead of racing a read-then-write.
type KV struct {
	store *natsclient.KVStore
}

// NewKV wraps a KV store over the frequency bucket
func NewKV(store *natsclient.KVStore) *KV {
	return &KV{store: store}
}

// TryConsume atomically takes one slot under the day's cap. A held
// marker per send key makes retries of one send reuse the slot they
// already paid for instead of consuming the cap again.
func (k *KV) TryConsume(ctx context.Context, contactID, sendKey string, at time.Time, cap int) (bool, error) {
	marker := "held." + sendKey
	if sendKey != "" {
		if _, err := k.store.Get(ctx, marker); err == nil {
			return true, nil
		} else if !natsclient.IsKVNotFoundError(err) {
			return false, errors.WrapTransient(err, "KV", "TryConsume", "read held marker")
		}
	}

	key := DayKey(contactID, at)

	err := k.store.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
		count := 0
		if len(current) > 0 {
			n, err := strconv.Atoi(string(current))
			if err != nil {
				return nil, retry.NonRetryable(err)
			}
			count = n
		}
		if cap > 0 && count >= cap {
			return nil, errCapReached
		}
		return []byte(strconv.Itoa(count + 1)), nil
	})
	if err != nil {
		if stderrors.Is(err, errCapReached) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "KV", "TryConsume", "increment counter")
	}

	if sendKey != "" {
		if _, err := k.store.Create(ctx, marker, []byte(key)); err != nil &&
			!stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return false, errors.WrapTransient(err, "KV", "TryConsume", "write held marker")
		}
	}
	return true, nil
}

// Count returns the slots consumed on the day
func (k *KV) Count(ctx context.Context, contactID string, at time.Time) (int, error) {
	entry, err := k.store.Get(ctx, DayKey(contactID, at))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return 0, nil
		}
		return 0, errors.WrapTransient(err, "KV", "Count", "read counter")
	}
	n, err := strconv.Atoi(string(entry.Value))
	if err != nil {
		return 0, errors.WrapFatal(err, "KV", "Count", "parse counter")
	}
	return n, nil
}
