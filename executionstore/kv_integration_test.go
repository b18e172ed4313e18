package executionstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/natsclient"
)

type KVStoreSuite struct {
	suite.Suite
	tc    *natsclient.TestClient
	store *KV
	seq   int
}

func TestKVStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(KVStoreSuite))
}

func (s *KVStoreSuite) SetupSuite() {
	s.tc = natsclient.NewTestClient(s.T(),
		natsclient.WithKVBuckets(ExecutionBucket, DueIndexBucket, PairIndexBucket))

	ctx := context.Background()
	execBucket, err := s.tc.Client.GetKeyValueBucket(ctx, ExecutionBucket)
	s.Require().NoError(err)
	dueBucket, err := s.tc.Client.GetKeyValueBucket(ctx, DueIndexBucket)
	s.Require().NoError(err)
	pairBucket, err := s.tc.Client.GetKeyValueBucket(ctx, PairIndexBucket)
	s.Require().NoError(err)

	s.store = NewKV(
		s.tc.Client.NewKVStore(execBucket),
		s.tc.Client.NewKVStore(dueBucket),
		s.tc.Client.NewKVStore(pairBucket),
	)
}

func (s *KVStoreSuite) newExecution() *execution.Execution {
	s.seq++
	e := newTestExecution(fmt.Sprintf("kv-e-%d", s.seq))
	e.ContactID = fmt.Sprintf("kv-c-%d", s.seq)
	e.NextRunAt = time.Now().UTC().Add(-time.Second)
	return e
}

func (s *KVStoreSuite) TestCreateGetRoundTrip() {
	ctx := context.Background()
	e := s.newExecution()

	s.Require().NoError(s.store.Create(ctx, e))

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(e.WorkflowID, got.WorkflowID)
	s.Equal(e.ContactID, got.ContactID)
	s.Equal(execution.StatusRunning, got.Status)

	err = s.store.Create(ctx, e)
	s.Require().Error(err)
	s.True(errors.IsInvalid(err))

	_, err = s.store.Get(ctx, "kv-missing")
	s.ErrorIs(err, errors.ErrExecutionNotFound)
}

func (s *KVStoreSuite) TestAdvanceIdempotentAcrossReplay() {
	ctx := context.Background()
	e := s.newExecution()
	s.Require().NoError(s.store.Create(ctx, e))

	key := e.ID + ".s1"
	s.Require().NoError(s.store.Advance(ctx, e.ID, "s2", entry("s1", key), nil))
	s.Require().NoError(s.store.Advance(ctx, e.ID, "s9", entry("s1", key), nil))

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal("s2", got.CurrentStepID)
	s.Len(got.Log, 1)
}

func (s *KVStoreSuite) TestParkAndLoadDue() {
	ctx := context.Background()
	e := s.newExecution()
	s.Require().NoError(s.store.Create(ctx, e))

	now := time.Now().UTC()
	wakeAt := now.Add(time.Hour)
	s.Require().NoError(s.store.Park(ctx, e.ID, "s3", wakeAt, entry("s2", e.ID+".s2"), nil))

	// Not due before the wake time.
	due, err := s.store.LoadDue(ctx, now, 100)
	s.Require().NoError(err)
	for _, d := range due {
		s.NotEqual(e.ID, d.ID)
	}

	// Due once the clock passes it.
	due, err = s.store.LoadDue(ctx, wakeAt.Add(time.Second), 100)
	s.Require().NoError(err)
	found := false
	for _, d := range due {
		if d.ID == e.ID {
			found = true
			s.Equal("s3", d.CurrentStepID)
		}
	}
	s.True(found, "parked execution must surface from the due index after wakeAt")
}

func (s *KVStoreSuite) TestCompleteRemovesFromDueIndex() {
	ctx := context.Background()
	e := s.newExecution()
	s.Require().NoError(s.store.Create(ctx, e))

	s.Require().NoError(s.store.Complete(ctx, e.ID, entry("s5", e.ID+".s5"), nil))

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(execution.StatusCompleted, got.Status)

	due, err := s.store.LoadDue(ctx, time.Now().UTC().Add(time.Minute), 1000)
	s.Require().NoError(err)
	for _, d := range due {
		s.NotEqual(e.ID, d.ID)
	}

	s.ErrorIs(s.store.Advance(ctx, e.ID, "s6", entry("s5", e.ID+".again"), nil),
		errors.ErrExecutionFinished)
}

func (s *KVStoreSuite) TestClaimContention() {
	ctx := context.Background()
	e := s.newExecution()
	s.Require().NoError(s.store.Create(ctx, e))

	const workers = 6
	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.Claim(ctx, e.ID, fmt.Sprintf("worker-%d", n))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				s.ErrorIs(err, errors.ErrExecutionClaimed)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(1, winners, "exactly one worker may hold the claim")

	got, err := s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.NotEmpty(got.ClaimedBy)

	s.Require().NoError(s.store.Release(ctx, e.ID, got.ClaimedBy))
	got, err = s.store.Get(ctx, e.ID)
	s.Require().NoError(err)
	s.Empty(got.ClaimedBy)
}

func (s *KVStoreSuite) TestListFor() {
	ctx := context.Background()
	e1 := s.newExecution()
	s.Require().NoError(s.store.Create(ctx, e1))

	e2 := newTestExecution(e1.ID + "-second")
	e2.ContactID = e1.ContactID
	e2.StartedAt = e1.StartedAt.Add(time.Minute)
	s.Require().NoError(s.store.Create(ctx, e2))

	execs, err := s.store.ListFor(ctx, "wf-1", e1.ContactID)
	s.Require().NoError(err)
	s.Require().Len(execs, 2)
	s.Equal(e1.ID, execs[0].ID)
	s.Equal(e2.ID, execs[1].ID)
}
