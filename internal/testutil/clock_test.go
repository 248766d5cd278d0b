package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
	"github.com/jackfruitco/simworks-sub000/internal/outbox"
	"github.com/jackfruitco/simworks-sub000/internal/store"
)

func TestDeterministicClock(t *testing.T) {
	clock := NewDeterministicClock()
	require.Equal(t, Epoch, clock.Current())

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Millisecond), clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour+2*time.Millisecond), clock.Current())

	clock.Step = time.Second
	clock.Reset()
	clock.Now()
	assert.Equal(t, Epoch.Add(time.Second), clock.Current())
}

func TestDeterministicClock_ConcurrentReadingsAreUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, reads = 16, 200

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{}, workers*reads)
	)
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			local := make([]time.Time, reads)
			for i := range local {
				local[i] = clock.Now()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ts := range local {
				if _, dup := seen[ts]; dup {
					return fmt.Errorf("duplicate reading %v", ts)
				}
				seen[ts] = struct{}{}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, workers*reads)
}

func TestDeterministicClock_OrdersStoredRecords(t *testing.T) {
	clock := NewDeterministicClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "clock.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	svc := identity.Must(identity.DomainService, "chat", "patient", "initial")
	for _, id := range []string{"c-3", "c-1", "c-2"} {
		require.NoError(t, s.CreateCall(ctx, &outbox.CallRecord{CorrelationID: id, Service: svc, Namespace: "chat"}))
	}

	recs, err := s.ListCalls(ctx, outbox.ListFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c-3", recs[0].CorrelationID, "creation time orders before correlation id")
	assert.Equal(t, "c-1", recs[1].CorrelationID)
	assert.Equal(t, "c-2", recs[2].CorrelationID)
	assert.WithinDuration(t, Epoch, recs[0].CreatedAt, time.Millisecond)
}
