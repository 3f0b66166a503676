// Copyright 2024 The cqlsession Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cqlsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/conn/conntest"
	"github.com/andrei-pavel/cqlsession/internal/clocktest"
	"github.com/stretchr/testify/require"
)

const testTTL = 10 * time.Second

type reapRecorder struct {
	mu     sync.Mutex
	reaped []conn.Conn
}

func (r *reapRecorder) onReap(connection conn.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reaped = append(r.reaped, connection)
}

func (r *reapRecorder) snapshot() []conn.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conn.Conn, len(r.reaped))
	copy(out, r.reaped)
	return out
}

func TestTrashcanRecyclesMostRecentFirst(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	var recorder reapRecorder
	trash := newTrashcan(testTTL, clock, recorder.onReap)
	defer trash.close()

	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	factory := conntest.NewFactory()
	first := factory.New(endpoint, conn.Options{})
	second := factory.New(endpoint, conn.Options{})

	require.True(t, trash.empty())
	trash.put(first)
	trash.put(second)
	require.False(t, trash.empty())

	require.Same(t, second, trash.recycle(endpoint))
	require.Same(t, first, trash.recycle(endpoint))
	require.Nil(t, trash.recycle(endpoint))
	require.True(t, trash.empty())
}

func TestTrashcanRecycleUnknownEndpoint(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	var recorder reapRecorder
	trash := newTrashcan(testTTL, clock, recorder.onReap)
	defer trash.close()

	require.Nil(t, trash.recycle(cluster.Endpoint{Host: "10.0.0.9", Port: 9042}))
}

func TestTrashcanReapsExpiredEntries(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	var recorder reapRecorder
	trash := newTrashcan(testTTL, clock, recorder.onReap)
	defer trash.close()

	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	stale := conntest.NewFactory().New(endpoint, conn.Options{})
	trash.put(stale)

	// one waiter: the reaper's ticker
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(testTTL)

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, 5*time.Second, time.Millisecond)
	require.Same(t, stale, recorder.snapshot()[0])
	require.True(t, trash.empty())
}

func TestTrashcanKeepsFreshEntriesOnSweep(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	var recorder reapRecorder
	trash := newTrashcan(testTTL, clock, recorder.onReap)
	defer trash.close()

	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	factory := conntest.NewFactory()
	stale := factory.New(endpoint, conn.Options{})
	trash.put(stale)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(testTTL / 2)

	fresh := factory.New(endpoint, conn.Options{})
	trash.put(fresh)
	clock.Advance(testTTL / 2)

	require.Eventually(t, func() bool {
		return len(recorder.snapshot()) == 1
	}, 5*time.Second, time.Millisecond)
	require.Same(t, stale, recorder.snapshot()[0])
	require.Same(t, fresh, trash.recycle(endpoint), "the younger entry survives the sweep")
}

func TestTrashcanDrainReturnsEverything(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	var recorder reapRecorder
	trash := newTrashcan(testTTL, clock, recorder.onReap)
	defer trash.close()

	factory := conntest.NewFactory()
	first := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	second := cluster.Endpoint{Host: "10.0.0.2", Port: 9042}
	trash.put(factory.New(first, conn.Options{}))
	trash.put(factory.New(first, conn.Options{}))
	trash.put(factory.New(second, conn.Options{}))

	require.Len(t, trash.drain(), 3)
	require.True(t, trash.empty())
	require.Empty(t, recorder.snapshot(), "drain bypasses the reap callback")
}

// A trashed connection that expires must be closed and give its counter
// slot back, leaving the rest of the endpoint's pool alone.
func TestSessionReapDecrementsCounter(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	factory := conntest.NewFactory()
	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	policy := cluster.NewRoundRobinPolicy(cluster.NewHost(endpoint, cluster.DistanceLocal))

	session, err := New(
		WithConnFactory(factory),
		WithLoadBalancingPolicy(policy),
		WithTrashcanTTL(testTTL),
		WithClock(clock),
		WithPoolingOptions(PoolingOptions{
			Local: HostPooling{CoreConnections: 1, MaxConnections: 2, MaxSimultaneousRequests: 1},
		}),
	)
	require.NoError(t, err)
	defer session.Close()

	factory.SetAutoComplete(false)
	_, err = session.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	_, err = session.Query(context.Background(), "SELECT 2")
	require.NoError(t, err)
	require.Equal(t, int64(2), session.ConnectionCount(endpoint))

	// soft-retire the second connection the way the decision table would
	collection := session.pool.getOrInstall(endpoint)
	conns := factory.ConnsTo(endpoint)
	require.Len(t, conns, 2)
	retired, ok := collection.tryErase(conns[1].ID())
	require.True(t, ok)
	session.trash.put(retired)
	require.Equal(t, int64(2), session.ConnectionCount(endpoint),
		"trashed connections still hold their slot")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(testTTL)

	require.Eventually(t, func() bool {
		return session.ConnectionCount(endpoint) == 1
	}, 5*time.Second, time.Millisecond)
	require.True(t, conns[1].Closed())
	require.Equal(t, 1, session.Size())
	require.False(t, session.Defunct(), "a populated pool never goes defunct")
}
