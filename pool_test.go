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
	"sync"
	"testing"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/conn/conntest"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, endpoint cluster.Endpoint) conn.Conn {
	t.Helper()
	return conntest.NewFactory().New(endpoint, conn.Options{})
}

func TestGetOrInstallIsSingleWinner(t *testing.T) {
	t.Parallel()
	pool := newConnPool()
	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}

	const callers = 32
	collections := make([]*connsCollection, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collections[i] = pool.getOrInstall(endpoint)
		}()
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		require.Same(t, collections[0], collections[i],
			"every caller must observe the same collection")
	}
}

func TestCollectionRejectsDuplicates(t *testing.T) {
	t.Parallel()
	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	collection := newConnsCollection(endpoint)
	connection := newTestConn(t, endpoint)

	require.True(t, collection.tryAdd(connection))
	require.False(t, collection.tryAdd(connection))
	require.Equal(t, 1, collection.size())

	got, ok := collection.tryGet(connection.ID())
	require.True(t, ok)
	require.Same(t, connection, got)
}

func TestCollectionEraseWinsOnce(t *testing.T) {
	t.Parallel()
	endpoint := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	collection := newConnsCollection(endpoint)
	connection := newTestConn(t, endpoint)
	require.True(t, collection.tryAdd(connection))

	const callers = 16
	wins := make(chan conn.Conn, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if removed, ok := collection.tryErase(connection.ID()); ok {
				wins <- removed
			}
		}()
	}
	wg.Wait()
	close(wins)

	require.Len(t, wins, 1, "exactly one eraser wins")
	require.Equal(t, 0, collection.size())
}

func TestPoolSizeSumsCollections(t *testing.T) {
	t.Parallel()
	pool := newConnPool()
	first := cluster.Endpoint{Host: "10.0.0.1", Port: 9042}
	second := cluster.Endpoint{Host: "10.0.0.2", Port: 9042}

	pool.getOrInstall(first).tryAdd(newTestConn(t, first))
	pool.getOrInstall(first).tryAdd(newTestConn(t, first))
	pool.getOrInstall(second).tryAdd(newTestConn(t, second))

	require.Equal(t, 3, pool.size())
	require.Len(t, pool.snapshot(), 2)
}
