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

package streams

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireAllStreams(t *testing.T) {
	t.Parallel()
	alloc := New()
	seen := map[int]struct{}{}
	for i := 0; i < NumStreams-1; i++ {
		id, ok := alloc.Acquire()
		require.True(t, ok)
		require.Greater(t, id, 0, "stream 0 is reserved for events")
		require.Less(t, id, NumStreams)
		_, dup := seen[id]
		require.False(t, dup, "id %d handed out twice", id)
		seen[id] = struct{}{}
	}
	require.Equal(t, NumStreams-1, alloc.InUse())
	require.Equal(t, 0, alloc.Available())

	_, ok := alloc.Acquire()
	require.False(t, ok, "exhausted allocator must not hand out ids")
}

func TestReleaseAndReacquire(t *testing.T) {
	t.Parallel()
	alloc := New()
	id, ok := alloc.Acquire()
	require.True(t, ok)
	require.Equal(t, 1, alloc.InUse())

	require.True(t, alloc.Release(id))
	require.Equal(t, 0, alloc.InUse())
	require.False(t, alloc.Release(id), "double release must fail")

	require.False(t, alloc.Release(0), "event stream is not releasable")
	require.False(t, alloc.Release(-1))
	require.False(t, alloc.Release(NumStreams))
}

func TestConcurrentAcquireIsUnique(t *testing.T) {
	t.Parallel()
	alloc := New()
	const workers = 16
	ids := make(chan int, NumStreams)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok := alloc.Acquire()
				if !ok {
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int]struct{}{}
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "id %d handed out twice", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, NumStreams-1)
}
