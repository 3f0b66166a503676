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
	"time"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/internal"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// trashcan holds connections evicted from the pool so a usage spike
// shortly after a drain can recycle them instead of dialing fresh. A
// reaper closes entries that stay unclaimed past the TTL.
//
// The trashcan reaches back into the session only through onReap; it
// never holds session state, so tearing the session down just means
// stopping the reaper.
type trashcan struct {
	bins   cmap.ConcurrentMap[string, *trashBin]
	ttl    time.Duration
	clock  internal.Clock
	onReap func(conn.Conn)

	stop     chan struct{}
	stopOnce sync.Once
	reaped   sync.WaitGroup
}

type trashEntry struct {
	conn      conn.Conn
	deposited time.Time
}

type trashBin struct {
	mu      sync.Mutex
	entries []trashEntry
}

func newTrashcan(ttl time.Duration, clock internal.Clock, onReap func(conn.Conn)) *trashcan {
	t := &trashcan{
		bins:   cmap.New[*trashBin](),
		ttl:    ttl,
		clock:  clock,
		onReap: onReap,
		stop:   make(chan struct{}),
	}
	t.reaped.Add(1)
	go t.run()
	return t
}

// put deposits a connection, stamped with now. Non-blocking.
func (t *trashcan) put(connection conn.Conn) {
	bin := t.bin(connection.Endpoint())
	entry := trashEntry{conn: connection, deposited: t.clock.Now()}
	bin.mu.Lock()
	bin.entries = append(bin.entries, entry)
	bin.mu.Unlock()
}

// recycle returns the most recently deposited connection for the
// endpoint, or nil. The caller must verify health before reuse.
func (t *trashcan) recycle(endpoint cluster.Endpoint) conn.Conn {
	bin, ok := t.bins.Get(endpoint.String())
	if !ok {
		return nil
	}
	bin.mu.Lock()
	defer bin.mu.Unlock()
	if len(bin.entries) == 0 {
		return nil
	}
	last := len(bin.entries) - 1
	connection := bin.entries[last].conn
	bin.entries = bin.entries[:last]
	return connection
}

func (t *trashcan) empty() bool {
	for item := range t.bins.IterBuffered() {
		bin := item.Val
		bin.mu.Lock()
		n := len(bin.entries)
		bin.mu.Unlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// drain removes and returns every held connection, regardless of age.
func (t *trashcan) drain() []conn.Conn {
	var out []conn.Conn
	for item := range t.bins.IterBuffered() {
		bin := item.Val
		bin.mu.Lock()
		for _, entry := range bin.entries {
			out = append(out, entry.conn)
		}
		bin.entries = nil
		bin.mu.Unlock()
	}
	return out
}

// close stops the reaper. Held connections are not touched; use drain.
func (t *trashcan) close() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	t.reaped.Wait()
}

func (t *trashcan) bin(endpoint cluster.Endpoint) *trashBin {
	key := endpoint.String()
	for {
		if bin, ok := t.bins.Get(key); ok {
			return bin
		}
		t.bins.SetIfAbsent(key, &trashBin{})
	}
}

func (t *trashcan) run() {
	defer t.reaped.Done()
	ticker := t.clock.NewTicker(t.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.Chan():
			t.reap()
		}
	}
}

func (t *trashcan) reap() {
	for item := range t.bins.IterBuffered() {
		for _, connection := range item.Val.takeExpired(t.clock, t.ttl) {
			t.onReap(connection)
		}
	}
}

// takeExpired removes entries deposited at least ttl ago. Entries stay
// time-ordered (appends at the back, recycling pops the back), so the
// expired ones form a prefix.
func (b *trashBin) takeExpired(clock internal.Clock, ttl time.Duration) []conn.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	keep := 0
	for keep < len(b.entries) && clock.Since(b.entries[keep].deposited) >= ttl {
		keep++
	}
	if keep == 0 {
		return nil
	}
	expired := make([]conn.Conn, 0, keep)
	for _, entry := range b.entries[:keep] {
		expired = append(expired, entry.conn)
	}
	b.entries = append(b.entries[:0], b.entries[keep:]...)
	return expired
}
