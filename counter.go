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
	"github.com/andrei-pavel/cqlsession/cluster"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/atomic"
)

// connCounter tracks the number of connections per endpoint: pooled,
// trashed and still dialing alike. Every successful tryIncrease is
// matched by exactly one decrease.
type connCounter struct {
	counts cmap.ConcurrentMap[string, *atomic.Int64]
}

func newConnCounter() *connCounter {
	return &connCounter{counts: cmap.New[*atomic.Int64]()}
}

func (c *connCounter) get(endpoint cluster.Endpoint) *atomic.Int64 {
	key := endpoint.String()
	for {
		if counter, ok := c.counts.Get(key); ok {
			return counter
		}
		c.counts.SetIfAbsent(key, atomic.NewInt64(0))
	}
}

// tryIncrease reserves a connection slot for the endpoint, bounded by
// maxConnections. It reports false, leaving the count unchanged, when
// the cap is already reached.
func (c *connCounter) tryIncrease(endpoint cluster.Endpoint, maxConnections int64) bool {
	counter := c.get(endpoint)
	for {
		current := counter.Load()
		if current >= maxConnections {
			return false
		}
		if counter.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (c *connCounter) decrease(endpoint cluster.Endpoint) {
	c.get(endpoint).Dec()
}

func (c *connCounter) count(endpoint cluster.Endpoint) int64 {
	return c.get(endpoint).Load()
}
