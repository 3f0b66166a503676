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
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// connPool maps endpoints to their connection collections. The first
// caller for an endpoint installs an empty collection; the install race
// has a single winner and every caller observes the same instance.
type connPool struct {
	entries cmap.ConcurrentMap[string, *connsCollection]
}

func newConnPool() *connPool {
	return &connPool{entries: cmap.New[*connsCollection]()}
}

func (p *connPool) getOrInstall(endpoint cluster.Endpoint) *connsCollection {
	key := endpoint.String()
	for {
		if collection, ok := p.entries.Get(key); ok {
			return collection
		}
		p.entries.SetIfAbsent(key, newConnsCollection(endpoint))
	}
}

func (p *connPool) snapshot() []*connsCollection {
	out := make([]*connsCollection, 0, p.entries.Count())
	for item := range p.entries.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}

func (p *connPool) size() int {
	total := 0
	for _, collection := range p.snapshot() {
		total += collection.size()
	}
	return total
}

// connsCollection is the concurrent membership set of one endpoint's
// connections, keyed by connection id. The underlying map is striped,
// so there is no collection-wide lock either.
type connsCollection struct {
	endpoint cluster.Endpoint
	conns    cmap.ConcurrentMap[string, conn.Conn]
}

func newConnsCollection(endpoint cluster.Endpoint) *connsCollection {
	return &connsCollection{endpoint: endpoint, conns: cmap.New[conn.Conn]()}
}

// tryAdd inserts the connection, rejecting duplicates.
func (c *connsCollection) tryAdd(connection conn.Conn) bool {
	return c.conns.SetIfAbsent(connection.ID().String(), connection)
}

func (c *connsCollection) tryGet(id uuid.UUID) (conn.Conn, bool) {
	return c.conns.Get(id.String())
}

// tryErase removes and returns the connection with the given id. Only
// one concurrent caller wins the removal.
func (c *connsCollection) tryErase(id uuid.UUID) (conn.Conn, bool) {
	return c.conns.Pop(id.String())
}

func (c *connsCollection) size() int {
	return c.conns.Count()
}

// snapshot returns the current members. Mutations during a caller's
// iteration of the result are safe; the slice is a point-in-time copy.
func (c *connsCollection) snapshot() []conn.Conn {
	out := make([]conn.Conn, 0, c.conns.Count())
	for item := range c.conns.IterBuffered() {
		out = append(out, item.Val)
	}
	return out
}
