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

// Package conntest provides in-memory conn.Conn and conn.Factory
// implementations for testing session behavior without sockets. Fake
// connections use the real stream-id allocator, so stream accounting
// behaves exactly as it would on the wire.
package conntest

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/internal/streams"
	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// Factory creates fake connections and records every connection it ever
// made. Dial outcomes can be scripted per endpoint.
type Factory struct {
	mu           sync.Mutex
	dialErrs     map[string]error
	autoComplete bool
	conns        []*Conn
}

// NewFactory returns a factory whose connections dial successfully and
// complete requests immediately: queries and executes with a void
// result, prepares with a prepared result.
func NewFactory() *Factory {
	return &Factory{dialErrs: map[string]error{}, autoComplete: true}
}

// New implements conn.Factory.
func (f *Factory) New(endpoint cluster.Endpoint, opts conn.Options) conn.Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Conn{
		id:           uuid.New(),
		endpoint:     endpoint,
		opts:         opts,
		factory:      f,
		streams:      streams.New(),
		prepared:     map[string]*conn.Prepared{},
		autoComplete: f.autoComplete,
	}
	f.conns = append(f.conns, c)
	return c
}

// FailDials makes every subsequent dial to the endpoint fail with err.
func (f *Factory) FailDials(endpoint cluster.Endpoint, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErrs[endpoint.String()] = err
}

// RestoreDials makes dials to the endpoint succeed again.
func (f *Factory) RestoreDials(endpoint cluster.Endpoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dialErrs, endpoint.String())
}

// SetAutoComplete controls whether connections created from now on
// complete requests immediately (true) or hold them pending until
// CompletePending is called (false).
func (f *Factory) SetAutoComplete(auto bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoComplete = auto
}

// Conns returns every connection the factory has created, in creation
// order.
func (f *Factory) Conns() []*Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Conn, len(f.conns))
	copy(out, f.conns)
	return out
}

// ConnsTo returns the created connections for one endpoint.
func (f *Factory) ConnsTo(endpoint cluster.Endpoint) []*Conn {
	var out []*Conn
	for _, c := range f.Conns() {
		if c.endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

func (f *Factory) dialResult(endpoint cluster.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialErrs[endpoint.String()]
}

type pendingRequest struct {
	future *conn.Future
	stream conn.Stream
	result *conn.Result
}

// Conn is an in-memory connection. Zero value is not usable; create
// through a Factory.
type Conn struct {
	id       uuid.UUID
	endpoint cluster.Endpoint
	opts     conn.Options
	factory  *Factory
	streams  *streams.Allocator

	healthy   atomic.Bool
	connected atomic.Bool
	closed    atomic.Bool
	dials     atomic.Int64

	mu           sync.Mutex
	autoComplete bool
	statements   []string
	prepared     map[string]*conn.Prepared
	pending      []pendingRequest
}

var _ conn.Conn = (*Conn)(nil)

func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) Endpoint() cluster.Endpoint {
	return c.endpoint
}

func (c *Conn) Connect(ctx context.Context) error {
	c.dials.Inc()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.factory.dialResult(c.endpoint); err != nil {
		return err
	}
	c.connected.Store(true)
	c.healthy.Store(true)
	return nil
}

func (c *Conn) Reconnect(ctx context.Context) error {
	return c.Connect(ctx)
}

func (c *Conn) AcquireStream() conn.Stream {
	if !c.healthy.Load() {
		return conn.InvalidStream
	}
	id, ok := c.streams.Acquire()
	if !ok {
		return conn.InvalidStream
	}
	return conn.Stream(id)
}

func (c *Conn) ReleaseStream(stream conn.Stream) {
	if stream.IsValid() {
		c.streams.Release(int(stream))
	}
}

func (c *Conn) InFlight() int {
	return c.streams.InUse()
}

func (c *Conn) Healthy() bool {
	return c.healthy.Load() && !c.closed.Load()
}

func (c *Conn) Query(query *conn.Query, stream conn.Stream) *conn.Future {
	c.mu.Lock()
	c.statements = append(c.statements, query.Statement)
	c.mu.Unlock()
	return c.finish(stream, &conn.Result{Kind: ResultKindFor(query)})
}

func (c *Conn) Prepare(statement string, stream conn.Stream) *conn.Future {
	prepared := &conn.Prepared{ID: newPreparedID(), Statement: statement}
	c.mu.Lock()
	c.statements = append(c.statements, statement)
	c.prepared[hex.EncodeToString(prepared.ID)] = prepared
	c.mu.Unlock()
	return c.finish(stream, &conn.Result{Kind: conn.ResultPrepared, Prepared: prepared})
}

func (c *Conn) Execute(prepared *conn.Prepared, _ []interface{}, stream conn.Stream) *conn.Future {
	c.mu.Lock()
	c.statements = append(c.statements, prepared.Statement)
	c.mu.Unlock()
	return c.finish(stream, &conn.Result{Kind: conn.ResultVoid})
}

func (c *Conn) HasPrepared(id []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.prepared[hex.EncodeToString(id)]
	return ok
}

// AddPrepared seeds a prepared-statement handle, as if this connection
// had seen the prepare.
func (c *Conn) AddPrepared(prepared *conn.Prepared) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared[hex.EncodeToString(prepared.ID)] = prepared
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	c.connected.Store(false)
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Dials returns how many times Connect was attempted.
func (c *Conn) Dials() int64 {
	return c.dials.Load()
}

// Statements returns every statement sent on this connection.
func (c *Conn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.statements))
	copy(out, c.statements)
	return out
}

// SetHealthy flips the health flag directly.
func (c *Conn) SetHealthy(healthy bool) {
	c.healthy.Store(healthy)
}

// InjectError flips the connection unhealthy and reports err through
// the session's error callback, as a transport failure would.
func (c *Conn) InjectError(err error) {
	c.healthy.Store(false)
	if c.opts.OnError != nil {
		c.opts.OnError(c, err)
	}
}

// CompletePending completes every held request, releasing its stream.
// Only meaningful when the factory was put in manual-completion mode.
func (c *Conn) CompletePending() {
	c.mu.Lock()
	held := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, req := range held {
		c.streams.Release(int(req.stream))
		req.future.Complete(req.result)
	}
}

func (c *Conn) finish(stream conn.Stream, result *conn.Result) *conn.Future {
	future := conn.NewFuture(stream, func() { c.ReleaseStream(stream) })
	c.mu.Lock()
	auto := c.autoComplete
	if !auto {
		c.pending = append(c.pending, pendingRequest{future: future, stream: stream, result: result})
	}
	c.mu.Unlock()
	if auto {
		c.streams.Release(int(stream))
		future.Complete(result)
	}
	return future
}

// ResultKindFor returns the result kind a fake connection reports for
// the given query. Everything completes as a void result.
func ResultKindFor(*conn.Query) conn.ResultKind {
	return conn.ResultVoid
}

func newPreparedID() []byte {
	id := uuid.New()
	return id[:]
}
