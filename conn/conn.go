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

// Package conn defines the contract between the session core and the
// per-connection I/O engine. The session never serializes CQL frames
// itself; it acquires a stream on a connection and hands the request
// over. Implementations own the codec, the socket, and the stream-id
// space.
package conn

import (
	"context"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/go-kit/log"
	"github.com/google/uuid"
)

// Stream is the small integer handle identifying one logical request on
// one connection. Stream 0 is reserved for server-push events, so valid
// request streams are strictly positive.
type Stream int16

// InvalidStream is the sentinel returned when no stream was acquirable.
const InvalidStream Stream = -1

// IsValid reports whether s identifies a usable request stream.
func (s Stream) IsValid() bool {
	return s > 0
}

// Credentials are opaque authentication material handed to each new
// connection. The session carries them but never inspects them.
type Credentials map[string]string

// Conn is a single full-duplex session to one endpoint, multiplexing
// concurrent logical requests over a finite stream-id space.
//
// Health is one-way: once Healthy reports false the connection never
// returns to service, it may only be drained and closed.
type Conn interface {
	// ID is the process-unique identity of this connection, used to key
	// it inside a pool without relying on pointer identity.
	ID() uuid.UUID
	Endpoint() cluster.Endpoint

	// Connect dials the endpoint and blocks until the connection is
	// usable or ctx is done.
	Connect(ctx context.Context) error
	// Reconnect re-establishes the connection in place after a
	// transport error, preserving identity.
	Reconnect(ctx context.Context) error

	// AcquireStream reserves a stream id, or InvalidStream when the
	// stream pool is exhausted.
	AcquireStream() Stream
	// ReleaseStream returns an unused stream id to the pool. Streams
	// handed to Query, Prepare or Execute are released by the
	// connection when the request completes.
	ReleaseStream(stream Stream)
	// InFlight is the number of streams currently reserved.
	InFlight() int

	Healthy() bool

	// Query sends the statement on the given stream. The returned
	// future completes on the connection's I/O goroutine.
	Query(query *Query, stream Stream) *Future
	// Prepare asks the server to prepare the statement; the future
	// resolves to a Result carrying the Prepared handle.
	Prepare(statement string, stream Stream) *Future
	// Execute runs a previously prepared statement with bound values.
	Execute(prepared *Prepared, values []interface{}, stream Stream) *Future
	// HasPrepared reports whether this connection knows the given
	// prepared-statement id.
	HasPrepared(id []byte) bool

	Close() error
}

// Options carries the session-provided capabilities into a new
// connection.
type Options struct {
	Credentials Credentials
	// OnError is invoked by the connection whenever a transport or
	// protocol error flips it unhealthy.
	OnError func(c Conn, err error)
	Logger  log.Logger
}

// Factory creates unconnected connections. The session dials them via
// Connect.
type Factory interface {
	New(endpoint cluster.Endpoint, opts Options) Conn
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(endpoint cluster.Endpoint, opts Options) Conn

func (f FactoryFunc) New(endpoint cluster.Endpoint, opts Options) Conn {
	return f(endpoint, opts)
}
