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

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/internal"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// Session multiplexes application queries across a pool of long-lived
// connections to cluster nodes, selecting nodes according to the
// configured load-balancing policy and reusing in-flight protocol
// streams.
//
// A session is constructed not-ready; Init performs the first
// connection attempt. Multiple sessions may coexist in one process;
// they share nothing but the policy handed to them.
type Session struct {
	id   uuid.UUID
	opts options

	pool      *connPool
	counters  *connCounter
	trash     *trashcan
	errCounts cmap.ConcurrentMap[string, *atomic.Int64]

	ready   atomic.Bool
	defunct atomic.Bool
	closed  atomic.Bool

	logger  log.Logger
	metrics *sessionMetrics
	clock   internal.Clock
}

// New builds a session. A connection factory and a load-balancing
// policy are required; everything else has defaults.
func New(opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}
	o.applyDefaults()
	if o.factory == nil {
		return nil, errors.New("cqlsession: a connection factory is required")
	}
	if o.policy == nil {
		return nil, errors.New("cqlsession: a load balancing policy is required")
	}
	s := &Session{
		id:        uuid.New(),
		opts:      o,
		pool:      newConnPool(),
		counters:  newConnCounter(),
		errCounts: cmap.New[*atomic.Int64](),
		logger:    o.logger,
		metrics:   newSessionMetrics(o.registerer),
		clock:     o.clock,
	}
	s.trash = newTrashcan(o.trashcanTTL, o.clock, s.reapConnection)
	return s, nil
}

// ID returns the session's process-unique identity.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Ready reports whether the session has established a connection and
// has not gone defunct since.
func (s *Session) Ready() bool {
	return s.ready.Load()
}

// Defunct reports whether the session has run out of reachable hosts.
func (s *Session) Defunct() bool {
	return s.defunct.Load()
}

// Size returns the number of currently pooled connections.
func (s *Session) Size() int {
	return s.pool.size()
}

// Init performs the first connection attempt, flipping the session
// ready on success. It may also be called on a defunct session to
// reattempt connecting; success resets the defunct state.
func (s *Session) Init(ctx context.Context) error {
	if s.closed.Load() {
		return &LibraryError{Message: "session is closed"}
	}
	connection, stream, err := s.dispatch(ctx, true)
	if err != nil {
		return err
	}
	connection.ReleaseStream(stream)
	return nil
}

// Query dispatches the statement to a host chosen by the policy.
// Dispatch-layer failures are returned as the error; failures after a
// connection and stream were assigned travel in the future. After Close
// the returned future fails with a LibraryError.
func (s *Session) Query(ctx context.Context, statement string, values ...interface{}) (*conn.Future, error) {
	if s.closed.Load() {
		return conn.FailedFuture(&LibraryError{Message: "session is closed"}), nil
	}
	connection, stream, err := s.dispatch(ctx, false)
	if err != nil {
		return nil, err
	}
	return connection.Query(&conn.Query{Statement: statement, Values: values}, stream), nil
}

// Prepare asks a host to prepare the statement. The future resolves to
// a result carrying the prepared handle.
func (s *Session) Prepare(ctx context.Context, statement string) (*conn.Future, error) {
	if s.closed.Load() {
		return conn.FailedFuture(&LibraryError{Message: "session is closed"}), nil
	}
	connection, stream, err := s.dispatch(ctx, false)
	if err != nil {
		return nil, err
	}
	return connection.Prepare(statement, stream), nil
}

// Execute runs a prepared statement with bound values. Stream
// assignment mirrors Query. If the chosen connection does not know the
// prepared id, the stream is released and the future fails with an
// UnknownPreparedStatementError.
func (s *Session) Execute(ctx context.Context, prepared *conn.Prepared, values ...interface{}) (*conn.Future, error) {
	if s.closed.Load() {
		return conn.FailedFuture(&LibraryError{Message: "session is closed"}), nil
	}
	connection, stream, err := s.dispatch(ctx, false)
	if err != nil {
		return nil, err
	}
	if !connection.HasPrepared(prepared.ID) {
		connection.ReleaseStream(stream)
		return conn.FailedFuture(&UnknownPreparedStatementError{ID: prepared.ID}), nil
	}
	return connection.Execute(prepared, values, stream), nil
}

// Close drains the session: the reaper stops, every pooled and trashed
// connection is closed in parallel, and later dispatches fail.
// Idempotent and safe to call concurrently with in-flight dispatches.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.trash.close()
	var group errgroup.Group
	for _, collection := range s.pool.snapshot() {
		for _, connection := range collection.snapshot() {
			if removed, ok := collection.tryErase(connection.ID()); ok {
				group.Go(func() error {
					s.freeConnection(removed)
					return nil
				})
			}
		}
	}
	for _, connection := range s.trash.drain() {
		group.Go(func() error {
			s.freeConnection(connection)
			return nil
		})
	}
	_ = group.Wait()
}

// dispatch walks the query plan until it can hand back a connection
// with an acquired stream. reviving permits dispatching on a defunct
// session, which is how Init brings one back.
func (s *Session) dispatch(ctx context.Context, reviving bool) (conn.Conn, conn.Stream, error) {
	if !reviving && s.defunct.Load() {
		return nil, conn.InvalidStream, ErrSessionDefunct
	}
	plan := s.opts.policy.NewQueryPlan()
	tried := map[cluster.Endpoint]error{}
	for {
		host, ok := plan.Next()
		if !ok {
			break
		}
		if !host.IsConsiderablyUp() {
			continue
		}
		endpoint := host.Endpoint()
		collection := s.pool.getOrInstall(endpoint)

		if connection, stream := s.tryFindFreeStream(host, collection); connection != nil {
			return connection, stream, nil
		}

		connection := s.trash.recycle(endpoint)
		if connection != nil && !connection.Healthy() {
			s.freeConnection(connection)
			connection = nil
		}
		if connection != nil {
			s.metrics.trashcanRecycles.Inc()
		} else {
			var err error
			connection, err = s.allocateConnection(ctx, host)
			if err != nil {
				tried[endpoint] = err
				level.Debug(s.logger).Log("msg", "host attempt failed", "endpoint", endpoint, "err", err)
				continue
			}
		}

		collection.tryAdd(connection)
		if s.closed.Load() {
			// lost a race with Close; its sweep may have missed this conn
			if removed, ok := collection.tryErase(connection.ID()); ok {
				s.freeConnection(removed)
			}
			return nil, conn.InvalidStream, &LibraryError{Message: "session is closed"}
		}
		stream := connection.AcquireStream()
		if !stream.IsValid() {
			// lost a race to saturation; move on
			continue
		}
		return connection, stream, nil
	}
	s.metrics.noHostAvailable.Inc()
	if len(tried) > 0 {
		s.maybeDefunct()
	}
	return nil, conn.InvalidStream, &NoHostAvailableError{Tried: tried}
}

// tryFindFreeStream walks the endpoint's pooled connections once,
// applying the eviction/busy/idle decision table. The snapshot keeps
// eviction and trashcan moves from invalidating the walk.
func (s *Session) tryFindFreeStream(host *cluster.Host, collection *connsCollection) (conn.Conn, conn.Stream) {
	pooling := s.opts.pooling.forDistance(host.Distance())
	for _, connection := range collection.snapshot() {
		switch {
		case !connection.Healthy():
			if removed, ok := collection.tryErase(connection.ID()); ok {
				s.freeConnection(removed)
			}
		case connection.InFlight() < pooling.MaxSimultaneousRequests:
			if stream := connection.AcquireStream(); stream.IsValid() {
				return connection, stream
			}
		case collection.size() > pooling.CoreConnections &&
			connection.InFlight() <= pooling.MinSimultaneousRequests:
			if removed, ok := collection.tryErase(connection.ID()); ok {
				s.trash.put(removed)
				s.metrics.trashcanDeposits.Inc()
			}
		}
	}
	return nil, conn.InvalidStream
}

// allocateConnection reserves a counter slot under the endpoint's cap,
// then dials a fresh connection. The slot is released on dial failure.
func (s *Session) allocateConnection(ctx context.Context, host *cluster.Host) (conn.Conn, error) {
	endpoint := host.Endpoint()
	pooling := s.opts.pooling.forDistance(host.Distance())
	if !s.counters.tryIncrease(endpoint, int64(pooling.MaxConnections)) {
		return nil, &TooManyConnectionsPerHostError{Endpoint: endpoint, Max: pooling.MaxConnections}
	}
	connection := s.opts.factory.New(endpoint, conn.Options{
		Credentials: s.opts.credentials,
		OnError:     s.handleConnError,
		Logger:      s.logger,
	})
	s.metrics.dials.Inc()
	if err := connection.Connect(ctx); err != nil {
		s.counters.decrease(endpoint)
		_ = connection.Close()
		s.metrics.dialFailures.Inc()
		return nil, &ConnectFailedError{Endpoint: endpoint, Cause: err}
	}
	s.metrics.openConnections.Inc()
	s.markReady()
	return connection, nil
}

// freeConnection closes the connection and releases its counter slot.
// It is the decrement matching allocateConnection's increment for every
// connection that dialed successfully; a failed dial releases its slot
// inside allocateConnection.
func (s *Session) freeConnection(connection conn.Conn) {
	if connection == nil {
		return
	}
	_ = connection.Close()
	s.counters.decrease(connection.Endpoint())
	s.metrics.openConnections.Dec()
	s.errCounts.Remove(connection.ID().String())
}

func (s *Session) reapConnection(connection conn.Conn) {
	level.Debug(s.logger).Log("msg", "reaping trashed connection", "endpoint", connection.Endpoint())
	s.metrics.trashcanReaps.Inc()
	s.freeConnection(connection)
	s.maybeDefunct()
}

// handleConnError is installed as the error callback of every
// connection the session allocates. While the connection's error count
// is at or below the reconnect limit it is told to re-establish in
// place; past it the slot is removed and the defunct transition
// evaluated.
func (s *Session) handleConnError(connection conn.Conn, err error) {
	counter := s.errCounter(connection.ID())
	n := counter.Inc()
	level.Warn(s.logger).Log("msg", "connection error",
		"endpoint", connection.Endpoint(), "errors", n, "err", err)
	if int(n) <= s.opts.reconnectLimit {
		if rerr := connection.Reconnect(context.Background()); rerr != nil {
			level.Warn(s.logger).Log("msg", "reconnect failed",
				"endpoint", connection.Endpoint(), "err", rerr)
			// leave it; the next dispatch touch evicts the unhealthy conn
			return
		}
		counter.Store(0)
		return
	}
	level.Error(s.logger).Log("msg", "connection exceeded error threshold, removing",
		"endpoint", connection.Endpoint())
	collection := s.pool.getOrInstall(connection.Endpoint())
	if removed, ok := collection.tryErase(connection.ID()); ok {
		s.freeConnection(removed)
	}
	if s.opts.connectErrback != nil {
		s.opts.connectErrback(s, connection, err)
	}
	s.maybeDefunct()
}

func (s *Session) errCounter(id uuid.UUID) *atomic.Int64 {
	key := id.String()
	for {
		if counter, ok := s.errCounts.Get(key); ok {
			return counter
		}
		s.errCounts.SetIfAbsent(key, atomic.NewInt64(0))
	}
}

// markReady flips the session ready exactly once per transition and
// clears defunct. The callback runs outside all internal locks.
func (s *Session) markReady() {
	s.defunct.Store(false)
	if s.ready.CompareAndSwap(false, true) {
		level.Info(s.logger).Log("msg", "session ready", "session", s.id)
		if s.opts.readyCallback != nil {
			s.opts.readyCallback(s)
		}
	}
}

// maybeDefunct flips the session defunct when nothing is pooled and
// nothing is left to recycle. Fires the callback exactly once per
// transition, outside all internal locks.
func (s *Session) maybeDefunct() {
	if s.closed.Load() {
		return
	}
	if s.pool.size() != 0 || !s.trash.empty() {
		return
	}
	if s.defunct.CompareAndSwap(false, true) {
		s.ready.Store(false)
		level.Error(s.logger).Log("msg", "no hosts reachable, session is defunct", "session", s.id)
		if s.opts.defunctCallback != nil {
			s.opts.defunctCallback(s)
		}
	}
}
