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
	"time"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/andrei-pavel/cqlsession/conn"
	"github.com/andrei-pavel/cqlsession/internal"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTrashcanTTL is how long an evicted connection is held for
// recycling before it is truly closed.
const DefaultTrashcanTTL = 10 * time.Second

// Option customizes the behavior of a Session.
type Option interface {
	apply(*options)
}

// WithLoadBalancingPolicy sets the policy that produces a query plan
// for each dispatch. Required.
func WithLoadBalancingPolicy(policy cluster.LoadBalancingPolicy) Option {
	return optionFunc(func(opts *options) {
		opts.policy = policy
	})
}

// WithConnFactory sets the factory that produces connections. Required.
func WithConnFactory(factory conn.Factory) Option {
	return optionFunc(func(opts *options) {
		opts.factory = factory
	})
}

// WithCredentials sets the opaque credentials handed to each new
// connection.
func WithCredentials(credentials conn.Credentials) Option {
	return optionFunc(func(opts *options) {
		opts.credentials = credentials
	})
}

// WithPoolingOptions sets the per-distance pool sizing watermarks.
func WithPoolingOptions(pooling PoolingOptions) Option {
	return optionFunc(func(opts *options) {
		opts.pooling = pooling
		opts.poolingSet = true
	})
}

// WithReconnectLimit sets how many errors a connection slot absorbs
// before the session removes it instead of reconnecting in place.
func WithReconnectLimit(limit int) Option {
	return optionFunc(func(opts *options) {
		opts.reconnectLimit = limit
	})
}

// WithTrashcanTTL sets the retirement delay before an evicted
// connection is truly closed.
func WithTrashcanTTL(ttl time.Duration) Option {
	return optionFunc(func(opts *options) {
		opts.trashcanTTL = ttl
	})
}

// WithReadyCallback registers a listener fired once per transition to
// ready: when the session first establishes a connection, and again
// when Init revives a defunct session.
func WithReadyCallback(callback func(*Session)) Option {
	return optionFunc(func(opts *options) {
		opts.readyCallback = callback
	})
}

// WithDefunctCallback registers a listener fired once when the session
// runs out of reachable hosts.
func WithDefunctCallback(callback func(*Session)) Option {
	return optionFunc(func(opts *options) {
		opts.defunctCallback = callback
	})
}

// WithConnectErrback registers a listener fired when a connection slot
// is removed for exceeding the reconnect limit.
func WithConnectErrback(callback func(*Session, conn.Conn, error)) Option {
	return optionFunc(func(opts *options) {
		opts.connectErrback = callback
	})
}

// WithLogger sets the logger used by the session and handed to each
// connection. Defaults to a nop logger.
func WithLogger(logger log.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = logger
	})
}

// WithMetrics registers the session's metrics with the given
// registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return optionFunc(func(opts *options) {
		opts.registerer = registerer
	})
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

type options struct {
	policy          cluster.LoadBalancingPolicy
	factory         conn.Factory
	credentials     conn.Credentials
	pooling         PoolingOptions
	poolingSet      bool
	reconnectLimit  int
	trashcanTTL     time.Duration
	readyCallback   func(*Session)
	defunctCallback func(*Session)
	connectErrback  func(*Session, conn.Conn, error)
	logger          log.Logger
	registerer      prometheus.Registerer
	clock           internal.Clock
}

func (opts *options) applyDefaults() {
	if !opts.poolingSet {
		opts.pooling = DefaultPoolingOptions()
	}
	if opts.trashcanTTL == 0 {
		opts.trashcanTTL = DefaultTrashcanTTL
	}
	if opts.logger == nil {
		opts.logger = log.NewNopLogger()
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}

// HostPooling bounds the pool for hosts at one distance.
type HostPooling struct {
	// CoreConnections is the size below which connections are never
	// moved to the trashcan.
	CoreConnections int `json:"core_connections"`
	// MaxConnections is the hard per-endpoint cap, enforced across the
	// pool, the trashcan and pending dials.
	MaxConnections int `json:"max_connections"`
	// MaxSimultaneousRequests is the busy watermark; at or above it a
	// new connection is preferred.
	MaxSimultaneousRequests int `json:"max_simultaneous_requests"`
	// MinSimultaneousRequests is the idle watermark; at or below it a
	// connection beyond the core size may be trashed.
	MinSimultaneousRequests int `json:"min_simultaneous_requests"`
}

// PoolingOptions holds the pool sizing watermarks per host distance.
// Ignored hosts never get connections, so they carry no watermarks.
type PoolingOptions struct {
	Local  HostPooling `json:"local"`
	Remote HostPooling `json:"remote"`
}

// DefaultPoolingOptions mirrors the classic driver defaults.
func DefaultPoolingOptions() PoolingOptions {
	return PoolingOptions{
		Local: HostPooling{
			CoreConnections:         2,
			MaxConnections:          8,
			MaxSimultaneousRequests: 128,
			MinSimultaneousRequests: 25,
		},
		Remote: HostPooling{
			CoreConnections:         1,
			MaxConnections:          2,
			MaxSimultaneousRequests: 128,
			MinSimultaneousRequests: 25,
		},
	}
}

func (p PoolingOptions) forDistance(distance cluster.Distance) HostPooling {
	switch distance {
	case cluster.DistanceLocal:
		return p.Local
	case cluster.DistanceRemote:
		return p.Remote
	default:
		return HostPooling{}
	}
}
