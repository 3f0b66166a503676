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

// Package cluster describes the nodes a session can talk to: endpoints,
// host records with their policy-assigned distance, and the query-plan
// contract of load-balancing policies.
package cluster

import (
	"net"
	"strconv"

	"go.uber.org/atomic"
)

// Distance is a policy-assigned classification of a host that
// parameterizes pool sizing.
type Distance int

const (
	DistanceLocal Distance = iota
	DistanceRemote
	DistanceIgnored
)

func (d Distance) String() string {
	switch d {
	case DistanceLocal:
		return "local"
	case DistanceRemote:
		return "remote"
	case DistanceIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Endpoint is the (host, port) pair identifying one cluster node. It is
// comparable and its String form is the stable identity used as a map
// key throughout the session.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Host is a cluster node record. Liveness is maintained by an external
// monitor; the session core only reads it.
type Host struct {
	endpoint Endpoint
	distance Distance
	up       atomic.Bool
}

// NewHost returns a host record for the given endpoint. A freshly
// created host is considered up until the monitor says otherwise.
func NewHost(endpoint Endpoint, distance Distance) *Host {
	h := &Host{endpoint: endpoint, distance: distance}
	h.up.Store(true)
	return h
}

func (h *Host) Endpoint() Endpoint {
	return h.endpoint
}

func (h *Host) Distance() Distance {
	return h.distance
}

// SetUp records the host's liveness as observed by an external monitor.
func (h *Host) SetUp(up bool) {
	h.up.Store(up)
}

func (h *Host) IsUp() bool {
	return h.up.Load()
}

// IsConsiderablyUp reports whether the host is worth dialing. Hosts for
// which no down signal has been observed are considered up.
func (h *Host) IsConsiderablyUp() bool {
	return h.up.Load()
}
