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

package cluster

import (
	"sync"

	"go.uber.org/atomic"
)

// QueryPlan is a lazy, single-use sequence of candidate hosts for one
// request. Ordering is the producing policy's contract. A plan must not
// be shared between dispatches and Next is not safe for concurrent use.
type QueryPlan interface {
	// Next returns the next host to try, or false when the plan is
	// exhausted.
	Next() (*Host, bool)
}

// LoadBalancingPolicy produces a fresh QueryPlan per request.
type LoadBalancingPolicy interface {
	NewQueryPlan() QueryPlan
}

// RoundRobinPolicy cycles through its hosts, starting each successive
// plan one host further along. Hosts classified DistanceIgnored never
// appear in a plan.
type RoundRobinPolicy struct {
	mu    sync.RWMutex
	hosts []*Host
	next  atomic.Uint64
}

// NewRoundRobinPolicy returns a round-robin policy over the given hosts.
func NewRoundRobinPolicy(hosts ...*Host) *RoundRobinPolicy {
	return &RoundRobinPolicy{hosts: hosts}
}

// SetHosts replaces the policy's host set. Plans already handed out keep
// iterating the set they were created with.
func (p *RoundRobinPolicy) SetHosts(hosts ...*Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = hosts
}

func (p *RoundRobinPolicy) NewQueryPlan() QueryPlan {
	p.mu.RLock()
	snapshot := make([]*Host, len(p.hosts))
	copy(snapshot, p.hosts)
	p.mu.RUnlock()

	start := 0
	if len(snapshot) > 0 {
		start = int((p.next.Inc() - 1) % uint64(len(snapshot)))
	}
	return &roundRobinPlan{hosts: snapshot, start: start}
}

type roundRobinPlan struct {
	hosts []*Host
	start int
	taken int
}

func (p *roundRobinPlan) Next() (*Host, bool) {
	for p.taken < len(p.hosts) {
		host := p.hosts[(p.start+p.taken)%len(p.hosts)]
		p.taken++
		if host.Distance() == DistanceIgnored {
			continue
		}
		return host, true
	}
	return nil, false
}
