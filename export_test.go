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
	"github.com/andrei-pavel/cqlsession/internal"
)

// WithClock allows tests to swap the time source, for example with the
// clocktest fake, so the trashcan reaper can be driven deterministically.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(opts *options) {
		opts.clock = clock
	})
}

// ConnectionCount exposes the per-endpoint counter for accounting
// assertions.
func (s *Session) ConnectionCount(endpoint cluster.Endpoint) int64 {
	return s.counters.count(endpoint)
}

// TrashcanEmpty reports whether the trashcan holds no connections.
func (s *Session) TrashcanEmpty() bool {
	return s.trash.empty()
}
