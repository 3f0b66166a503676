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

// Package clocktest adapts clockwork's fake clock to the internal.Clock
// interface. Go compares interface method signatures nominally, so the
// method returning a Ticker has to be re-boxed even though the two
// ticker interfaces are structurally identical.
package clocktest

import (
	"context"
	"time"

	"github.com/andrei-pavel/cqlsession/internal"
	"github.com/jonboulle/clockwork"
)

// FakeClock is a clock that can be manually advanced through time.
type FakeClock interface {
	internal.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, waiters int) error
}

// NewFakeClock creates a new FakeClock backed by clockwork.
func NewFakeClock() FakeClock {
	return fakeClock{clockwork.NewFakeClock()}
}

type fakeClock struct {
	*clockwork.FakeClock
}

var _ FakeClock = fakeClock{}

// NewTicker re-boxes the clockwork.Ticker as an internal.Ticker. See the
// package comment for why this is necessary.
func (f fakeClock) NewTicker(d time.Duration) internal.Ticker {
	return f.FakeClock.NewTicker(d)
}
