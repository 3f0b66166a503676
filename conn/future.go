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

package conn

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the failure recorded in a future whose caller gave up
// on the request.
var ErrCancelled = errors.New("conn: request cancelled")

// Future is the completion handle for one in-flight request. It is
// completed exactly once, on the connection's I/O goroutine, and is
// safe to await from any goroutine.
type Future struct {
	stream   Stream
	onCancel func()

	once sync.Once
	done chan struct{}

	// written once before done is closed
	result *Result
	err    error
}

// NewFuture returns a pending future bound to the given stream. The
// onCancel callback, if non-nil, is invoked when the caller cancels;
// the connection must release the stream and discard the server's
// eventual response.
func NewFuture(stream Stream, onCancel func()) *Future {
	return &Future{stream: stream, onCancel: onCancel, done: make(chan struct{})}
}

// FailedFuture returns a future that is already completed with err and
// holds no stream.
func FailedFuture(err error) *Future {
	f := NewFuture(InvalidStream, nil)
	f.Fail(err)
	return f
}

// Stream returns the stream assigned to this request.
func (f *Future) Stream() Stream {
	return f.stream
}

// Complete fulfils the future. Later completions are ignored.
func (f *Future) Complete(result *Result) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// Fail completes the future with an error. Later completions are
// ignored.
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Cancel abandons the request. The in-flight slot is marked abandoned
// via the connection's cancel hook and the future fails with
// ErrCancelled unless it already completed.
func (f *Future) Cancel() {
	if f.onCancel != nil {
		f.onCancel()
	}
	f.Fail(ErrCancelled)
}

// Done is closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for completion or for ctx to end.
func (f *Future) Get(ctx context.Context) (*Result, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
