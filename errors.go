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
	"fmt"
	"sort"
	"strings"

	"github.com/andrei-pavel/cqlsession/cluster"
	"github.com/pkg/errors"
)

// ErrSessionDefunct is returned by dispatch operations once the session
// can no longer reach any host. Init may revive the session.
var ErrSessionDefunct = errors.New("cqlsession: session is defunct")

// LibraryError reports that dispatch could not even produce a
// connection because the session is closed. Query, Prepare and Execute
// called after Close place it into the returned future. Init returns it
// as the error result, and so does a Query, Prepare or Execute whose
// dispatch loses a race with a concurrent Close.
type LibraryError struct {
	Message string
}

func (e *LibraryError) Error() string {
	return "cqlsession: " + e.Message
}

// NoHostAvailableError reports that a query plan was exhausted with no
// viable host. Tried maps each endpoint that was attempted to the
// failure that disqualified it; hosts skipped for being down are not
// recorded.
type NoHostAvailableError struct {
	Tried map[cluster.Endpoint]error
}

func (e *NoHostAvailableError) Error() string {
	if len(e.Tried) == 0 {
		return "cqlsession: no host available: query plan was empty"
	}
	parts := make([]string, 0, len(e.Tried))
	for endpoint, cause := range e.Tried {
		parts = append(parts, fmt.Sprintf("%s: %v", endpoint, cause))
	}
	sort.Strings(parts)
	return fmt.Sprintf("cqlsession: no host available, tried %d host(s): %s",
		len(e.Tried), strings.Join(parts, "; "))
}

// TooManyConnectionsPerHostError reports that the endpoint's connection
// cap was reached while every existing connection was saturated.
type TooManyConnectionsPerHostError struct {
	Endpoint cluster.Endpoint
	Max      int
}

func (e *TooManyConnectionsPerHostError) Error() string {
	return fmt.Sprintf("cqlsession: connection cap (%d) reached for host %s", e.Max, e.Endpoint)
}

// ConnectFailedError reports a failed dial. It counts toward the
// endpoint's tried list; dispatch proceeds to the next host in the
// plan.
type ConnectFailedError struct {
	Endpoint cluster.Endpoint
	Cause    error
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("cqlsession: connect to %s failed: %v", e.Endpoint, e.Cause)
}

func (e *ConnectFailedError) Unwrap() error {
	return e.Cause
}

// UnknownPreparedStatementError reports an Execute whose prepared id is
// not known on the chosen connection.
type UnknownPreparedStatementError struct {
	ID []byte
}

func (e *UnknownPreparedStatementError) Error() string {
	return fmt.Sprintf("cqlsession: unknown prepared statement %x", e.ID)
}
