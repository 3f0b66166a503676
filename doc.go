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

// Package cqlsession provides the client-side session of a CQL driver:
// the per-process object that multiplexes queries across a pool of
// long-lived connections to cluster nodes. Hosts are chosen per request
// by a pluggable load-balancing policy, requests share connections via
// protocol streams, and connections drained below their idle watermark
// are soft-retired to a trashcan so a following spike can recycle them
// instead of dialing fresh.
//
// Create a session with [New], providing at least a connection factory
// and a load-balancing policy, then call [Session.Init] to establish
// the first connection:
//
//	policy := cluster.NewRoundRobinPolicy(hosts...)
//	session, err := cqlsession.New(
//		cqlsession.WithConnFactory(factory),
//		cqlsession.WithLoadBalancingPolicy(policy),
//	)
//	if err != nil {
//		// ...
//	}
//	if err := session.Init(ctx); err != nil {
//		// no host was reachable
//	}
//	future, err := session.Query(ctx, "SELECT ... FROM ...")
//
// The frame codec and socket handling live behind the [conn.Conn]
// interface; this package only decides which connection and stream a
// request rides on.
package cqlsession
