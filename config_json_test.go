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

package cqlsession_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/andrei-pavel/cqlsession"
	"github.com/stretchr/testify/require"
)

const configDoc = `{
	"pooling": {
		"local": {
			"core_connections": 4,
			"max_connections": 16,
			"max_simultaneous_requests": 64,
			"min_simultaneous_requests": 8
		},
		"remote": {
			"core_connections": 1,
			"max_connections": 2,
			"max_simultaneous_requests": 32,
			"min_simultaneous_requests": 4
		}
	},
	"reconnect_limit": 3,
	"trashcan_ttl_ms": 2500,
	"credentials": {"username": "cassandra", "password": "cassandra"}
}`

func TestConfigFromBytes(t *testing.T) {
	t.Parallel()
	config, err := ConfigFromBytes([]byte(configDoc))
	require.NoError(t, err)

	require.Equal(t, 4, config.Pooling.Local.CoreConnections)
	require.Equal(t, 16, config.Pooling.Local.MaxConnections)
	require.Equal(t, 64, config.Pooling.Local.MaxSimultaneousRequests)
	require.Equal(t, 8, config.Pooling.Local.MinSimultaneousRequests)
	require.Equal(t, 2, config.Pooling.Remote.MaxConnections)
	require.Equal(t, 3, config.ReconnectLimit)
	require.EqualValues(t, 2500, config.TrashcanTTLMs)
	require.Equal(t, "cassandra", config.Credentials["username"])

	require.Len(t, config.Options(), 4)
}

func TestConfigPartialDocumentKeepsDefaults(t *testing.T) {
	t.Parallel()
	config, err := ConfigFromBytes([]byte(`{"reconnect_limit": 1}`))
	require.NoError(t, err)
	require.Equal(t, DefaultPoolingOptions(), config.Pooling)
	require.Equal(t, 1, config.ReconnectLimit)
	require.Len(t, config.Options(), 2, "unset TTL and credentials contribute no options")
}

func TestConfigFromFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(configDoc), 0o600))

	config, err := ConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 16, config.Pooling.Local.MaxConnections)

	_, err = ConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestConfigRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := ConfigFromBytes([]byte(`{"pooling": [`))
	require.Error(t, err)
}
