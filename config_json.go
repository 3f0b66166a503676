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
	"os"
	"time"

	"github.com/andrei-pavel/cqlsession/conn"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the file form of the session's tunables.
type Config struct {
	Pooling        PoolingOptions   `json:"pooling"`
	ReconnectLimit int              `json:"reconnect_limit"`
	TrashcanTTLMs  int64            `json:"trashcan_ttl_ms"`
	Credentials    conn.Credentials `json:"credentials"`
}

// ConfigFromFile reads a JSON config file.
func ConfigFromFile(fileNamePath string) (*Config, error) {
	data, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", fileNamePath)
	}
	return ConfigFromBytes(data)
}

// ConfigFromBytes parses a JSON config document.
func ConfigFromBytes(data []byte) (*Config, error) {
	config := &Config{Pooling: DefaultPoolingOptions()}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return config, nil
}

// Options expands the config into session options.
func (c *Config) Options() []Option {
	opts := []Option{
		WithPoolingOptions(c.Pooling),
		WithReconnectLimit(c.ReconnectLimit),
	}
	if c.TrashcanTTLMs > 0 {
		opts = append(opts, WithTrashcanTTL(time.Duration(c.TrashcanTTLMs)*time.Millisecond))
	}
	if len(c.Credentials) > 0 {
		opts = append(opts, WithCredentials(c.Credentials))
	}
	return opts
}
