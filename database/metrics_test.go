/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCollector(t *testing.T) {
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 3})
	c := NewPoolCollector(f)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	assert.Equal(t, 6, testutil.CollectAndCount(c))

	expected := `
# HELP txrepo_pool_max_open_connections Maximum number of open connections to the database.
# TYPE txrepo_pool_max_open_connections gauge
txrepo_pool_max_open_connections{driver="sqlite"} 3
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "txrepo_pool_max_open_connections"))
}
