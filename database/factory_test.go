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
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, pool PoolConfig) *Config {
	t.Helper()
	return &Config{
		Driver:     DriverSQLite,
		URL:        filepath.Join(t.TempDir(), "factory.db"),
		Pool:       pool,
		SchemaMode: SchemaCreate,
	}
}

func buildTestFactory(t *testing.T, pool PoolConfig) *SessionFactory {
	t.Helper()
	ds, err := Describe(&account{}, &ledgerEntry{})
	require.NoError(t, err)
	f, err := Build(context.Background(), testConfig(t, pool), ds, WithLogger(NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func countAccounts(t *testing.T, f *SessionFactory) int {
	t.Helper()
	n, err := f.DB().NewSelect().Model((*account)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestBuildRejectsMissingConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = Build(context.Background(), &Config{Driver: "h2", URL: "jdbc:h2:mem:test"}, nil)
	assert.True(t, IsConfigurationError(err))
}

func TestBuildFromNamespaceWithoutEntities(t *testing.T) {
	_, err := BuildFromNamespace(context.Background(), testConfig(t, PoolConfig{MinSize: 1, MaxSize: 2}), "example.com/nothing/here")
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "namespace", ce.Field)
}

func TestBuildCreatesSchema(t *testing.T) {
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 2})

	assert.True(t, f.Describes(reflect.TypeOf(account{})))
	assert.True(t, f.Describes(reflect.TypeOf(&ledgerEntry{})))
	assert.False(t, f.Describes(reflect.TypeOf(plain{})))
	assert.Len(t, f.Descriptors(), 2)
	assert.Equal(t, 2, f.Config().Pool.MaxSize)
	assert.Equal(t, 0, countAccounts(t, f))

	status := f.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, 2, status.MaxOpenConns)
}

func TestInMemoryDatabaseSharedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	ds, err := Describe(&account{})
	require.NoError(t, err)
	cfg := &Config{Driver: DriverSQLite, URL: ":memory:", Pool: PoolConfig{MinSize: 1, MaxSize: 3}, SchemaMode: SchemaCreate}
	f, err := Build(ctx, cfg, ds, WithLogger(NopLogger{}))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	held, err := f.OpenSession(ctx)
	require.NoError(t, err)
	defer func() { _ = held.Close() }()

	s, err := f.OpenSession(ctx)
	require.NoError(t, err)
	_, err = s.NewInsert().Model(&account{ID: 1, Owner: "alice"}).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	require.NoError(t, s.Close())

	n, err := held.NewSelect().Model((*account)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// a second factory gets its own database
	other, err := Build(ctx, cfg, ds, WithLogger(NopLogger{}))
	require.NoError(t, err)
	defer func() { _ = other.Close() }()
	assert.Equal(t, 0, countAccounts(t, other))
}

func TestSessionCommit(t *testing.T) {
	ctx := context.Background()
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 2})

	s, err := f.OpenSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.True(t, s.Active())
	assert.Equal(t, 1, f.Stats().InUse)

	_, err = s.NewInsert().Model(&account{ID: 1, Owner: "alice"}).Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	assert.False(t, s.Active())

	err = s.Commit()
	assert.True(t, errors.Is(err, ErrSessionDone))
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(s.Rollback(), ErrSessionDone))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, f.Stats().InUse)
	assert.Equal(t, 1, countAccounts(t, f))
}

func TestSessionCloseRollsBackActiveTransaction(t *testing.T) {
	ctx := context.Background()
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 2})

	s, err := f.OpenSession(ctx)
	require.NoError(t, err)
	_, err = s.NewInsert().Model(&account{ID: 7, Owner: "mallory"}).Exec(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Contains(t, s.String(), "rolled back, closed")
	assert.Equal(t, 0, countAccounts(t, f))
	assert.Equal(t, 0, f.Stats().InUse)
}

func TestOpenSessionTimesOutOnExhaustedPool(t *testing.T) {
	ctx := context.Background()
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 1, AcquireIncrement: 1, TimeoutSeconds: 1})

	held, err := f.OpenSession(ctx)
	require.NoError(t, err)
	defer func() { _ = held.Close() }()

	_, err = f.OpenSession(ctx)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, TimeoutErr, se.Kind)
}

func TestClosedFactory(t *testing.T) {
	f := buildTestFactory(t, PoolConfig{MinSize: 1, MaxSize: 2})
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	assert.Nil(t, f.DB())
	_, err := f.OpenSession(context.Background())
	assert.True(t, errors.Is(err, ErrFactoryClosed))
	assert.Equal(t, &DBStats{}, f.Stats())
	assert.False(t, f.HealthCheck(context.Background()).Healthy)
}
