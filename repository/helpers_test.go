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

package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/txrepo/database"
	"github.com/uptrace/bun"
)

type Player struct {
	bun.BaseModel `bun:"table:players,alias:p"`

	ID    int64  `bun:"id,pk"`
	Name  string `bun:"name,notnull"`
	Score int    `bun:"score"`
}

func (Player) TableName() string { return "players" }

type Team struct {
	bun.BaseModel `bun:"table:teams"`

	ID   int64  `bun:"id,pk"`
	Name string `bun:"name"`
}

func (Team) TableName() string { return "teams" }

func newTestFactory(t *testing.T, pool database.PoolConfig) *database.SessionFactory {
	t.Helper()
	cfg := &database.Config{
		Driver:     database.DriverSQLite,
		URL:        filepath.Join(t.TempDir(), "repository.db"),
		Pool:       pool,
		SchemaMode: database.SchemaCreate,
	}
	ds, err := database.Describe(&Player{})
	require.NoError(t, err)
	f, err := database.Build(context.Background(), cfg, ds, database.WithLogger(database.NopLogger{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func defaultPool() database.PoolConfig {
	return database.PoolConfig{MinSize: 1, MaxSize: 4}
}

func byName(name string) Filter[Player] {
	return func(b *Builder, q *bun.SelectQuery, root Root[Player], preds *Predicates) {
		preds.Add(b.Eq(root.Col("Name"), name))
	}
}

func byID(id int64) Filter[Player] {
	return func(b *Builder, q *bun.SelectQuery, root Root[Player], preds *Predicates) {
		preds.Add(b.Eq(root.Col("id"), id))
	}
}

func orderedByID(b *Builder, q *bun.SelectQuery, root Root[Player], preds *Predicates) {
	q.Order("id ASC")
}

func ids(players []*Player) []int64 {
	out := make([]int64, len(players))
	for i, p := range players {
		out[i] = p.ID
	}
	return out
}

func seedPlayers(t *testing.T, repo *GenericRepository[Player], n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := repo.Persist(context.Background(), &Player{ID: int64(i), Name: fmt.Sprintf("player-%02d", i), Score: i * 10})
		require.NoError(t, err)
	}
}
