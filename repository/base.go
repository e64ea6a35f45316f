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
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tomoncle/txrepo/database"
	"github.com/tomoncle/txrepo/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"
)

// ErrNilEntity is the cause of the configuration error Persist and Delete
// return for a nil entity.
var ErrNilEntity = errors.New("entity is nil")

// GenericRepository finds, persists and deletes one entity type inside a
// fixed session scope.
type GenericRepository[T Entity] struct {
	runner *Runner[T]
	entity string
}

// NewRepository returns a repository that opens its own session per call.
func NewRepository[T Entity](factory *database.SessionFactory) (*GenericRepository[T], error) {
	return NewScopedRepository[T](Owned{Factory: factory})
}

// NewBorrowedRepository returns a repository that runs every call in
// session. It never commits, rolls back or closes session.
func NewBorrowedRepository[T Entity](session *database.Session) (*GenericRepository[T], error) {
	return NewScopedRepository[T](Borrowed{Session: session})
}

func NewScopedRepository[T Entity](scope SessionScope) (*GenericRepository[T], error) {
	runner, err := NewRunner[T](scope)
	if err != nil {
		return nil, err
	}
	if o, ok := scope.(Owned); ok {
		typ := reflect.TypeOf((*T)(nil)).Elem()
		if !o.Factory.Describes(typ) {
			return nil, &database.ConfigurationError{
				Field:   "entity",
				Message: fmt.Sprintf("%s is not among the factory's entities", typ),
				Cause:   database.ErrEntityNotDescribed,
			}
		}
	}
	return &GenericRepository[T]{runner: runner, entity: runner.entity}, nil
}

func (r *GenericRepository[T]) Scope() SessionScope { return r.runner.Scope() }

func (r *GenericRepository[T]) FindAll(ctx context.Context) ([]*T, error) {
	return r.FindAllByPredicate(ctx, nil, Unbounded, Unbounded)
}

// FindAllByPredicate returns the rows matching filter in store order.
func (r *GenericRepository[T]) FindAllByPredicate(ctx context.Context, filter Filter[T], offset, limit int) ([]*T, error) {
	return r.runner.RunRead(ctx, func(ctx context.Context, s *database.Session) ([]*T, error) {
		q, err := BuildQuery(s, filter, offset, limit)
		if err != nil {
			return nil, err
		}
		rows, err := q.Scan(ctx)
		if err != nil {
			return nil, database.NewStorageError("find", r.entity, err)
		}
		return rows, nil
	})
}

// FindByPredicate reports a match only when filter selects exactly one row.
// Zero or several rows yield false without an error.
func (r *GenericRepository[T]) FindByPredicate(ctx context.Context, filter Filter[T], offset, limit int) (*T, bool, error) {
	rows, err := r.FindAllByPredicate(ctx, filter, offset, limit)
	if err != nil {
		return nil, false, err
	}
	if len(rows) != 1 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (r *GenericRepository[T]) Count(ctx context.Context, filter Filter[T]) (int, error) {
	return within(ctx, r.runner, func(ctx context.Context, s *database.Session) (int, error) {
		q, err := BuildQuery(s, filter, Unbounded, Unbounded)
		if err != nil {
			return 0, err
		}
		total, err := q.Count(ctx)
		if err != nil {
			return 0, database.NewStorageError("count", r.entity, err)
		}
		return total, nil
	})
}

// Page counts and loads one page in a single session. The page request's
// raw filter, when set, is ANDed with filter.
func (r *GenericRepository[T]) Page(ctx context.Context, filter Filter[T], page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		page = types.NewDefaultPageRequest(1, 10)
	}
	combined := withRawFilter(filter, page.GetFilter())
	window := page.Window()

	return within(ctx, r.runner, func(ctx context.Context, s *database.Session) (*types.Pagination[T], error) {
		pagination := types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
		q, err := BuildQuery(s, combined, window.Offset, window.Limit)
		if err != nil {
			return nil, err
		}
		total, err := q.Count(ctx)
		if err != nil {
			return nil, database.NewStorageError("page", r.entity, err)
		}
		if total == 0 {
			return pagination, nil
		}
		if orders := page.GetOrders(); len(orders) > 0 {
			q.Select().Order(orders...)
		}
		rows, err := q.Scan(ctx)
		if err != nil {
			return nil, database.NewStorageError("page", r.entity, err)
		}
		pagination.Total = total
		pagination.Items = rows
		return pagination, nil
	})
}

func withRawFilter[T any](filter Filter[T], raw *types.QueryFilter) Filter[T] {
	if raw == nil || strings.TrimSpace(raw.Schema) == "" {
		return filter
	}
	return func(b *Builder, q *bun.SelectQuery, root Root[T], preds *Predicates) {
		if filter != nil {
			filter(b, q, root, preds)
		}
		preds.Add(b.Raw(raw.Schema, raw.Args...))
	}
}

// Persist inserts entity or, when a row with the same primary key exists,
// updates it.
func (r *GenericRepository[T]) Persist(ctx context.Context, entity *T) (int64, error) {
	if entity == nil {
		return 0, &database.ConfigurationError{Field: "entity", Message: fmt.Sprintf("cannot persist nil %s", r.entity), Cause: ErrNilEntity}
	}
	return r.runner.RunWrite(ctx, func(ctx context.Context, s *database.Session) (int64, error) {
		n, err := upsert(ctx, s, entity)
		if err != nil {
			return 0, database.NewStorageError("persist", r.entity, err)
		}
		return n, nil
	})
}

// Delete removes the row with entity's primary key.
func (r *GenericRepository[T]) Delete(ctx context.Context, entity *T) (int64, error) {
	if entity == nil {
		return 0, &database.ConfigurationError{Field: "entity", Message: fmt.Sprintf("cannot delete nil %s", r.entity), Cause: ErrNilEntity}
	}
	return r.runner.RunWrite(ctx, func(ctx context.Context, s *database.Session) (int64, error) {
		res, err := s.NewDelete().Model(entity).WherePK().Exec(ctx)
		if err != nil {
			return 0, database.NewStorageError("delete", r.entity, err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	})
}

// GetInTransaction runs work in the repository's scope.
func (r *GenericRepository[T]) GetInTransaction(ctx context.Context, work ReadWork[T]) ([]*T, error) {
	return r.runner.RunRead(ctx, work)
}

// ExecInTransaction runs work in the repository's scope.
func (r *GenericRepository[T]) ExecInTransaction(ctx context.Context, work WriteWork) (int64, error) {
	return r.runner.RunWrite(ctx, work)
}

func upsert[T any](ctx context.Context, s *database.Session, entity *T) (int64, error) {
	table := s.Table(reflect.TypeOf((*T)(nil)).Elem())
	insertQuery := s.NewInsert().Model(entity)

	switch {
	case len(table.PKs) == 0:
		// no identity to match on
	case s.Dialect().Features().Has(feature.InsertOnConflict):
		insertQuery = upsertOnConflict(insertQuery, table)
	case s.Dialect().Features().Has(feature.InsertOnDuplicateKey):
		insertQuery = upsertOnDuplicateKey(insertQuery, table)
	default:
		return upsertFallback(ctx, s, entity)
	}

	res, err := insertQuery.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func upsertOnConflict(q *bun.InsertQuery, table *schema.Table) *bun.InsertQuery {
	keys := make([]string, len(table.PKs))
	for i, pk := range table.PKs {
		keys[i] = string(pk.SQLName)
	}
	if len(table.DataFields) == 0 {
		return q.On("CONFLICT (" + strings.Join(keys, ", ") + ") DO NOTHING")
	}
	var sets []string
	for _, f := range table.DataFields {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f.SQLName, f.SQLName))
	}
	return q.On("CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE").
		Set(strings.Join(sets, ", "))
}

func upsertOnDuplicateKey(q *bun.InsertQuery, table *schema.Table) *bun.InsertQuery {
	fields := table.DataFields
	if len(fields) == 0 {
		fields = table.PKs
	}
	var sets []string
	for _, f := range fields {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", f.SQLName, f.SQLName))
	}
	return q.On("DUPLICATE KEY UPDATE " + strings.Join(sets, ", "))
}

// upsertFallback updates by primary key and inserts when nothing matched.
func upsertFallback[T any](ctx context.Context, s *database.Session, entity *T) (int64, error) {
	res, err := s.NewUpdate().Model(entity).WherePK().Exec(ctx)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return n, nil
	}
	res, err = s.NewInsert().Model(entity).Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
