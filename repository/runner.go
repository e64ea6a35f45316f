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
	"reflect"

	"github.com/tomoncle/txrepo/database"
)

// Runner executes units of work against exactly one Session chosen by its
// scope.
type Runner[T any] struct {
	scope  SessionScope
	entity string
	logger database.Logger
}

// NewRunner returns a Runner over scope. A nil factory or session is a
// *database.ConfigurationError.
func NewRunner[T any](scope SessionScope) (*Runner[T], error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	logger := database.GetLogger()
	if o, ok := scope.(Owned); ok {
		logger = o.Factory.Logger()
	}
	return &Runner[T]{scope: scope, entity: typeName[T](), logger: logger}, nil
}

func (r *Runner[T]) Scope() SessionScope { return r.scope }

// RunRead runs work and returns its entities.
func (r *Runner[T]) RunRead(ctx context.Context, work ReadWork[T]) ([]*T, error) {
	return within[T, []*T](ctx, r, work)
}

// RunWrite runs work and returns its affected-row count.
func (r *Runner[T]) RunWrite(ctx context.Context, work WriteWork) (int64, error) {
	return within(ctx, r, func(ctx context.Context, s *database.Session) (int64, error) {
		return work(ctx, s)
	})
}

// within runs work in the runner's scope. Owned sessions commit only when
// work succeeds and are rolled back and closed on every other exit,
// panics included. Errors from work are returned unchanged.
func within[T, R any](ctx context.Context, r *Runner[T], work func(context.Context, *database.Session) (R, error)) (R, error) {
	var zero R
	switch s := r.scope.(type) {
	case Owned:
		return withinOwned(ctx, s.Factory, r.logger, work)
	case Borrowed:
		if !s.Session.Active() {
			return zero, database.NewStorageError("run", r.entity, database.ErrSessionDone)
		}
		return work(ctx, s.Session)
	default:
		return zero, checkScope(r.scope)
	}
}

func withinOwned[R any](ctx context.Context, factory *database.SessionFactory, logger database.Logger, work func(context.Context, *database.Session) (R, error)) (R, error) {
	var zero R
	sess, err := factory.OpenSession(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		if sess.Active() {
			if rbErr := sess.Rollback(); rbErr != nil {
				logger.Error("Failed to rollback session", "session", sess.ID(), "error", rbErr)
			}
		}
		if closeErr := sess.Close(); closeErr != nil {
			logger.Error("Failed to close session", "session", sess.ID(), "error", closeErr)
		}
	}()

	result, err := work(ctx, sess)
	if err != nil {
		return zero, err
	}
	if err := sess.Commit(); err != nil {
		return zero, err
	}
	return result, nil
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if e, ok := reflect.New(t).Elem().Interface().(Entity); ok {
		if name := e.TableName(); name != "" {
			return name
		}
	}
	return t.Name()
}
