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

	"github.com/tomoncle/txrepo/database"
	"github.com/tomoncle/txrepo/types"
)

// Unbounded disables the offset or limit of a query.
const Unbounded = types.Unbounded

// Entity is implemented by every type a repository can manage. TableName
// names the entity in logs and errors and must be declared on the value
// receiver.
type Entity interface {
	TableName() string
}

// ReadWork is a unit of work that returns entities.
type ReadWork[T any] func(ctx context.Context, s *database.Session) ([]*T, error)

// WriteWork is a unit of work that returns an affected-row count.
type WriteWork func(ctx context.Context, s *database.Session) (int64, error)

// Finder defines the read side of a repository.
type Finder[T Entity] interface {
	FindAll(ctx context.Context) ([]*T, error)

	FindAllByPredicate(ctx context.Context, filter Filter[T], offset, limit int) ([]*T, error)

	FindByPredicate(ctx context.Context, filter Filter[T], offset, limit int) (*T, bool, error)

	Count(ctx context.Context, filter Filter[T]) (int, error)
}

// Mutator defines the write side of a repository.
type Mutator[T Entity] interface {
	Persist(ctx context.Context, entity *T) (int64, error)

	Delete(ctx context.Context, entity *T) (int64, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T Entity] interface {
	Page(ctx context.Context, filter Filter[T], page *types.PageRequest) (*types.Pagination[T], error)
}

// TransactionRepository exposes raw units of work run in the repository's
// session scope.
type TransactionRepository[T Entity] interface {
	GetInTransaction(ctx context.Context, work ReadWork[T]) ([]*T, error)
	ExecInTransaction(ctx context.Context, work WriteWork) (int64, error)
}

// Repository combines reads, writes, pagination and raw units of work.
type Repository[T Entity] interface {
	Finder[T]
	Mutator[T]
	PageQueryRepository[T]
	TransactionRepository[T]
	Scope() SessionScope
}
