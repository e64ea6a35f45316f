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

// Package txrepo wires a SessionFactory and a GenericRepository into a
// single DataProvider for applications that manage one entity type.
package txrepo

import (
	"context"
	"fmt"

	"github.com/tomoncle/txrepo/database"
	"github.com/tomoncle/txrepo/repository"
)

// DataProvider is a GenericRepository that may own its SessionFactory.
type DataProvider[T repository.Entity] struct {
	*repository.GenericRepository[T]

	factory *database.SessionFactory
	owns    bool
}

// New returns a provider over a shared factory. Close leaves the factory
// open.
func New[T repository.Entity](factory *database.SessionFactory) (*DataProvider[T], error) {
	repo, err := repository.NewRepository[T](factory)
	if err != nil {
		return nil, err
	}
	return &DataProvider[T]{GenericRepository: repo, factory: factory}, nil
}

// Open builds a factory for models, which must include a T, and returns a
// provider that closes it.
func Open[T repository.Entity](ctx context.Context, cfg *database.Config, models ...interface{}) (*DataProvider[T], error) {
	if len(models) == 0 {
		models = []interface{}{(*T)(nil)}
	}
	descriptors, err := database.Describe(models...)
	if err != nil {
		return nil, err
	}
	factory, err := database.Build(ctx, cfg, descriptors)
	if err != nil {
		return nil, err
	}
	return own[T](factory)
}

// OpenNamespace builds a factory for every entity registered below
// namespaceRoot and returns a provider that closes it.
func OpenNamespace[T repository.Entity](ctx context.Context, cfg *database.Config, namespaceRoot string) (*DataProvider[T], error) {
	factory, err := database.BuildFromNamespace(ctx, cfg, namespaceRoot)
	if err != nil {
		return nil, err
	}
	return own[T](factory)
}

func own[T repository.Entity](factory *database.SessionFactory) (*DataProvider[T], error) {
	p, err := New[T](factory)
	if err != nil {
		if closeErr := factory.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (closing factory: %v)", err, closeErr)
		}
		return nil, err
	}
	p.owns = true
	return p, nil
}

func (p *DataProvider[T]) Factory() *database.SessionFactory { return p.factory }

// Close closes the factory when the provider built it.
func (p *DataProvider[T]) Close() error {
	if !p.owns {
		return nil
	}
	return p.factory.Close()
}
