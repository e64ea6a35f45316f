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
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionFactory is the long-lived pooled resource that hands out
// Sessions. Build it once at startup, share it between repositories and
// Close it at shutdown.
type SessionFactory struct {
	config      Config
	descriptors []EntityDescriptor
	described   map[reflect.Type]struct{}
	manager     *poolManager
	logger      Logger

	mu     sync.RWMutex
	closed bool
}

type BuildOption func(*buildOptions)

type buildOptions struct {
	logger Logger
}

// WithLogger replaces the process logger for one factory.
func WithLogger(logger Logger) BuildOption {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Build validates cfg, opens the connection pool, registers the entity
// descriptors and applies the configured schema mode. It is slow and
// fallible; call it once per process.
func Build(ctx context.Context, cfg *Config, descriptors []EntityDescriptor, opts ...BuildOption) (*SessionFactory, error) {
	normalized, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	options := buildOptions{logger: GetLogger()}
	for _, opt := range opts {
		opt(&options)
	}

	ordered := make([]EntityDescriptor, len(descriptors))
	copy(ordered, descriptors)
	sortDescriptors(ordered)
	described := make(map[reflect.Type]struct{}, len(ordered))
	for _, d := range ordered {
		if d.Type == nil {
			return nil, NewConfigurationError("entity", "entity descriptor without type")
		}
		described[d.Type] = struct{}{}
	}

	f := &SessionFactory{
		config:      normalized,
		descriptors: ordered,
		described:   described,
		logger:      options.logger,
	}
	f.manager = newPoolManager(&f.config, f.logger)
	if err := f.manager.connect(ctx); err != nil {
		if IsConfigurationError(err) {
			return nil, err
		}
		return nil, NewStorageError("connect", "", err)
	}

	db := f.manager.getDB()
	db.RegisterModel(f.instances()...)
	if err := syncSchema(ctx, db, f.config.SchemaMode, f.descriptors, f.logger); err != nil {
		_ = f.manager.disconnect()
		return nil, err
	}

	f.logger.Info("Session factory ready", "entities", len(f.descriptors), "schema_mode", f.config.SchemaMode)
	return f, nil
}

// BuildFromNamespace builds a factory for every entity Scan finds below
// namespaceRoot.
func BuildFromNamespace(ctx context.Context, cfg *Config, namespaceRoot string, opts ...BuildOption) (*SessionFactory, error) {
	descriptors := Scan(namespaceRoot)
	if len(descriptors) == 0 {
		return nil, NewConfigurationError("namespace",
			fmt.Sprintf("no registered entities found below %q", namespaceRoot))
	}
	return Build(ctx, cfg, descriptors, opts...)
}

func (f *SessionFactory) instances() []interface{} {
	models := make([]interface{}, len(f.descriptors))
	for i, d := range f.descriptors {
		models[i] = d.Instance()
	}
	return models
}

// OpenSession reserves a pooled connection, waiting at most the pool's
// acquire timeout, and begins a transaction on it.
func (f *SessionFactory) OpenSession(ctx context.Context) (*Session, error) {
	f.mu.RLock()
	closed := f.closed
	f.mu.RUnlock()
	db := f.manager.getDB()
	if closed || db == nil {
		return nil, NewStorageError("open session", "", ErrFactoryClosed)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, f.config.Pool.AcquireTimeout())
	conn, err := db.Conn(acquireCtx)
	cancel()
	if err != nil {
		return nil, NewStorageError("acquire connection", "", err)
	}

	// the transaction ends only through Commit, Rollback or Close
	tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		_ = conn.Close()
		return nil, NewStorageError("begin", "", err)
	}

	s := newSession(uuid.NewString(), db, conn, tx, f.logger)
	f.logger.Debug("Session opened", "session", s.ID())
	return s, nil
}

// DB returns the bun handle, or nil once the factory is closed.
func (f *SessionFactory) DB() *bun.DB {
	return f.manager.getDB()
}

// Config returns the normalized configuration the factory was built with.
func (f *SessionFactory) Config() Config {
	return f.config
}

func (f *SessionFactory) Descriptors() []EntityDescriptor {
	out := make([]EntityDescriptor, len(f.descriptors))
	copy(out, f.descriptors)
	return out
}

// Describes reports whether typ was among the factory's entity descriptors.
func (f *SessionFactory) Describes(typ reflect.Type) bool {
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	_, ok := f.described[typ]
	return ok
}

func (f *SessionFactory) Logger() Logger {
	return f.logger
}

func (f *SessionFactory) Stats() *DBStats {
	return f.manager.stats()
}

func (f *SessionFactory) HealthCheck(ctx context.Context) *HealthStatus {
	return f.manager.healthCheck(ctx)
}

// Close tears the pool down. Close every open Session first.
func (f *SessionFactory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	return f.manager.disconnect()
}
