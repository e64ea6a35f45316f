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
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

type sessionState int

const (
	sessionActive sessionState = iota
	sessionCommitted
	sessionRolledBack
)

func (s sessionState) String() string {
	switch s {
	case sessionActive:
		return "active"
	case sessionCommitted:
		return "committed"
	case sessionRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// Session is a unit-of-work handle: one pooled connection with one open
// transaction. It is not safe for concurrent use.
type Session struct {
	id       string
	db       *bun.DB
	conn     bun.Conn
	tx       bun.Tx
	logger   Logger
	openedAt time.Time

	mu     sync.Mutex
	state  sessionState
	closed bool
}

func newSession(id string, db *bun.DB, conn bun.Conn, tx bun.Tx, logger Logger) *Session {
	return &Session{
		id:       id,
		db:       db,
		conn:     conn,
		tx:       tx,
		logger:   logger,
		openedAt: time.Now(),
		state:    sessionActive,
	}
}

func (s *Session) ID() string { return s.id }

// IDB returns the transaction handle that queries must run against.
func (s *Session) IDB() bun.IDB { return s.tx }

func (s *Session) NewSelect() *bun.SelectQuery { return s.tx.NewSelect() }

func (s *Session) NewInsert() *bun.InsertQuery { return s.tx.NewInsert() }

func (s *Session) NewUpdate() *bun.UpdateQuery { return s.tx.NewUpdate() }

func (s *Session) NewDelete() *bun.DeleteQuery { return s.tx.NewDelete() }

func (s *Session) NewRaw(query string, args ...interface{}) *bun.RawQuery {
	return s.tx.NewRaw(query, args...)
}

func (s *Session) Dialect() schema.Dialect { return s.db.Dialect() }

// Table returns bun's mapping metadata for a struct type.
func (s *Session) Table(typ reflect.Type) *schema.Table { return s.db.Table(typ) }

// Active reports whether the transaction is still open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == sessionActive && !s.closed
}

// Commit commits the transaction. The connection stays reserved until Close.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive || s.closed {
		return NewStorageError("commit", "", ErrSessionDone)
	}
	// database/sql marks the tx finished even when the commit fails
	s.state = sessionCommitted
	if err := s.tx.Commit(); err != nil {
		return NewStorageError("commit", "", err)
	}
	s.logger.Debug("Session committed", "session", s.id, "elapsed", time.Since(s.openedAt))
	return nil
}

func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != sessionActive || s.closed {
		return NewStorageError("rollback", "", ErrSessionDone)
	}
	return s.rollbackLocked()
}

func (s *Session) rollbackLocked() error {
	s.state = sessionRolledBack
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return NewStorageError("rollback", "", err)
	}
	s.logger.Debug("Session rolled back", "session", s.id, "elapsed", time.Since(s.openedAt))
	return nil
}

// Close rolls back a still open transaction and returns the connection to
// the pool. Calling Close more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var rollbackErr error
	if s.state == sessionActive {
		rollbackErr = s.rollbackLocked()
	}
	if err := s.conn.Close(); err != nil && rollbackErr == nil {
		return NewStorageError("close", "", err)
	}
	return rollbackErr
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state.String()
	if s.closed {
		state += ", closed"
	}
	return "session " + s.id + " (" + state + ")"
}
