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
	"math"
	"reflect"
	"strings"

	"github.com/tomoncle/txrepo/database"
	"github.com/tomoncle/txrepo/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// Filter appends predicates for one query. It is called exactly once per
// query build and must not keep b, q or root after it returns. A nil Filter
// matches every row.
type Filter[T any] func(b *Builder, q *bun.SelectQuery, root Root[T], preds *Predicates)

// Predicate is one boolean SQL condition with its arguments. A predicate
// built from an unknown column carries an error instead.
type Predicate struct {
	query string
	args  []interface{}
	err   error
}

func (p Predicate) Err() error { return p.err }

func (p Predicate) String() string {
	if p.err != nil {
		return "invalid predicate: " + p.err.Error()
	}
	return p.query
}

// Predicates is the ordered list a Filter appends to. All entries are
// combined with AND.
type Predicates struct {
	list []Predicate
}

func (ps *Predicates) Add(preds ...Predicate) {
	ps.list = append(ps.list, preds...)
}

func (ps *Predicates) Len() int { return len(ps.list) }

// Err returns the first invalid predicate's error.
func (ps *Predicates) Err() error {
	for _, p := range ps.list {
		if p.err != nil {
			return p.err
		}
	}
	return nil
}

func (ps *Predicates) apply(q *bun.SelectQuery) *bun.SelectQuery {
	for _, p := range ps.list {
		q = q.Where(p.query, p.args...)
	}
	return q
}

// Column is a resolved column of an entity table.
type Column struct {
	name string
	err  error
}

// Name returns the SQL column name.
func (c Column) Name() string { return c.name }

func (c Column) Err() error { return c.err }

// Root gives a Filter access to the mapped columns of T.
type Root[T any] struct {
	table *schema.Table
}

func newRoot[T any](sess *database.Session) Root[T] {
	return Root[T]{table: sess.Table(reflect.TypeOf((*T)(nil)).Elem())}
}

// Table returns Bun's metadata for T.
func (r Root[T]) Table() *schema.Table { return r.table }

// Col resolves name, either a column name or a Go field name.
func (r Root[T]) Col(name string) Column {
	if f, ok := r.table.FieldMap[name]; ok {
		return Column{name: f.Name}
	}
	for _, f := range r.table.Fields {
		if f.GoName == name {
			return Column{name: f.Name}
		}
	}
	return Column{name: name, err: fmt.Errorf("%w: %s has no column %q", database.ErrUnknownColumn, r.table.Type.Name(), name)}
}

// Builder creates predicates. The zero value is ready to use.
type Builder struct{}

// Eq emits IS NULL for a nil value, typed nil pointers included.
func (b *Builder) Eq(c Column, v interface{}) Predicate {
	if isNil(v) {
		return b.IsNull(c)
	}
	return b.compare(c, "=", v)
}

func (b *Builder) Ne(c Column, v interface{}) Predicate {
	if isNil(v) {
		return b.IsNotNull(c)
	}
	return b.compare(c, "<>", v)
}

func (b *Builder) Gt(c Column, v interface{}) Predicate { return b.compare(c, ">", v) }

func (b *Builder) Ge(c Column, v interface{}) Predicate { return b.compare(c, ">=", v) }

func (b *Builder) Lt(c Column, v interface{}) Predicate { return b.compare(c, "<", v) }

func (b *Builder) Le(c Column, v interface{}) Predicate { return b.compare(c, "<=", v) }

func (b *Builder) Like(c Column, pattern string) Predicate { return b.compare(c, "LIKE", pattern) }

// In matches any element of values, which must be a slice. An empty slice
// matches nothing.
func (b *Builder) In(c Column, values interface{}) Predicate {
	if c.err != nil {
		return Predicate{err: c.err}
	}
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return Predicate{err: fmt.Errorf("IN on %q needs a slice, got %T", c.name, values)}
	}
	if rv.Len() == 0 {
		return Predicate{query: "1 = 0"}
	}
	return Predicate{query: "? IN (?)", args: []interface{}{bun.Ident(c.name), bun.In(values)}}
}

func (b *Builder) IsNull(c Column) Predicate {
	if c.err != nil {
		return Predicate{err: c.err}
	}
	return Predicate{query: "? IS NULL", args: []interface{}{bun.Ident(c.name)}}
}

func (b *Builder) IsNotNull(c Column) Predicate {
	if c.err != nil {
		return Predicate{err: c.err}
	}
	return Predicate{query: "? IS NOT NULL", args: []interface{}{bun.Ident(c.name)}}
}

// And joins preds; with none it matches every row.
func (b *Builder) And(preds ...Predicate) Predicate {
	if len(preds) == 0 {
		return Predicate{query: "1 = 1"}
	}
	return join(" AND ", preds)
}

// Or joins preds; with none it matches nothing.
func (b *Builder) Or(preds ...Predicate) Predicate {
	if len(preds) == 0 {
		return Predicate{query: "1 = 0"}
	}
	return join(" OR ", preds)
}

func (b *Builder) Not(p Predicate) Predicate {
	if p.err != nil {
		return p
	}
	return Predicate{query: "NOT (" + p.query + ")", args: p.args}
}

// Raw wraps a hand written condition using Bun placeholders.
func (b *Builder) Raw(query string, args ...interface{}) Predicate {
	return Predicate{query: query, args: args}
}

func (b *Builder) compare(c Column, op string, v interface{}) Predicate {
	if c.err != nil {
		return Predicate{err: c.err}
	}
	return Predicate{query: "? " + op + " ?", args: []interface{}{bun.Ident(c.name), v}}
}

// isNil reports a nil interface or a nil pointer, map, slice or interface
// value inside it.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func join(sep string, preds []Predicate) Predicate {
	parts := make([]string, 0, len(preds))
	var args []interface{}
	for _, p := range preds {
		if p.err != nil {
			return p
		}
		parts = append(parts, "("+p.query+")")
		args = append(args, p.args...)
	}
	return Predicate{query: strings.Join(parts, sep), args: args}
}

// Query is a built, not yet executed select over T.
type Query[T any] struct {
	q    *bun.SelectQuery
	rows *[]*T
}

// BuildQuery builds a select over T in sess. filter, when non-nil, is
// invoked once and its predicates are combined with AND. A positive offset
// skips rows and a positive limit caps them; non-positive values leave that
// axis unbounded. An unknown column in a predicate fails with a
// *database.StorageError wrapping database.ErrUnknownColumn.
func BuildQuery[T any](sess *database.Session, filter Filter[T], offset, limit int) (*Query[T], error) {
	rows := make([]*T, 0)
	q := sess.NewSelect().Model(&rows)

	preds := &Predicates{}
	if filter != nil {
		filter(&Builder{}, q, newRoot[T](sess), preds)
	}
	if err := preds.Err(); err != nil {
		return nil, database.NewStorageError("build query", typeName[T](), err)
	}
	q = preds.apply(q)
	q = applyWindow(q, sess.Dialect().Name(), types.NewWindow(offset, limit))
	return &Query[T]{q: q, rows: &rows}, nil
}

// applyWindow sets OFFSET and LIMIT. SQLite and MySQL reject an OFFSET
// without a LIMIT, so they get the largest LIMIT instead.
func applyWindow(q *bun.SelectQuery, name dialect.Name, w types.Window) *bun.SelectQuery {
	if w.HasLimit() {
		q = q.Limit(w.Limit)
	}
	if !w.HasOffset() {
		return q
	}
	q = q.Offset(w.Offset)
	if !w.HasLimit() {
		switch name {
		case dialect.SQLite, dialect.MySQL:
			q = q.Limit(math.MaxInt)
		}
	}
	return q
}

// Scan executes the query.
func (q *Query[T]) Scan(ctx context.Context) ([]*T, error) {
	if err := q.q.Scan(ctx); err != nil {
		return nil, err
	}
	return *q.rows, nil
}

// Count returns the number of matching rows ignoring offset and limit.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	return q.q.Count(ctx)
}

// Select exposes the underlying Bun query.
func (q *Query[T]) Select() *bun.SelectQuery { return q.q }

func (q *Query[T]) String() string { return q.q.String() }
