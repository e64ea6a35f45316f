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
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var (
	defaultRegistry = NewEntityRegistry()
	baseModelType   = reflect.TypeOf(bun.BaseModel{})

	// table metadata only; names do not depend on the dialect
	metaDialect = sqlitedialect.New()
)

// EntityDescriptor identifies a struct type as mappable to a table.
// Priority orders table creation (lower values first).
type EntityDescriptor struct {
	Type     reflect.Type
	Name     string
	Priority int
}

// NewEntityDescriptor describes model, which must be a struct or a pointer
// to one.
func NewEntityDescriptor(model interface{}, priority int) (EntityDescriptor, error) {
	if model == nil {
		return EntityDescriptor{}, NewConfigurationError("entity", "entity model cannot be nil")
	}
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return EntityDescriptor{}, NewConfigurationError("entity",
			fmt.Sprintf("%s is not a struct type", t))
	}
	return EntityDescriptor{Type: t, Name: entityName(t), Priority: priority}, nil
}

// Instance returns a new zero value pointer of the described type.
func (d EntityDescriptor) Instance() interface{} {
	return reflect.New(d.Type).Interface()
}

// Marked reports whether the type embeds bun.BaseModel.
func (d EntityDescriptor) Marked() bool {
	if d.Type == nil || d.Type.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < d.Type.NumField(); i++ {
		f := d.Type.Field(i)
		if f.Anonymous && f.Type == baseModelType {
			return true
		}
	}
	return false
}

func (d EntityDescriptor) String() string {
	return fmt.Sprintf("%s.%s(%s)", d.Type.PkgPath(), d.Type.Name(), d.Name)
}

func entityName(t reflect.Type) string {
	if n, ok := reflect.New(t).Interface().(interface{ TableName() string }); ok {
		if name := n.TableName(); name != "" {
			return name
		}
	}
	if table := metaDialect.Tables().Get(t); table != nil && table.Name != "" {
		return table.Name
	}
	return t.Name()
}

// Describe builds descriptors for an explicit list of models, keeping the
// given order as priority.
func Describe(models ...interface{}) ([]EntityDescriptor, error) {
	descriptors := make([]EntityDescriptor, 0, len(models))
	for i, m := range models {
		d, err := NewEntityDescriptor(m, i)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// EntityRegistry stores entity descriptors and exposes them in a
// deterministic order.
type EntityRegistry interface {
	Register(model interface{}, priority int) error
	Descriptors() []EntityDescriptor
	Scan(namespaceRoot string) []EntityDescriptor
}

type entityRegistry struct {
	descriptors []EntityDescriptor
	mutex       sync.RWMutex
}

func NewEntityRegistry() EntityRegistry {
	return &entityRegistry{
		descriptors: make([]EntityDescriptor, 0),
	}
}

func (r *entityRegistry) Register(model interface{}, priority int) error {
	d, err := NewEntityDescriptor(model, priority)
	if err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for i, existing := range r.descriptors {
		if existing.Type == d.Type {
			r.descriptors[i] = d
			return nil
		}
	}
	r.descriptors = append(r.descriptors, d)
	return nil
}

func (r *entityRegistry) Descriptors() []EntityDescriptor {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]EntityDescriptor, len(r.descriptors))
	copy(result, r.descriptors)
	sortDescriptors(result)
	return result
}

// Scan returns every registered concrete entity whose package path is at or
// below namespaceRoot and which carries the bun.BaseModel marker. An empty
// root matches every package.
func (r *entityRegistry) Scan(namespaceRoot string) []EntityDescriptor {
	root := strings.TrimSuffix(namespaceRoot, "/")
	var found []EntityDescriptor
	for _, d := range r.Descriptors() {
		if !d.Marked() {
			continue
		}
		pkg := d.Type.PkgPath()
		if root == "" || pkg == root || strings.HasPrefix(pkg, root+"/") {
			found = append(found, d)
		}
	}
	return found
}

func sortDescriptors(ds []EntityDescriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Priority != ds[j].Priority {
			return ds[i].Priority < ds[j].Priority
		}
		return ds[i].Name < ds[j].Name
	})
}

// RegisterEntity adds a model to the default registry. It is meant for
// package init functions and panics on a non-struct model.
func RegisterEntity(model interface{}, priority int) {
	if err := defaultRegistry.Register(model, priority); err != nil {
		panic(err)
	}
}

// RegisteredEntities returns the default registry's descriptors sorted by
// ascending priority.
func RegisteredEntities() []EntityDescriptor {
	return defaultRegistry.Descriptors()
}

// Scan searches the default registry below namespaceRoot.
func Scan(namespaceRoot string) []EntityDescriptor {
	return defaultRegistry.Scan(namespaceRoot)
}
