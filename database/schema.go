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

	"github.com/uptrace/bun"
)

// syncSchema creates every described table inside one transaction. Existing
// tables are left untouched.
func syncSchema(ctx context.Context, db *bun.DB, mode SchemaMode, descriptors []EntityDescriptor, logger Logger) error {
	if mode != SchemaCreate || len(descriptors) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return NewStorageError("create schema", "", err)
	}
	var committed bool
	defer func(tx bun.Tx) {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				logger.Error("Failed to rollback schema transaction", "error", rollbackErr)
			}
		}
	}(tx)

	for _, d := range descriptors {
		if _, err := tx.NewCreateTable().Model(d.Instance()).IfNotExists().Exec(ctx); err != nil {
			return NewStorageError("create schema", d.Name, fmt.Errorf("create table %s: %w", d.Name, err))
		}
		logger.Debug("Table ensured", "entity", d.Name, "priority", d.Priority)
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("create schema", "", err)
	}
	committed = true
	logger.Info("Schema created", "tables", len(descriptors))
	return nil
}
