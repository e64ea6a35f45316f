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
	"database/sql"
	"errors"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var (
	slowColor  = color.New(color.FgYellow, color.Bold)
	errorColor = color.New(color.BgRed, color.FgWhite)
)

// SlowQueryHook logs queries that take longer than Threshold.
type SlowQueryHook struct {
	Threshold time.Duration
	Logger    Logger
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil || h.Logger == nil || h.Threshold <= 0 {
		return
	}
	duration := time.Since(event.StartTime)
	if duration > h.Threshold {
		h.Logger.Warn(slowColor.Sprint("Database slow query detected"),
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.Threshold,
			"operation", event.Operation(),
			"query", event.Query,
		)
	}
}

// ErrorQueryHook logs failed statements at debug level. No-rows and
// finished-transaction errors are expected control flow and skipped.
type ErrorQueryHook struct {
	Logger Logger
}

var _ bun.QueryHook = (*ErrorQueryHook)(nil)

func (h *ErrorQueryHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *ErrorQueryHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if h.Logger == nil || event.Err == nil {
		return
	}
	if errors.Is(event.Err, sql.ErrNoRows) || errors.Is(event.Err, sql.ErrTxDone) {
		return
	}
	_, kind := IsSqlError(event.Err)
	h.Logger.Debug(errorColor.Sprint("Database query failed"),
		"operation", event.Operation(),
		"kind", kind,
		"error", event.Err,
		"query", event.Query,
	)
}
