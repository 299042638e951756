// Package store persists run history. The controller treats recording as
// best-effort: a broken store never fails a run.
package store

import (
	"context"
	"time"

	"github.com/pdfharvest/pdfharvest/internal/harvest"
)

// NoOp satisfies harvest.Recorder and discards everything. It is the default
// when no database is configured.
type NoOp struct{}

// BeginRun does nothing.
func (NoOp) BeginRun(_ context.Context, _ string, _ time.Time) error { return nil }

// RecordKeyword does nothing.
func (NoOp) RecordKeyword(_ context.Context, _ string, _ harvest.KeywordResult) error { return nil }

// FinishRun does nothing.
func (NoOp) FinishRun(_ context.Context, _ string, _ time.Time, _, _ string) error { return nil }
