package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrEmbedding means the embedding provider could not produce a
	// vector. There is no sensible fallback vector, so the current
	// operation fails.
	ErrEmbedding = errors.New("embedding failed")
	// ErrRewriteUnavailable means the query rewriter could not be
	// reached. Callers fall back to the original query.
	ErrRewriteUnavailable = errors.New("rewriter unavailable")
	// ErrSchemaConflict means an existing collection disagrees with the
	// requested schema (dimension or vector name).
	ErrSchemaConflict = errors.New("collection schema conflict")
	// ErrEmptyQuery rejects blank search input.
	ErrEmptyQuery = errors.New("query must not be empty")
)

// SchemaError wraps ErrSchemaConflict with the field that disagreed.
type SchemaError struct {
	Field string
	Want  string
	Got   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema conflict: %s: want %s, got %s", e.Field, e.Want, e.Got)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaConflict }

// UpsertError reports records that could not be persisted after batch
// retries. Callers may re-attempt the listed IDs individually.
type UpsertError struct {
	FailedIDs []string
	Err       error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert failed for %d records [%s]: %v",
		len(e.FailedIDs), strings.Join(e.FailedIDs, ","), e.Err)
}

func (e *UpsertError) Unwrap() error { return e.Err }
