package domain

import (
	"fmt"
	"strings"
)

const (
	// DefaultTopK is the result count used when a request leaves K unset.
	DefaultTopK = 5
	// MaxTopK caps result counts to keep response sizes bounded.
	MaxTopK = 100
)

// ValidateRecord checks that a record can enter a collection of the
// given dimension. Violations are schema conflicts, not upsert failures:
// the record is rejected before any engine call.
func ValidateRecord(r ImageRecord, dimension int) error {
	if r.ID == "" {
		return fmt.Errorf("record %q: missing id", r.Path)
	}
	if len(r.Vector) != dimension {
		return &SchemaError{
			Field: "vector dimension",
			Want:  fmt.Sprintf("%d", dimension),
			Got:   fmt.Sprintf("%d (record %s)", len(r.Vector), r.ID),
		}
	}
	return nil
}

// NormalizeSearchRequest validates a search request and clamps TopK into
// range. The query itself is normalized later by the query pipeline.
func NormalizeSearchRequest(req SearchRequest) (SearchRequest, error) {
	if strings.TrimSpace(req.Query) == "" {
		return req, ErrEmptyQuery
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK > MaxTopK {
		req.TopK = MaxTopK
	}
	return req, nil
}

// ValidateCollectionConfig rejects configs the engine cannot create.
func ValidateCollectionConfig(cfg CollectionConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("collection config: missing name")
	}
	if cfg.VectorName == "" {
		return fmt.Errorf("collection config: missing vector name")
	}
	if cfg.Dimension <= 0 {
		return fmt.Errorf("collection config: dimension must be positive, got %d", cfg.Dimension)
	}
	return nil
}
