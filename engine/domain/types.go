// Package domain defines the core types, error taxonomy, and validation
// for the Retina engine. It is the dependency-free center that every
// other package imports.
package domain

import "time"

// Intent classifies whether a raw query benefits from LLM rewriting
// before embedding.
type Intent int

const (
	// IntentRewrite marks conversational or long queries that should be
	// rewritten into a caption before embedding.
	IntentRewrite Intent = iota
	// IntentPassThrough marks queries that already read like a caption
	// or keyword list and can be embedded as-is.
	IntentPassThrough
)

func (i Intent) String() string {
	switch i {
	case IntentRewrite:
		return "rewrite"
	case IntentPassThrough:
		return "pass-through"
	default:
		return "unknown"
	}
}

// Quantization selects how vector components are stored in the engine.
type Quantization int

const (
	// QuantNone stores full-precision float vectors.
	QuantNone Quantization = iota
	// QuantInt8 enables INT8 scalar quantization at the collection level.
	QuantInt8
)

// CollectionConfig is the collection schema. It is fixed at creation
// time; changing any field requires rebuilding the collection.
type CollectionConfig struct {
	Name         string
	VectorName   string
	Dimension    int
	Quantization Quantization
	OnDisk       bool
}

// ImageRecord is one indexed image. Records are immutable after upsert;
// Category is derived once from the folder structure at creation time.
type ImageRecord struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Category string    `json:"category"`
	Vector   []float32 `json:"-"`
}

// SearchResult is a single similarity hit. Higher score means closer.
type SearchResult struct {
	ID       string  `json:"id"`
	Score    float32 `json:"score"`
	Filename string  `json:"filename"`
	Path     string  `json:"path"`
	Category string  `json:"category"`
}

// SearchRequest is a text search as received from the API layer.
type SearchRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"k"`
	Category string `json:"category,omitempty"`
}

// SearchResponse carries ranked results. Degraded is set when the
// rewrite step failed and the original query was embedded instead.
type SearchResponse struct {
	Query      string         `json:"query"`
	FinalQuery string         `json:"final_query"`
	Degraded   bool           `json:"degraded,omitempty"`
	Results    []SearchResult `json:"results"`
}

// SkippedFile records a file the indexer could not process.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IndexReport summarises one folder indexing run.
type IndexReport struct {
	Indexed       int           `json:"indexed"`
	Skipped       []SkippedFile `json:"skipped,omitempty"`
	FailedUpserts []string      `json:"failed_upserts,omitempty"`
	Started       time.Time     `json:"started"`
	Duration      time.Duration `json:"duration"`
}

// IndexJob is a folder indexing request carried over NATS. Retries
// counts how many times the job has already failed and been republished.
type IndexJob struct {
	Root    string `json:"root"`
	Retries int    `json:"retries,omitempty"`
}
