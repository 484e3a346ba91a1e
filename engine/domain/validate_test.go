package domain

import (
	"errors"
	"testing"
)

func TestValidateRecord(t *testing.T) {
	ok := ImageRecord{ID: "a", Path: "/x/a.png", Vector: make([]float32, 4)}
	if err := ValidateRecord(ok, 4); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	short := ImageRecord{ID: "b", Vector: make([]float32, 3)}
	err := ValidateRecord(short, 4)
	if !errors.Is(err, ErrSchemaConflict) {
		t.Fatalf("dimension mismatch must be a schema conflict, got %v", err)
	}
	var se *SchemaError
	if !errors.As(err, &se) || se.Field != "vector dimension" {
		t.Fatalf("error = %v", err)
	}

	if err := ValidateRecord(ImageRecord{Vector: make([]float32, 4)}, 4); err == nil {
		t.Fatal("missing id must be rejected")
	}
}

func TestNormalizeSearchRequest(t *testing.T) {
	cases := []struct {
		name    string
		in      SearchRequest
		wantK   int
		wantErr error
	}{
		{"default k", SearchRequest{Query: "cat"}, DefaultTopK, nil},
		{"explicit k", SearchRequest{Query: "cat", TopK: 12}, 12, nil},
		{"negative k", SearchRequest{Query: "cat", TopK: -3}, DefaultTopK, nil},
		{"clamped k", SearchRequest{Query: "cat", TopK: 5000}, MaxTopK, nil},
		{"empty query", SearchRequest{Query: ""}, 0, ErrEmptyQuery},
		{"whitespace query", SearchRequest{Query: "   "}, 0, ErrEmptyQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := NormalizeSearchRequest(tc.in)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && out.TopK != tc.wantK {
				t.Fatalf("TopK = %d, want %d", out.TopK, tc.wantK)
			}
		})
	}
}

func TestValidateCollectionConfig(t *testing.T) {
	good := CollectionConfig{Name: "images", VectorName: "image", Dimension: 512}
	if err := ValidateCollectionConfig(good); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []CollectionConfig{
		{VectorName: "image", Dimension: 512},
		{Name: "images", Dimension: 512},
		{Name: "images", VectorName: "image"},
		{Name: "images", VectorName: "image", Dimension: -1},
	}
	for i, cfg := range bad {
		if err := ValidateCollectionConfig(cfg); err == nil {
			t.Errorf("case %d: invalid config accepted: %+v", i, cfg)
		}
	}
}

func TestUpsertErrorUnwrap(t *testing.T) {
	base := errors.New("engine down")
	err := error(&UpsertError{FailedIDs: []string{"a", "b"}, Err: base})
	if !errors.Is(err, base) {
		t.Fatal("UpsertError must unwrap to the engine error")
	}
	var ue *UpsertError
	if !errors.As(err, &ue) || len(ue.FailedIDs) != 2 {
		t.Fatalf("errors.As failed: %v", err)
	}
}
