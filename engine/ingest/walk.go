package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// collectImages walks the immediate subdirectories of root. Each
// subdirectory name becomes the category for every image file directly
// inside it; there is no recursive category nesting. Files in root
// itself and deeper directory levels are ignored.
func collectImages(root string) ([]imageFile, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("ingest: read root %s: %w", root, err)
	}

	var files []imageFile
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		category := e.Name()
		dir := filepath.Join(root, category)
		children, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("ingest: read category dir %s: %w", dir, err)
		}
		for _, c := range children {
			if c.IsDir() || !hasImageExtension(c.Name()) {
				continue
			}
			files = append(files, imageFile{
				Path:     filepath.Join(dir, c.Name()),
				Filename: c.Name(),
				Category: category,
			})
		}
	}

	// Deterministic order regardless of readdir quirks.
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
