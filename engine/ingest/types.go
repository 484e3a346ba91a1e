package ingest

import (
	"path/filepath"
	"strings"
)

// imageFile is one candidate file discovered by the folder walk, with
// its category already inferred from the parent directory name.
type imageFile struct {
	Path     string
	Filename string
	Category string
}

// imageExtensions are the file types the indexer will attempt to decode.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

func hasImageExtension(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
