package config

import (
	"encoding/json"
	"fmt"
	"os"

	"driftline/server/internal/modifier"
)

// CategoryFileVersion is the revision of the category file layout.
const CategoryFileVersion = 1

// CategoryDocument is the designer-authored category table. The schema tool
// reflects this type, so field tags double as the file format contract.
type CategoryDocument struct {
	Ver        int                 `json:"ver" jsonschema:"required"`
	Categories []modifier.Category `json:"categories" jsonschema:"required"`
}

// LoadCategories reads the category table from the configured path. An empty
// path falls back to the built-in defaults.
func LoadCategories(path string) ([]modifier.Category, error) {
	if path == "" {
		return modifier.DefaultCategories(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category file: %w", err)
	}
	return ParseCategories(data)
}

// ParseCategories decodes and validates a category document.
func ParseCategories(data []byte) ([]modifier.Category, error) {
	var doc CategoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode category file: %w", err)
	}
	if doc.Ver != CategoryFileVersion {
		return nil, fmt.Errorf("unsupported category file version %d", doc.Ver)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("category file lists no categories")
	}
	seen := make(map[modifier.CategoryID]struct{}, len(doc.Categories))
	for _, category := range doc.Categories {
		if err := category.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[category.ID]; dup {
			return nil, fmt.Errorf("category %q is listed twice", category.ID)
		}
		seen[category.ID] = struct{}{}
	}
	return doc.Categories, nil
}
