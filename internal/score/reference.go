package score

import (
	"encoding/json"
	"fmt"
	"os"
)

// Reference file format, as produced by an out-of-band extraction of
// the same records through the application's API:
//
//	{"records": [{"name": "Ratatouille", "items": ["Tomates", "..."]}]}
type referenceFile struct {
	Records []referenceRecord `json:"records"`
}

type referenceRecord struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// LoadReference reads a reference mapping of record name to items.
func LoadReference(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	var file referenceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", path, err)
	}
	ref := make(map[string][]string, len(file.Records))
	for _, rec := range file.Records {
		ref[rec.Name] = rec.Items
	}
	return ref, nil
}
