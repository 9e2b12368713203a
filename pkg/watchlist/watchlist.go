// Package watchlist loads the per-source watchlist documents that name the
// projects to monitor, and re-reads them on change so watch targets can be
// added without a restart.
package watchlist

import (
	"encoding/json"
	"fmt"
	"os"
)

// Project is one watched project within a source.
type Project struct {
	// Name is the display name used in notification titles.
	Name string `json:"name"`
	// Metadata carries source-specific fields (space, governor_address,
	// rpc_url, ...). Required keys are validated per source at load.
	Metadata map[string]string `json:"metadata"`
}

// Document is the on-disk watchlist shape.
type Document struct {
	Projects []Project `json:"projects"`
}

// Load reads the document at path and validates that every project carries
// the required metadata keys. An empty project list is valid; a project
// missing a required key is a configuration error.
func Load(path string, requiredMeta ...string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse watchlist %s: %w", path, err)
	}

	for _, p := range doc.Projects {
		if p.Name == "" {
			return nil, fmt.Errorf("watchlist %s: project with empty name", path)
		}
		for _, key := range requiredMeta {
			if p.Metadata[key] == "" {
				return nil, fmt.Errorf("watchlist %s: project %s missing required metadata %q",
					path, p.Name, key)
			}
		}
	}
	return &doc, nil
}
