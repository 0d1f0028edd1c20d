package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paceline/paceline/internal/core/tasks"
)

// readTaskSpecs loads queued task specs from a jobs file. A path of "-" reads
// a plain task list from stdin; .yaml/.yml/.json files are parsed as jobs
// documents, anything else as a plain list (one URL per line, optionally
// prefixed by a method).
func readTaskSpecs(path string) ([]tasks.Spec, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("jobs file is required")
	}

	if trimmed == "-" {
		specs, err := tasks.ReadList(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read tasks from stdin: %w", err)
		}
		return specs, nil
	}

	switch strings.ToLower(filepath.Ext(trimmed)) {
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(trimmed)
		if err != nil {
			return nil, err
		}
		specs, err := tasks.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", trimmed, err)
		}
		return specs, nil
	default:
		file, err := os.Open(trimmed)
		if err != nil {
			return nil, err
		}
		defer file.Close() // nolint:errcheck // best-effort cleanup on read-only file

		specs, err := tasks.ReadList(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", trimmed, err)
		}
		return specs, nil
	}
}
