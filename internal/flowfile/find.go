package flowfile

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/opcflow/internal/graph"
)

// Load reads a workflow file, dispatching on the file extension.
func Load(path string) (string, *graph.Graph, error) {
	switch {
	case strings.HasSuffix(path, ".json"):
		return LoadJSON(path)
	case strings.HasSuffix(path, ".hcl"):
		return LoadHCL(path)
	default:
		return "", nil, fmt.Errorf("unsupported workflow file %q, want .json or .hcl", path)
	}
}

// Discover walks root and returns every workflow file underneath it, sorted.
func Discover(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".flow.json") || strings.HasSuffix(path, ".flow.hcl") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
