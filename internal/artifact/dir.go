package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirSource loads artifacts from a local build tree. It understands
// the Hardhat layout (artifacts/contracts/<File>.sol/<Name>.json), the
// Foundry layout (out/<File>.sol/<Name>.json) and flat directories of
// <Name>.json files.
type DirSource struct {
	root string
}

// NewDirSource creates a DirSource rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Root returns the directory this source reads from.
func (s *DirSource) Root() string {
	return s.root
}

// Load finds and parses <name>.json below the root.
func (s *DirSource) Load(ctx context.Context, name string) (*ContractArtifact, error) {
	if name == "" {
		return nil, fmt.Errorf("artifact name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.find(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return decode(name, data)
}

// find returns the first candidate path for name. Direct layouts win over
// a tree walk.
func (s *DirSource) find(name string) (string, error) {
	file := name + ".json"
	direct := []string{
		filepath.Join(s.root, file),
		filepath.Join(s.root, "artifacts", "contracts", name+".sol", file),
		filepath.Join(s.root, "out", name+".sol", file),
	}
	for _, p := range direct {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	var found string
	errStop := errors.New("stop")
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case "build-info", "cache", "node_modules":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == file && strings.HasSuffix(filepath.Dir(path), ".sol") {
			found = path
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", fmt.Errorf("search artifacts in %s: %w", s.root, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.root)
	}
	return found, nil
}

var _ Source = (*DirSource)(nil)
