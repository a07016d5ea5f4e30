package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/imageflow/types"
)

const templateExt = ".json"

// Store persists named workflow templates.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, name string) (*Graph, error)
	Save(ctx context.Context, name string, g *Graph) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) bool
}

// FileStore keeps one <name>.json per template in a single directory.
// There is no locking; concurrent saves to one name are last-writer-wins.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created
// lazily on the first save.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With(zap.String("component", "workflow_store")),
	}
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// ValidateName rejects names that could escape the store directory.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return types.NewError(types.ErrValidation, "workflow name is required")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return types.Errorf(types.ErrValidation, "invalid workflow name %q", name)
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+templateExt)
}

// List returns template names in lexicographic order. A missing directory
// is an empty store.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), templateExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), templateExt))
	}
	sort.Strings(names)
	return names, nil
}

// Load reads and parses a template.
func (s *FileStore) Load(ctx context.Context, name string) (*Graph, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.Errorf(types.ErrNotFound, "workflow %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read workflow %q: %w", name, err)
	}

	g, err := Parse(data)
	if err != nil {
		return nil, types.Errorf(types.ErrValidation, "workflow %q is not a valid graph", name).WithCause(err)
	}
	return g, nil
}

// Save writes the template atomically: temp file in the same directory,
// then rename.
func (s *FileStore) Save(ctx context.Context, name string, g *Graph) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	data, err := g.MarshalIndent()
	if err != nil {
		return fmt.Errorf("encode workflow %q: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create workflow directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	// 失败时清理临时文件
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write workflow %q: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close workflow %q: %w", name, err)
	}
	if err = os.Rename(tmpPath, s.path(name)); err != nil {
		return fmt.Errorf("rename workflow %q: %w", name, err)
	}

	s.logger.Debug("workflow saved", zap.String("name", name), zap.Int("nodes", g.Len()))
	return nil
}

// Delete removes a template.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return types.Errorf(types.ErrNotFound, "workflow %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("delete workflow %q: %w", name, err)
	}
	s.logger.Info("workflow deleted", zap.String("name", name))
	return nil
}

// Exists reports whether a template with this name is stored.
func (s *FileStore) Exists(ctx context.Context, name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	info, err := os.Stat(s.path(name))
	return err == nil && !info.IsDir()
}
