package generation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/imageflow/types"
	"github.com/BaSui01/imageflow/workflow"
)

// DefaultOutputDir is where generated images are kept when no directory is
// configured.
const DefaultOutputDir = "~/Pictures/imageflow"

// extForMIME maps a content type to the saved file extension.
func extForMIME(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "png"):
		return "png"
	case strings.Contains(mimeType, "webp"):
		return "webp"
	}
	return "jpg"
}

// outputName builds <YYYY-MM-DD>_<8 hex>.<ext> using the UTC date.
func outputName(now time.Time, mimeType string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s.%s", now.UTC().Format(time.DateOnly), id, extForMIME(mimeType))
}

// saveImage writes data under dir and returns the file path. Failures are
// PERSISTENCE_WARNING errors.
func saveImage(dir string, now time.Time, data []byte, mimeType string) (string, error) {
	resolved, err := workflow.ExpandHome(dir)
	if err != nil {
		return "", types.NewError(types.ErrPersistenceWarning, "cannot resolve output directory").WithCause(err)
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return "", types.Errorf(types.ErrPersistenceWarning, "cannot create output directory %q", resolved).WithCause(err)
	}
	path := filepath.Join(resolved, outputName(now, mimeType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", types.Errorf(types.ErrPersistenceWarning, "cannot write image %q", path).WithCause(err)
	}
	return path, nil
}
