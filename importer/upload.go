package importer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	patrowl "github.com/D-E-N/PatrowlManager"
)

// Uploads stores report files under <root>/imports/<owner>/.
type Uploads struct {
	root string
	now  func() time.Time
}

// NewUploads returns upload storage rooted at mediaRoot.
func NewUploads(mediaRoot string) *Uploads {
	return &Uploads{root: mediaRoot, now: time.Now}
}

// Save writes r to <root>/imports/<owner>/import_<owner>_<unix ms>.<engine>
// and returns the path. A name already taken in the same millisecond moves
// on to the next one.
func (u *Uploads) Save(ownerID, engine string, r io.Reader) (string, error) {
	const op = "importer.Uploads.Save"

	if err := checkPathElem(ownerID); err != nil {
		return "", patrowl.NewValidationError(op, fmt.Errorf("owner: %w", err))
	}
	if err := checkPathElem(engine); err != nil {
		return "", patrowl.NewValidationError(op, fmt.Errorf("engine: %w", err))
	}

	dir := filepath.Join(u.root, "imports", ownerID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", patrowl.NewStorageError(op, fmt.Errorf("create upload directory: %w", err))
	}

	ms := u.now().UnixMilli()
	for attempt := 0; attempt < 100; attempt++ {
		name := fmt.Sprintf("import_%s_%d.%s", ownerID, ms+int64(attempt), engine)
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", patrowl.NewStorageError(op, fmt.Errorf("create upload file: %w", err))
		}

		if _, err := io.Copy(f, r); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return "", patrowl.NewStorageError(op, fmt.Errorf("write upload file: %w", err))
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(path)
			return "", patrowl.NewStorageError(op, fmt.Errorf("close upload file: %w", err))
		}
		return path, nil
	}

	return "", patrowl.NewStorageError(op, fmt.Errorf("no free upload name in %s", dir))
}

// Open opens a stored upload. The path must lie under the imports directory.
func (u *Uploads) Open(path string) (*os.File, error) {
	const op = "importer.Uploads.Open"

	base := filepath.Join(u.root, "imports") + string(filepath.Separator)
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, base) {
		return nil, patrowl.NewValidationError(op, fmt.Errorf("path %q is outside the upload directory", path))
	}

	f, err := os.Open(clean)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, patrowl.NewNotFoundError(op, err)
		}
		return nil, patrowl.NewStorageError(op, err)
	}
	return f, nil
}

func checkPathElem(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("invalid value %q", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("must not contain a path separator")
	}
	return nil
}
