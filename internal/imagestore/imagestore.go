// Package imagestore writes captured images to a sandboxed directory and
// serves them back by name.
package imagestore

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

const (
	componentName = "imagestore"

	// DetectedPrefix marks images in which at least one person was found.
	DetectedPrefix = "DETECTED_"

	timestampLayout = "20060102150405"
	filePerm        = 0o640
)

// Image names are [DETECTED_]YYYYMMDDHHMMSS_<8 hex>.jpg
var namePattern = regexp.MustCompile(`^(DETECTED_)?\d{14}_[0-9a-f]{8}\.jpg$`)

// Store is a flat directory of captured images rooted with os.Root so reads and
// writes cannot escape it.
type Store struct {
	dir  string
	root *os.Root
	now  func() time.Time
	log  logger.Logger
}

// New creates dir if needed and verifies it is writable.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, ioError(err, "resolve_path").Build()
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, ioError(err, "create_directory").Build()
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, ioError(err, "open_root").Build()
	}

	s := &Store{dir: abs, root: root, now: time.Now, log: GetLogger()}
	if err := s.probe(); err != nil {
		_ = root.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) probe() error {
	name := ".probe-" + uuid.NewString()
	f, err := s.root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return ioError(err, "probe_writable").Context("dir", s.dir).Build()
	}
	_ = f.Close()
	return s.root.Remove(name)
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

// Save writes raw under a new unique name and returns that name. Existing files
// are never overwritten and a failed write leaves nothing behind.
func (s *Store) Save(raw []byte, detected bool) (string, error) {
	name := s.newName(detected)

	f, err := s.root.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return "", ioError(err, "create_image").Context("image", name).Build()
	}

	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		s.discard(name)
		return "", ioError(err, "write_image").Context("image", name).Build()
	}
	if err := f.Close(); err != nil {
		s.discard(name)
		return "", ioError(err, "close_image").Context("image", name).Build()
	}

	s.log.Debug("image saved",
		logger.String("image", name),
		logger.Int("size_bytes", len(raw)),
		logger.Bool("detected", detected))
	return name, nil
}

func (s *Store) newName(detected bool) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := s.now().Format(timestampLayout) + "_" + id + ".jpg"
	if detected {
		name = DetectedPrefix + name
	}
	return name
}

func (s *Store) discard(name string) {
	if err := s.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("failed to remove partial image", logger.String("image", name), logger.Error(err))
	}
}

// ValidName reports whether name has the form produced by Save.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Open opens a stored image for reading.
func (s *Store) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, errors.Newf("invalid image name %q", name).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Newf("image %s not found", name).
				Component(componentName).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, ioError(err, "open_image").Context("image", name).Build()
	}
	return f, nil
}

// FreeBytes reports the free space on the volume holding the store.
func (s *Store) FreeBytes() (uint64, error) {
	usage, err := disk.Usage(s.dir)
	if err != nil {
		return 0, ioError(err, "disk_usage").Build()
	}
	return usage.Free, nil
}

func ioError(err error, op string) *errors.ErrorBuilder {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryFileIO).
		Context("operation", op)
}
