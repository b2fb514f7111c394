package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/adapter"
	"github.com/m-mizutani/pika/pkg/model"
)

// maxNameAttempts bounds the suffixes tried when a report name is taken
const maxNameAttempts = 100

// Store persists rendered reports. Reports are written once and never updated.
type Store interface {
	// Save writes the report and returns where it was stored. When r.Name is taken the
	// report is stored as "<name>_2.md", "<name>_3.md" and so on, and r.Name is updated.
	Save(ctx context.Context, r *model.Report) (string, error)
	// List returns stored report names, oldest first
	List(ctx context.Context) ([]string, error)
	// Load returns the markdown of a stored report
	Load(ctx context.Context, name string) (string, error)
}

// candidateName returns name for the first attempt and inserts "_<attempt>" before the
// extension for later ones
func candidateName(name string, attempt int) string {
	if attempt <= 1 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), attempt, ext)
}

// checkName rejects names that could leave the store
func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "/") {
		return goerr.New("invalid report name", goerr.V("name", name))
	}
	return nil
}

// FileStore writes reports into a local directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, goerr.New("report directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, goerr.Wrap(err, "failed to create report directory", goerr.V("dir", dir))
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(ctx context.Context, r *model.Report) (string, error) {
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		name := candidateName(r.Name, attempt)
		p := filepath.Join(s.dir, name)

		// O_EXCL keeps reports immutable
		f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", goerr.Wrap(err, "failed to create report file", goerr.V("path", p))
		}
		if _, err := io.WriteString(f, r.Markdown); err != nil {
			_ = f.Close()
			return "", goerr.Wrap(err, "failed to write report file", goerr.V("path", p))
		}
		if err := f.Close(); err != nil {
			return "", goerr.Wrap(err, "failed to close report file", goerr.V("path", p))
		}
		r.Name = name
		return p, nil
	}
	return "", goerr.New("no free report name", goerr.V("name", r.Name), goerr.V("dir", s.dir))
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "investigation_*.md"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list reports", goerr.V("dir", s.dir))
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Load(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, name)
	data, err := os.ReadFile(p)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read report file", goerr.V("path", p))
	}
	return string(data), nil
}

// BucketStore writes reports to Cloud Storage under a prefix
type BucketStore struct {
	storage adapter.Storage
	prefix  string
}

// NewBucketStore creates a store writing objects "<prefix>/<report name>"
func NewBucketStore(storage adapter.Storage, prefix string) *BucketStore {
	return &BucketStore{storage: storage, prefix: strings.Trim(prefix, "/")}
}

func (s *BucketStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *BucketStore) Save(ctx context.Context, r *model.Report) (string, error) {
	for attempt := 1; attempt <= maxNameAttempts; attempt++ {
		name := candidateName(r.Name, attempt)
		key, err := s.create(ctx, name, r.Markdown)
		if errors.Is(err, adapter.ErrObjectExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		r.Name = name
		return key, nil
	}
	return "", goerr.New("no free report name", goerr.V("name", r.Name), goerr.V("prefix", s.prefix))
}

func (s *BucketStore) create(ctx context.Context, name, markdown string) (string, error) {
	key := s.key(name)
	w, err := s.storage.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open report object", goerr.V("key", key))
	}
	if _, err := io.WriteString(w, markdown); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to write report object", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to finalize report object", goerr.V("key", key))
	}
	return key, nil
}

func (s *BucketStore) List(ctx context.Context) ([]string, error) {
	prefix := s.key("investigation_")
	keys, err := s.storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = path.Base(k)
	}
	return names, nil
}

func (s *BucketStore) Load(ctx context.Context, name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	r, err := s.storage.Get(ctx, s.key(name))
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read report object", goerr.V("name", name))
	}
	return string(data), nil
}
