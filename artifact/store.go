package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kbukum/stepflow/component"
	"github.com/kbukum/stepflow/logger"
	"github.com/kbukum/stepflow/storage"
	"github.com/kbukum/stepflow/storage/local"
	"github.com/kbukum/stepflow/storage/s3"
)

// Store allocates output locations and tracks artifacts over a storage
// bucket.
type Store struct {
	bucket  storage.Bucket
	id      string
	root    string
	log     *logger.Logger
}

// NewStore wraps an existing bucket.
func NewStore(bucket storage.Bucket, id, root string, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{bucket: bucket, id: id, root: root, log: log.WithComponent("artifacts")}
}

// Open builds the bucket named in cfg and wraps it in a Store.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		bucket storage.Bucket
		err    error
	)
	switch cfg.Provider {
	case storage.ProviderLocal:
		bucket, err = local.Open(cfg.BasePath)
	case storage.ProviderS3:
		bucket, err = s3.Open(ctx, cfg.Config)
	default:
		err = fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: %w", err)
	}
	return NewStore(bucket, cfg.ID, cfg.Root, log), nil
}

// ID identifies the store in fingerprints.
func (s *Store) ID() string { return s.id }

// Root is the path prefix under which run outputs are allocated.
func (s *Store) Root() string { return s.root }

// Allocate returns the location for an output of a step in a run. The
// location is unique per run so concurrent runs never share a location.
func (s *Store) Allocate(runID, step, output string) Location {
	return Location(path.Join(s.root, runID, step, output))
}

// Prepare readies locs for writers outside the daemon. Filesystem-backed
// providers get the parent directory of each location created.
func (s *Store) Prepare(locs ...Location) error {
	for _, loc := range locs {
		p, ok := s.LocalPath(loc)
		if !ok {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return fmt.Errorf("artifacts: prepare %s: %w", loc, err)
		}
	}
	return nil
}

// Exists reports whether anything is stored at loc.
func (s *Store) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.bucket.Stat(ctx, string(loc))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	}
	return false, err
}

// Size is the number of bytes stored at loc, summed over a tree.
func (s *Store) Size(ctx context.Context, loc Location) (int64, error) {
	obj, err := s.bucket.Stat(ctx, string(loc))
	return obj.Size, err
}

// Discard removes the given locations, continuing past failures.
func (s *Store) Discard(ctx context.Context, locs ...Location) error {
	var errs []error
	for _, loc := range locs {
		if err := s.bucket.Remove(ctx, string(loc)); err != nil {
			errs = append(errs, err)
			continue
		}
		s.log.Debug("discarded artifact location", logger.Fields("location", string(loc)))
	}
	return errors.Join(errs...)
}

// Write stores the contents of r at loc.
func (s *Store) Write(ctx context.Context, loc Location, r io.Reader) error {
	return s.bucket.Put(ctx, string(loc), r)
}

// WriteBytes stores data at loc.
func (s *Store) WriteBytes(ctx context.Context, loc Location, data []byte) error {
	return s.Write(ctx, loc, bytes.NewReader(data))
}

// Read opens the artifact at loc. The caller closes the reader.
func (s *Store) Read(ctx context.Context, loc Location) (io.ReadCloser, error) {
	return s.bucket.Get(ctx, string(loc))
}

// ReadBytes loads the whole artifact at loc.
func (s *Store) ReadBytes(ctx context.Context, loc Location) ([]byte, error) {
	rc, err := s.Read(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// URL returns an addressable URL for loc (file:// or s3://).
func (s *Store) URL(ctx context.Context, loc Location) (string, error) {
	return s.bucket.URL(string(loc)), nil
}

// LocalPath returns the filesystem path for loc when the provider is
// filesystem-backed.
func (s *Store) LocalPath(loc Location) (string, bool) {
	p, ok := s.bucket.(storage.Filesystem)
	if !ok {
		return "", false
	}
	return p.Path(string(loc)), true
}

// Component exposes the store to the component registry. Health lists at
// most one object under the root.
func (s *Store) Component() component.Component {
	return &component.Func{
		ComponentName: "artifacts",
		HealthFn: func(ctx context.Context) error {
			err := s.bucket.Walk(ctx, strings.TrimSuffix(s.root, "/")+"/", func(storage.Object) error {
				return errProbed
			})
			if errors.Is(err, errProbed) {
				return nil
			}
			return err
		},
	}
}

var errProbed = errors.New("probed")
