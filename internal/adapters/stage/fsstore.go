// internal/adapters/stage/fsstore.go
package stage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
	"strata/internal/platform/errors"
	"strata/internal/platform/logx"
)

const (
	payloadExt  = ".ndjson"
	manifestExt = ".manifest.json"
)

// FSStore is an object store on the local filesystem with the atomic
// replace semantics the staging contract needs: payloads and manifests
// are written to a temp file in the destination directory and renamed
// into place, so a crash at any point leaves either the old object or
// the new one, never a torn file. The manifest rename is the commit.
//
// Any filesystem fault surfaces as ErrStorageWrite, the retryable
// staging failure kind.
type FSStore struct {
	root   string
	logger logx.Logger
}

var _ ports.ObjectStore = (*FSStore)(nil)

// NewFSStore creates an object store rooted at dir.
func NewFSStore(dir string, logger logx.Logger) (*FSStore, error) {
	if logger == nil {
		logger = logx.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrStorageWrite, "creating staging root %s: %v", dir, err)
	}
	return &FSStore{
		root:   dir,
		logger: logger.With("component", "fs-store"),
	}, nil
}

// PutPayload atomically writes the payload for key and returns its path.
func (s *FSStore) PutPayload(ctx context.Context, key string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, filepath.FromSlash(key)+payloadExt)
	if err := writeAtomic(path, payload); err != nil {
		return "", err
	}
	s.logger.Debug("payload written", "key", key, "bytes", len(payload))
	return path, nil
}

// CommitManifest atomically publishes the manifest for key.
func (s *FSStore) CommitManifest(ctx context.Context, key string, manifest domain.StagedObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "encoding manifest %s: %v", key, err)
	}
	path := filepath.Join(s.root, filepath.FromSlash(key)+manifestExt)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	s.logger.Debug("manifest committed", "key", key)
	return nil
}

// Manifest returns the committed manifest for key, if present.
func (s *FSStore) Manifest(ctx context.Context, key string) (domain.StagedObject, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.StagedObject{}, false, err
	}
	path := filepath.Join(s.root, filepath.FromSlash(key)+manifestExt)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return domain.StagedObject{}, false, nil
	}
	if err != nil {
		return domain.StagedObject{}, false, errors.Wrapf(errors.ErrStorageWrite, "reading manifest %s: %v", key, err)
	}
	var manifest domain.StagedObject
	if err := json.Unmarshal(data, &manifest); err != nil {
		return domain.StagedObject{}, false, errors.Wrapf(errors.ErrStorageWrite, "decoding manifest %s: %v", key, err)
	}
	return manifest, true, nil
}

// Payload reads a staged payload back by location.
func (s *FSStore) Payload(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageWrite, "reading payload %s: %v", location, err)
	}
	return data, nil
}

// List returns committed manifest keys under prefix, sorted.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, manifestExt) {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, manifestExt))
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStorageWrite, "listing %s: %v", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// writeAtomic writes data to a sibling temp file and renames it over
// path. Rename within one directory is atomic on POSIX filesystems.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "creating %s: %v", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(errors.ErrStorageWrite, "writing %s: %v", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(errors.ErrStorageWrite, "replacing %s: %v", path, err)
	}
	return nil
}
