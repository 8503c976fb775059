package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"datec-go/internal/datec"
)

// FileSystemStore keeps blobs as files in a directory structure:
//
//	<root>/
//	  content/
//	    <id>         (blob bytes)
//	  meta/
//	    <id>.json    (datec.BlobMeta)
//
// Content is written before metadata, so a blob without a metadata file is
// treated as absent.
type FileSystemStore struct {
	root       string
	contentDir string
	metaDir    string
}

// NewFileSystemStore creates a store rooted at root, creating its directories.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	metaDir := filepath.Join(root, "meta")

	for _, dir := range []string{contentDir, metaDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create blob directory: %w", err)
		}
	}
	return &FileSystemStore{root: root, contentDir: contentDir, metaDir: metaDir}, nil
}

func (s *FileSystemStore) Put(ctx context.Context, id string, r io.Reader, meta datec.BlobMeta) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(s.contentDir, id), r); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	return writeFile(s.metaPath(id), strings.NewReader(string(data)))
}

func (s *FileSystemStore) Get(ctx context.Context, id string, w io.Writer) (*datec.BlobMeta, error) {
	meta, err := s.Stat(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, datec.ErrBlobNotFound
	}

	f, err := os.Open(filepath.Join(s.contentDir, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, datec.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return meta, nil
}

func (s *FileSystemStore) Stat(ctx context.Context, id string) (*datec.BlobMeta, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.metaPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob metadata: %w", err)
	}

	var meta datec.BlobMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding blob metadata: %w", err)
	}
	return &meta, nil
}

// Delete removes metadata first, so a partial delete leaves the blob absent.
func (s *FileSystemStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	for _, path := range []string{s.metaPath(id), filepath.Join(s.contentDir, id)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting blob: %w", err)
		}
	}
	return nil
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup() error {
	for _, dir := range []string{s.root, s.contentDir, s.metaDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("blob directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("blob path is not a directory: %s", dir)
		}
	}
	return nil
}

func (s *FileSystemStore) metaPath(id string) string {
	return filepath.Join(s.metaDir, id+".json")
}

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid blob id %q", id)
	}
	return nil
}

// writeFile writes r to destPath atomically (temp file + rename).
func writeFile(destPath string, r io.Reader) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ datec.BlobStore = (*FileSystemStore)(nil)
