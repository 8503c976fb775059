// Package upload turns local files into payloads for the core. It enforces
// the configured size ceilings and detects MIME types.
package upload

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"datec-go/internal/config"
	"datec-go/internal/datec"
)

// IgnoreFileName is read from uploaded directories.
const IgnoreFileName = ".datecignore"

// Kind selects which ceiling applies to an upload.
type Kind int

const (
	DatasetFile Kind = iota
	HeaderImage
	Avatar
)

func (k Kind) String() string {
	switch k {
	case HeaderImage:
		return "header image"
	case Avatar:
		return "avatar"
	default:
		return "dataset file"
	}
}

// Loader reads payloads from the local filesystem.
type Loader struct {
	limits config.LimitsConfig
}

// NewLoader creates a Loader. Zero limits take the defaults.
func NewLoader(limits config.LimitsConfig) *Loader {
	return &Loader{limits: limits.WithDefaults()}
}

func (l *Loader) maxBytes(k Kind) int64 {
	switch k {
	case HeaderImage:
		return l.limits.MaxHeaderBytes
	case Avatar:
		return l.limits.MaxAvatarBytes
	default:
		return l.limits.MaxFileBytes
	}
}

func invalid(format string, args ...any) error {
	return &datec.Error{Kind: datec.KindInvalidInput, Op: "upload", Message: fmt.Sprintf(format, args...)}
}

// Load reads one regular file. Images must sniff as image/*; the extension
// is not trusted for them.
func (l *Loader) Load(path string, k Kind) (datec.FilePayload, error) {
	info, err := checkRegular(path)
	if err != nil {
		return datec.FilePayload{}, err
	}
	limit := l.maxBytes(k)
	if info.Size() > limit {
		return datec.FilePayload{}, invalid("%s %s is %d bytes, limit is %d", k, filepath.Base(path), info.Size(), limit)
	}

	f, err := os.Open(path)
	if err != nil {
		return datec.FilePayload{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	// Read one byte past the limit in case the file grew since Stat.
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return datec.FilePayload{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if int64(len(data)) > limit {
		return datec.FilePayload{}, invalid("%s %s exceeds %d bytes", k, filepath.Base(path), limit)
	}

	p := datec.FilePayload{Filename: filepath.Base(path), Data: data}
	if k == DatasetFile {
		p.MimeType = DetectMIME(p.Filename, data)
		return p, nil
	}

	p.MimeType = sniff(data)
	if !strings.HasPrefix(p.MimeType, "image/") {
		return datec.FilePayload{}, invalid("%s %s is %s, not an image", k, p.Filename, p.MimeType)
	}
	return p, nil
}

// LoadFiles loads dataset files. Directories are expanded one level deep,
// skipping entries matched by their ignore file. At least one file and at
// most the configured maximum are accepted.
func (l *Loader) LoadFiles(paths []string) ([]datec.FilePayload, error) {
	var files []string
	for _, p := range paths {
		expanded, err := expand(p)
		if err != nil {
			return nil, err
		}
		files = append(files, expanded...)
	}

	if len(files) == 0 {
		return nil, invalid("no files to upload")
	}
	if len(files) > l.limits.MaxFiles {
		return nil, invalid("%d files given, at most %d are allowed", len(files), l.limits.MaxFiles)
	}

	payloads := make([]datec.FilePayload, 0, len(files))
	for _, f := range files {
		p, err := l.Load(f, DatasetFile)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	patterns, err := ParseIgnoreFile(filepath.Join(path, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	ignore := NewIgnoreMatcher(patterns)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || ignore.Match(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// checkRegular rejects anything other than a regular file.
func checkRegular(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return nil, invalid("symlinks not supported: %s", path)
	case mode.IsDir():
		return nil, invalid("%s is a directory", path)
	case !mode.IsRegular():
		return nil, invalid("not a regular file: %s", path)
	}
	return info, nil
}

// DetectMIME prefers the extension's registered type and falls back to
// content sniffing.
func DetectMIME(filename string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return sniff(data)
}

func sniff(data []byte) string {
	return http.DetectContentType(data[:min(len(data), 512)])
}
