package upload

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultIgnorePatterns are always applied to uploaded directories.
var defaultIgnorePatterns = []string{IgnoreFileName, ".DS_Store", "Thumbs.db"}

// rule is one pattern line. A leading '!' re-includes names an earlier
// rule excluded.
type rule struct {
	glob    string
	include bool
}

// IgnoreMatcher matches directory entries against glob rules. Blank lines
// and lines starting with '#' are skipped. The last matching rule wins.
type IgnoreMatcher struct {
	rules []rule
}

func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range defaultIgnorePatterns {
		m.rules = append(m.rules, rule{glob: p})
	}
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		r := rule{glob: raw}
		if rest, ok := strings.CutPrefix(raw, "!"); ok {
			r = rule{glob: rest, include: true}
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// Match reports whether name should be skipped. Malformed patterns never match.
// The ignore file itself is always skipped.
func (m *IgnoreMatcher) Match(name string) bool {
	if name == IgnoreFileName {
		return true
	}
	skip := false
	for _, r := range m.rules {
		if ok, err := filepath.Match(r.glob, name); err == nil && ok {
			skip = !r.include
		}
	}
	return skip
}

// ParseIgnoreFile reads raw patterns from path. A missing file yields none.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}
