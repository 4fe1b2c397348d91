package config

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ResolvedFiles contains the expanded file lists handed to the simulator
type ResolvedFiles struct {
	Sources []string
	Libs    []string
	IncDirs []string
}

// verilogExts are the extensions kept when a pattern is a glob
var verilogExts = map[string]bool{
	".v":   true,
	".sv":  true,
	".vh":  true,
	".svh": true,
}

// ResolveFiles makes source, library and include entries absolute against
// rootPath and expands glob patterns. Plain paths are kept even when they do
// not exist so the simulator reports them.
func (c *Config) ResolveFiles(rootPath string) (ResolvedFiles, error) {
	var out ResolvedFiles
	var err error
	if out.Sources, err = resolveList(c.Sources(), rootPath, true); err != nil {
		return out, err
	}
	if out.Libs, err = resolveList(c.ExtLibs, rootPath, true); err != nil {
		return out, err
	}
	if out.IncDirs, err = resolveList(c.IncDirs, rootPath, false); err != nil {
		return out, err
	}
	return out, nil
}

func resolveList(entries []string, rootPath string, filesOnly bool) ([]string, error) {
	var result []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}

	for _, entry := range entries {
		pattern := entry
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(rootPath, pattern)
		}
		if !isGlob(pattern) {
			add(pattern)
			continue
		}

		matches, err := expandGlob(pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, match := range matches {
			if filesOnly && !verilogExts[strings.ToLower(filepath.Ext(match))] {
				continue
			}
			add(match)
		}
	}
	return result, nil
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if strings.Contains(pattern, "**") {
		return expandDoubleStarGlob(pattern)
	}
	return filepath.Glob(pattern)
}

// expandDoubleStarGlob handles ** patterns by walking the directory tree
func expandDoubleStarGlob(pattern string) ([]string, error) {
	var results []string

	parts := strings.SplitN(pattern, "**", 2)
	baseDir := filepath.Clean(parts[0])
	if baseDir == "" {
		baseDir = "."
	}
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() {
			return nil
		}
		if suffix == "" {
			results = append(results, path)
			return nil
		}
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if matchSuffix(relPath, suffix) {
			results = append(results, path)
		}
		return nil
	})

	return results, err
}

// matchSuffix checks if a path matches a suffix pattern (after **)
func matchSuffix(path, pattern string) bool {
	// no directory component: match the file name
	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}

	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}

	segments := strings.Count(pattern, string(filepath.Separator)) + 1
	parts := strings.Split(path, string(filepath.Separator))
	if len(parts) < segments {
		return false
	}
	tail := filepath.Join(parts[len(parts)-segments:]...)
	matched, _ := filepath.Match(pattern, tail)
	return matched
}
