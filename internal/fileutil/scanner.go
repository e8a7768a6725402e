package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// PlanExtensions are the file extensions the plan parsers understand.
var PlanExtensions = []string{".md", ".markdown", ".yaml", ".yml", ".json"}

// DefaultExcludeDirs are skipped in addition to hidden directories.
var DefaultExcludeDirs = []string{"node_modules", "vendor", "testdata"}

// ScanOptions configures a directory scan.
type ScanOptions struct {
	// Pattern is a regex matched against file names without extension
	Pattern string
	// Extensions to include; empty means PlanExtensions
	Extensions []string
	// Recursive enters subdirectories
	Recursive bool
	// ExcludeDirs lists directory names to skip; nil means DefaultExcludeDirs
	ExcludeDirs []string
	// MaxDepth limits recursion depth (0 = unlimited, 1 = top level only)
	MaxDepth int
}

// ScanResult contains the results of a directory scan.
type ScanResult struct {
	// Files holds the absolute paths of matched files, sorted
	Files []string
	// Errors holds the non-fatal errors met during the walk
	Errors []error
}

// ScanDirectory walks dir and collects the plan files matching opts.
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	var pattern *regexp.Regexp
	if opts.Pattern != "" {
		pattern, err = regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
	}

	exts := opts.Extensions
	if len(exts) == 0 {
		exts = PlanExtensions
	}
	extSet := make(map[string]bool, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[strings.ToLower(ext)] = true
	}

	excluded := opts.ExcludeDirs
	if excluded == nil {
		excluded = DefaultExcludeDirs
	}
	excludeSet := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		excludeSet[name] = true
	}

	result := &ScanResult{}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
			return nil
		}
		if path == dir {
			return nil
		}

		if d.IsDir() {
			if excludeSet[d.Name()] || strings.HasPrefix(d.Name(), ".") || !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 {
				rel, _ := filepath.Rel(dir, path)
				if strings.Count(rel, string(filepath.Separator))+1 >= opts.MaxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}

		name := d.Name()
		ext := filepath.Ext(name)
		if !extSet[strings.ToLower(ext)] {
			return nil
		}
		if pattern != nil && !pattern.MatchString(strings.TrimSuffix(name, ext)) {
			return nil
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to resolve path %s: %w", path, err))
			return nil
		}
		result.Files = append(result.Files, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(result.Files)
	return result, nil
}

// ExpandPlanPaths replaces each directory in paths with the plan files it
// contains. Other paths are kept in place even when they do not exist, so
// the parser reports them. Duplicates are dropped. Scan errors are
// collected and returned alongside the expanded list.
func ExpandPlanPaths(paths []string, opts ScanOptions) ([]string, []error) {
	var out []string
	var errs []error
	seen := make(map[string]bool)

	add := func(p string) {
		key := p
		if abs, err := filepath.Abs(p); err == nil {
			key = abs
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			add(p)
			continue
		}
		result, err := ScanDirectory(p, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		errs = append(errs, result.Errors...)
		if len(result.Files) == 0 {
			errs = append(errs, fmt.Errorf("%s: no plan files found", p))
		}
		for _, f := range result.Files {
			add(f)
		}
	}
	return out, errs
}
