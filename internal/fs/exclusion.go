package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root file of extra exclusion globs.
const IgnoreFileName = ".ftignore"

// DefaultExcludedDirs are directory names never reported, wherever they appear.
func DefaultExcludedDirs() []string {
	return []string{"Library", ".config", ".local", ".cache", "Applications", "node_modules", "venv", ".npm", ".git"}
}

// DefaultExcludedTypes are file extensions never reported.
func DefaultExcludedTypes() []string {
	return []string{".log", ".tmp", ".bak"}
}

type globPattern struct {
	pattern string
	// Patterns containing '/' match the root-relative path, others the basename.
	matchPath bool
}

// ExclusionPolicy decides which paths under the watched roots are reported.
// A path is excluded if any root-relative component is hidden or in the
// excluded-dir set, if its extension is in the excluded-type set, or if it
// matches a glob from a root's .ftignore file.
type ExclusionPolicy struct {
	roots         []string
	trashDirs     []string
	excludedDirs  map[string]bool
	excludedTypes map[string]bool
	globs         []globPattern
}

// NewExclusionPolicy builds a policy. Nil dir or type lists select the defaults.
func NewExclusionPolicy(roots, trashDirs, excludedDirs, excludedTypes, globs []string) *ExclusionPolicy {
	if excludedDirs == nil {
		excludedDirs = DefaultExcludedDirs()
	}
	if excludedTypes == nil {
		excludedTypes = DefaultExcludedTypes()
	}

	p := &ExclusionPolicy{
		roots:         cleanAll(roots),
		trashDirs:     cleanAll(trashDirs),
		excludedDirs:  make(map[string]bool, len(excludedDirs)),
		excludedTypes: make(map[string]bool, len(excludedTypes)),
	}
	for _, d := range excludedDirs {
		p.excludedDirs[d] = true
	}
	for _, ext := range excludedTypes {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.excludedTypes[ext] = true
	}
	p.globs = parseGlobs(globs)
	return p
}

// LoadExclusionPolicy builds a policy and adds the globs found in each
// root's .ftignore file.
func LoadExclusionPolicy(roots, trashDirs, excludedDirs, excludedTypes []string) (*ExclusionPolicy, error) {
	var globs []string
	for _, root := range roots {
		lines, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
		if err != nil {
			return nil, err
		}
		globs = append(globs, lines...)
	}
	return NewExclusionPolicy(roots, trashDirs, excludedDirs, excludedTypes, globs), nil
}

// Roots returns the watched roots.
func (p *ExclusionPolicy) Roots() []string { return p.roots }

// TrashDirs returns the configured trash locations.
func (p *ExclusionPolicy) TrashDirs() []string { return p.trashDirs }

// Excluded reports whether absPath must not be reported. Paths outside every
// root are excluded.
func (p *ExclusionPolicy) Excluded(absPath string) bool {
	rel, ok := p.relative(absPath)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}

	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") || p.excludedDirs[part] {
			return true
		}
	}
	if p.excludedTypes[strings.ToLower(filepath.Ext(rel))] {
		return true
	}
	return p.matchGlob(rel)
}

// ExcludedDir reports whether a walk should skip the directory entirely.
func (p *ExclusionPolicy) ExcludedDir(absPath string) bool {
	rel, ok := p.relative(absPath)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	base := filepath.Base(rel)
	return strings.HasPrefix(base, ".") || p.excludedDirs[base] || p.matchGlob(rel)
}

// InTrash reports whether absPath lies in one of the trash locations.
func (p *ExclusionPolicy) InTrash(absPath string) bool {
	return underAny(filepath.Clean(absPath), p.trashDirs)
}

// relative returns absPath relative to the deepest root containing it.
func (p *ExclusionPolicy) relative(absPath string) (string, bool) {
	absPath = filepath.Clean(absPath)
	best := ""
	for _, root := range p.roots {
		if isUnder(absPath, root) && len(root) > len(best) {
			best = root
		}
	}
	if best == "" {
		return "", false
	}
	rel, err := filepath.Rel(best, absPath)
	if err != nil {
		return "", false
	}
	return rel, true
}

func (p *ExclusionPolicy) matchGlob(rel string) bool {
	slashed := filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, g := range p.globs {
		target := base
		if g.matchPath {
			target = slashed
		}
		// filepath.Match only fails on malformed patterns; those never match.
		if ok, err := filepath.Match(g.pattern, target); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads the raw lines of an ignore file.
// A missing file yields no lines and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}

// parseGlobs drops blank lines and '#' comments.
func parseGlobs(lines []string) []globPattern {
	var globs []globPattern
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		globs = append(globs, globPattern{pattern: line, matchPath: strings.Contains(line, "/")})
	}
	return globs
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if isUnder(path, d) {
			return true
		}
	}
	return false
}

func isUnder(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}
