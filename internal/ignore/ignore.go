// Package ignore matches repository paths against gitignore-style exclusion
// patterns. Sync uses it to keep tracked files out of an index: patterns come
// from the sync.exclude setting and a .sagittaignore file at the root of the
// working tree.
//
// Supported syntax follows https://git-scm.com/docs/gitignore: comments,
// negation with !, directory patterns with a trailing /, anchoring with a
// leading or inner /, and the *, ?, [...] and ** wildcards. Paths are always
// files relative to the repository root, so a directory pattern matches every
// file below the directory.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileName is the per-repository exclusion file.
const FileName = ".sagittaignore"

// Matcher is an ordered list of rules; the last matching rule wins. It is
// immutable after construction and safe for concurrent use.
type Matcher struct {
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// New compiles patterns. Blank lines and comments are skipped.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if r, ok := parse(p); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// Load compiles extra followed by the patterns of root/.sagittaignore, so the
// file can negate configured patterns. A missing file is not an error.
func Load(root string, extra []string) (*Matcher, error) {
	m := New(extra...)
	f, err := os.Open(filepath.Join(root, FileName))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", FileName, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if r, ok := parse(sc.Text()); ok {
			m.rules = append(m.rules, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}
	return m, nil
}

// Empty reports whether the matcher has no rules.
func (m *Matcher) Empty() bool { return m == nil || len(m.rules) == 0 }

// Match reports whether the file at relPath is excluded.
func (m *Matcher) Match(relPath string) bool {
	if m.Empty() {
		return false
	}
	relPath = strings.TrimPrefix(filepath.ToSlash(relPath), "/")
	parts := strings.Split(relPath, "/")

	excluded := false
	for _, r := range m.rules {
		if r.matches(relPath, parts) {
			excluded = !r.negate
		}
	}
	return excluded
}

func (r rule) matches(path string, parts []string) bool {
	dirs := parts[:len(parts)-1]
	if r.anchored {
		if !r.dirOnly && r.re.MatchString(path) {
			return true
		}
		for i := range dirs {
			if r.re.MatchString(strings.Join(parts[:i+1], "/")) {
				return true
			}
		}
		return false
	}

	if r.dirOnly {
		for _, d := range dirs {
			if r.re.MatchString(d) {
				return true
			}
		}
		return false
	}
	for _, p := range parts {
		if r.re.MatchString(p) {
			return true
		}
	}
	return r.re.MatchString(path)
}

func parse(line string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = p[1:]
	} else if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		r.anchored = true
	}
	if p == "" {
		return rule{}, false
	}
	r.re = regexp.MustCompile("^" + toRegex(p) + "$")
	return r, true
}

// toRegex translates glob syntax; / is never matched by * or ?.
func toRegex(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				if i+2 < len(p) && p[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				if i == 0 || p[i-1] == '/' {
					b.WriteString(".*")
					i++
					continue
				}
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(p[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := p[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(p) {
				i++
				b.WriteString(regexp.QuoteMeta(string(p[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
