// Package content – source material loading and paragraph extraction.
//
// The generation pipeline treats content extraction as an external
// collaborator behind the Provider interface. The bundled FileProvider
// serves Markdown from a per-scope directory, which is enough for
// single-process deployments and tests; richer extractors (documents,
// activities) plug in behind the same interface.
package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// ErrNoContent is returned when a scope has no source material.
var ErrNoContent = errors.New("content: no source material for scope")

// Provider loads the full source content for a scope.
type Provider interface {
	// Content returns the complete course material for scopeID.
	Content(ctx context.Context, scopeID string) (string, error)
}

// FileProvider reads "<Dir>/<scopeID>.md". It is safe for concurrent use.
type FileProvider struct {
	// Dir is the directory holding one Markdown file per scope.
	Dir string
}

// Content implements Provider.
func (p *FileProvider) Content(_ context.Context, scopeID string) (string, error) {
	// Scope IDs come from URLs; keep them from escaping the content dir.
	clean := filepath.Base(scopeID)
	b, err := os.ReadFile(filepath.Join(p.Dir, clean+".md"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoContent
		}
		return "", err
	}
	if len(b) == 0 {
		return "", ErrNoContent
	}
	return string(b), nil
}

// Store memoizes provider results per request so the expensive extraction
// runs exactly once per generation run. It is an explicit cache object
// passed through the call chain (scoped to one Request's processing
// lifetime, not process-wide state) and is safe for concurrent use.
type Store struct {
	provider Provider

	mu      sync.Mutex
	byScope map[string]string
}

// NewStore wraps a Provider with per-request memoization.
func NewStore(p Provider) *Store {
	return &Store{provider: p, byScope: make(map[string]string)}
}

// Content returns the memoized material for scopeID, fetching it on first
// use.
func (s *Store) Content(ctx context.Context, scopeID string) (string, error) {
	s.mu.Lock()
	if c, ok := s.byScope[scopeID]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	c, err := s.provider.Content(ctx, scopeID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.byScope[scopeID] = c
	s.mu.Unlock()
	return c, nil
}

// minParagraphRunes filters boilerplate fragments out of extracted
// paragraphs.
const minParagraphRunes = 40

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits Markdown text into trimmed paragraphs on blank lines,
// dropping headings-only fragments shorter than minParagraphRunes.
func Paragraphs(text string) []string {
	chunks := paraSplitRE.Split(text, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		t := strings.TrimSpace(normalizeWhitespace(c))
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) < minParagraphRunes {
			continue
		}
		out = append(out, t)
	}
	return out
}

// normalizeWhitespace collapses runs of spaces/tabs while preserving line
// breaks, so paragraph boundaries survive.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
