// Package redact scrubs bearer credentials from log output. The store and
// intake path register every access/refresh token they touch, so tokens can
// appear in webhook payloads (the documented notification contract) but
// never in console logs.
package redact

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const placeholder = "[TOKEN_REDACTED]"

// Masker wraps an io.Writer and replaces registered token values with a
// placeholder. Matching uses Aho-Corasick so a sweep over thousands of
// stored tokens stays a single pass per log line. Each Write is masked
// independently: the log layer emits whole lines per call, so no
// cross-write buffering is needed.
type Masker struct {
	mu      sync.RWMutex
	out     io.Writer
	tokens  map[string]struct{}
	matcher *aho.AhoCorasick
}

// NewMasker creates a Masker over out with an initial token set.
func NewMasker(out io.Writer, tokens ...string) *Masker {
	m := &Masker{
		out:    out,
		tokens: make(map[string]struct{}),
	}
	m.Add(tokens...)
	return m
}

// Add registers token values for masking. Empty strings are ignored.
// Safe for concurrent use with Write.
func (m *Masker) Add(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := m.tokens[t]; !ok {
			m.tokens[t] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return
	}

	patterns := make([]string, 0, len(m.tokens))
	for t := range m.tokens {
		patterns = append(patterns, t)
	}
	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	matcher := builder.Build(patterns)
	m.matcher = &matcher
}

// Write implements io.Writer.
func (m *Masker) Write(p []byte) (int, error) {
	m.mu.RLock()
	matcher := m.matcher
	m.mu.RUnlock()

	if matcher == nil {
		return m.out.Write(p)
	}

	s := string(p)
	matches := matcher.FindAll(s)
	if len(matches) == 0 {
		return m.out.Write(p)
	}

	var result []byte
	pos := 0
	for _, match := range matches {
		if match.Start() < pos {
			continue // overlapping match
		}
		result = append(result, s[pos:match.Start()]...)
		result = append(result, placeholder...)
		pos = match.End()
	}
	result = append(result, s[pos:]...)

	if _, err := m.out.Write(result); err != nil {
		return 0, err
	}
	return len(p), nil
}
