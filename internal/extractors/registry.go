// Package extractors selects a format extractor by file extension.
package extractors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/extractors/docx"
	"github.com/custodia-labs/kbase/internal/extractors/html"
	"github.com/custodia-labs/kbase/internal/extractors/markdown"
	"github.com/custodia-labs/kbase/internal/extractors/pdf"
	"github.com/custodia-labs/kbase/internal/extractors/plaintext"
)

// Verify interface compliance.
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry maps lower-case extensions to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]driven.Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]driven.Extractor)}
}

// Default returns a registry with every built-in extractor.
func Default() *Registry {
	r := NewRegistry()
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(html.New())
	r.Register(docx.New())
	r.Register(pdf.New())
	return r
}

// Register adds e for each of its extensions, replacing earlier entries.
func (r *Registry) Register(e driven.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range e.Extensions() {
		r.extractors[strings.ToLower(ext)] = e
	}
}

// For returns the extractor registered for path's extension.
func (r *Registry) For(path string) (driven.Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))

	r.mu.RLock()
	e, ok := r.extractors[ext]
	r.mu.RUnlock()

	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return nil, &domain.ExtractionError{
			Path: path,
			Err:  fmt.Errorf("%w: extension %s", domain.ErrUnsupportedType, ext),
		}
	}
	return e, nil
}

// Supported reports whether path has a registered extension.
func (r *Registry) Supported(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
