package extractors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/extractors/docx"
	"github.com/custodia-labs/kbase/internal/extractors/markdown"
	"github.com/custodia-labs/kbase/internal/extractors/pdf"
	"github.com/custodia-labs/kbase/internal/extractors/plaintext"
)

type stubExtractor struct{ exts []string }

func (s stubExtractor) Extensions() []string { return s.exts }

func (s stubExtractor) Extract(context.Context, string) ([]domain.Segment, error) {
	return []domain.Segment{{Text: "stub\n", PageNumber: 1}}, nil
}

func TestDefault_Selection(t *testing.T) {
	r := Default()

	tests := []struct {
		path string
		want any
	}{
		{"notes.txt", &plaintext.Extractor{}},
		{"README.MD", &markdown.Extractor{}},
		{"/tmp/Report.Docx", &docx.Extractor{}},
		{"paper.pdf", &pdf.Extractor{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, err := r.For(tt.path)
			require.NoError(t, err)
			assert.IsType(t, tt.want, e)
			assert.True(t, r.Supported(tt.path))
		})
	}
}

func TestFor_Unsupported(t *testing.T) {
	r := Default()

	for _, path := range []string{"image.png", "Makefile"} {
		t.Run(path, func(t *testing.T) {
			_, err := r.For(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUnsupportedType)

			var extErr *domain.ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, path, extErr.Path)
			assert.False(t, r.Supported(path))
		})
	}
}

func TestRegister_Replaces(t *testing.T) {
	r := Default()
	r.Register(stubExtractor{exts: []string{".TXT"}})

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("real content"), 0o600))

	e, err := r.For(path)
	require.NoError(t, err)
	segments, err := e.Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "stub\n", segments[0].Text)
}

func TestExtensions(t *testing.T) {
	exts := Default().Extensions()
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".docx")
	assert.IsIncreasing(t, exts)

	assert.Empty(t, NewRegistry().Extensions())
}
