package textextract

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

func TestFormatFromMIME(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"text/plain", FormatPlainText, true},
		{"text/plain; charset=utf-8", FormatPlainText, true},
		{"TEXT/PLAIN", FormatPlainText, true},
		{"application/pdf", FormatPDF, true},
		{mimeDOCX, FormatDOCX, true},
		{"application/msword", 0, false},
		{"image/png", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := FormatFromMIME(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		if c.ok {
			assert.Equal(t, c.want, got, c.in)
		}
	}
}

func TestExtractPlainText(t *testing.T) {
	t.Parallel()
	text, err := New().Extract(t.Context(), []byte("  hello\x00 world \n"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestExtractUnsupportedFormat(t *testing.T) {
	t.Parallel()
	_, err := New().Extract(t.Context(), []byte("GIF89a"), "image/gif")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func buildDOCX(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	t.Parallel()
	docx := buildDOCX(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Chapter One</w:t></w:r></w:p>
    <w:p><w:r><w:t>Introduction text.</w:t></w:r></w:p>
  </w:body>
</w:document>`)
	text, err := New().Extract(t.Context(), docx, mimeDOCX)
	require.NoError(t, err)
	assert.Contains(t, text, "Chapter One")
	assert.Contains(t, text, "Introduction text.")
}

func TestExtractDOCXMissingDocumentPart(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = New().Extract(t.Context(), buf.Bytes(), mimeDOCX)
	assert.Error(t, err)
}

func TestExtractDOCXNotAZip(t *testing.T) {
	t.Parallel()
	_, err := New().Extract(t.Context(), []byte("this is not a zip archive"), mimeDOCX)
	assert.Error(t, err)
}

// A corrupt PDF must come back as an error, never a panic. The upstream
// parser panics on malformed xref tables; the adapter converts that.
func TestExtractCorruptPDF(t *testing.T) {
	t.Parallel()
	_, err := New().Extract(t.Context(), []byte("%PDF-1.7 garbage without xref"), "application/pdf")
	assert.Error(t, err)
}
