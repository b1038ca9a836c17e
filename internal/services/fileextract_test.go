package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Text(t *testing.T) {
	s := NewFileExtractService()

	text, err := s.Extract("notes.TXT", []byte("\ufeffLine  one\r\n\r\n\r\n\r\n  Line\ttwo \x00\n"))
	require.NoError(t, err)
	assert.Equal(t, "Line one\n\nLine two", text)
}

func TestExtract_TextInvalidUTF8(t *testing.T) {
	text, err := NewFileExtractService().Extract("a.txt", []byte("ok\xffthere"))
	require.NoError(t, err)
	assert.Equal(t, "ok there", text)
}

func TestExtract_EmptyText(t *testing.T) {
	_, err := NewFileExtractService().Extract("blank.txt", []byte(" \n\t\n"))
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestExtract_BadPDF(t *testing.T) {
	s := NewFileExtractService()

	_, err := s.Extract("slides.pdf", []byte("this is not a pdf"))
	assert.ErrorIs(t, err, ErrPDFParse)

	_, err = s.Extract("broken.pdf", []byte("%PDF-1.4\n garbage with no xref"))
	assert.ErrorIs(t, err, ErrPDFParse)
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := NewFileExtractService().Extract("essay.docx", []byte("PK"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestNormalizeExtractedText_NFKC(t *testing.T) {
	// Ligature and full-width digits fold to their plain forms.
	assert.Equal(t, "file 12", normalizeExtractedText("ﬁle １２"))
}
