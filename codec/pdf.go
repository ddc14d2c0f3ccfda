package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// PDFText decodes "pdf-text" payloads by extracting the document's plain
// text.
type PDFText struct{}

func (PDFText) DataType() string { return "pdf-text" }

func (PDFText) Decode(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("codec: empty PDF payload")
	}
	r, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", fmt.Errorf("codec: open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("codec: extract text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("codec: read text: %w", err)
	}
	// PDF text extraction frequently yields decomposed code points;
	// normalize so downstream exact comparisons behave.
	return norm.NFC.String(strings.TrimSpace(string(text))), nil
}
