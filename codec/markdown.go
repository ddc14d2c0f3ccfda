package codec

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Markdown decodes "markdown" payloads by rendering them to HTML. A
// payload that fails to render is rejected rather than passed through, so
// malformed documents surface at the step that introduced them.
type Markdown struct{}

func (Markdown) DataType() string { return "markdown" }

func (Markdown) Decode(payload []byte) (string, error) {
	gm := goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Strikethrough),
	)
	var buf bytes.Buffer
	if err := gm.Convert(payload, &buf); err != nil {
		return "", fmt.Errorf("codec: render markdown: %w", err)
	}
	return buf.String(), nil
}
