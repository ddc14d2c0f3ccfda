package codec

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"
	"golang.org/x/text/unicode/norm"
)

// HTMLArticle decodes "html-article" payloads by extracting the readable
// article text from raw HTML.
type HTMLArticle struct{}

func (HTMLArticle) DataType() string { return "html-article" }

func (HTMLArticle) Decode(payload []byte) (string, error) {
	base, _ := url.Parse("http://localhost/")
	article, err := readability.FromReader(bytes.NewReader(payload), base)
	if err != nil {
		return "", fmt.Errorf("codec: extract article: %w", err)
	}
	text := norm.NFC.String(strings.TrimSpace(article.TextContent))
	if text == "" {
		return "", fmt.Errorf("codec: no readable content")
	}
	return text, nil
}
