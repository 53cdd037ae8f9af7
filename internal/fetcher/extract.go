// Package fetcher holds the pieces shared by every ContentFetcher
// implementation: paragraph extraction from HTML and classification of
// transport failures into watch.FetchError values.
package fetcher

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractParagraphs converts a response body into ordered paragraph text.
// HTML documents yield one entry per non-empty <p>; when none exist the body
// text is returned as a single paragraph. Plain-text bodies are one paragraph.
func ExtractParagraphs(body []byte, contentType string) ([]string, error) {
	kind, err := bodyKind(body, contentType)
	if err != nil {
		return nil, err
	}
	if kind == kindText {
		return single(collapse(string(body))), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) > 0 {
		return paragraphs, nil
	}

	doc.Find("script, style, noscript, template").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return single(collapse(root.Text())), nil
}

type contentKind int

const (
	kindHTML contentKind = iota
	kindText
)

// bodyKind decides how to read a body from its declared media type, falling
// back to sniffing when the header is absent.
func bodyKind(body []byte, contentType string) (contentKind, error) {
	if strings.TrimSpace(contentType) == "" {
		if looksLikeHTML(body) {
			return kindHTML, nil
		}
		return kindText, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil && !errors.Is(err, mime.ErrInvalidMediaParameter) {
		return kindHTML, fmt.Errorf("content type %q: %w", contentType, err)
	}
	switch {
	case mediaType == "text/html", mediaType == "application/xhtml+xml":
		return kindHTML, nil
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		strings.HasSuffix(mediaType, "+xml"),
		mediaType == "application/xml":
		return kindText, nil
	default:
		return kindHTML, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<html")) ||
		bytes.Contains(lower, []byte("<!doctype html")) ||
		bytes.Contains(lower, []byte("<p")) ||
		bytes.Contains(lower, []byte("<body"))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func single(text string) []string {
	if text == "" {
		return nil
	}
	return []string{text}
}
