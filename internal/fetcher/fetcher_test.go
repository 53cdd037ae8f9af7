package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

func TestExtractParagraphsFromHTML(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head><title>t</title></head><body>
<h1>Header</h1>
<p>First   paragraph
 text</p>
<p>   </p>
<div><p>Second <b>bold</b> one</p></div>
</body></html>`)

	got, err := ExtractParagraphs(body, "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, []string{"First paragraph text", "Second bold one"}, got)
}

func TestExtractParagraphsFallsBackToBody(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><body><div>Only  a div</div><script>var x = 1;</script></body></html>`)
	got, err := ExtractParagraphs(body, "text/html")
	require.NoError(t, err)
	assert.Equal(t, []string{"Only a div"}, got)
}

func TestExtractParagraphsPlainText(t *testing.T) {
	t.Parallel()

	got, err := ExtractParagraphs([]byte("hello\n\nworld  again"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello world again"}, got)

	got, err = ExtractParagraphs([]byte("no header here"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"no header here"}, got)

	got, err = ExtractParagraphs([]byte("<p>sniffed</p>"), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sniffed"}, got)
}

func TestExtractParagraphsEmptyBody(t *testing.T) {
	t.Parallel()

	got, err := ExtractParagraphs(nil, "text/html")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractParagraphsRejectsBinary(t *testing.T) {
	t.Parallel()

	_, err := ExtractParagraphs([]byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.ErrorContains(t, err, "unsupported content type")

	got, err := ExtractParagraphs([]byte("<p>x</p>"), "text/html; charset")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got)

	_, err = ExtractParagraphs([]byte("x"), "/html")
	require.Error(t, err)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Classify("u", nil))

	fe := Classify("u", fmt.Errorf("get: %w", context.DeadlineExceeded))
	assert.Equal(t, watch.FetchTimeout, fe.Kind)

	fe = Classify("u", timeoutErr{})
	assert.Equal(t, watch.FetchTimeout, fe.Kind)

	fe = Classify("u", errors.New("connection refused"))
	assert.Equal(t, watch.FetchNetwork, fe.Kind)
	assert.Equal(t, "u", fe.URL)

	existing := StatusError("u", http.StatusNotFound)
	assert.Same(t, existing, Classify("u", fmt.Errorf("wrapped: %w", existing)))
}

func TestStatusAndMalformedErrors(t *testing.T) {
	t.Parallel()

	se := StatusError("u", http.StatusServiceUnavailable)
	assert.Equal(t, watch.FetchStatus, se.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, se.Error(), "Service Unavailable")

	me := MalformedError("u", 200, errors.New("bad"))
	assert.Equal(t, watch.FetchMalformed, me.Kind)

	assert.True(t, IsSuccess(204))
	assert.False(t, IsSuccess(301))
	assert.False(t, IsSuccess(500))
}
