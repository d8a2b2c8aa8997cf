package template

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqTokens returns a deterministic token source for tests.
func seqTokens() func(n int) string {
	i := 0
	return func(n int) string {
		i++
		return fmt.Sprintf("tok%02d%s", i, strings.Repeat("x", n))[:n]
	}
}

func TestRender_NameAndDefaults(t *testing.T) {
	out, err := Render(MessageDef{
		FirstName:       "Jane",
		LastName:        "Doe",
		MainTemplate:    "Hi {{ recipient_name }} ({{ recipient_first_name }})",
		SubjectTemplate: "hello {{ recipient_last_name }}",
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe", out.FullName)
	assert.Equal(t, "hello Doe", out.Subject)
	assert.Equal(t, "Hi Jane Doe (Jane)", out.HTMLBody)
}

func TestRender_NameDefaultDoesNotOverride(t *testing.T) {
	out, err := Render(MessageDef{
		FirstName:    "Jane",
		MainTemplate: "{{ recipient_name }}",
		Context:      map[string]any{"recipient_name": "override"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "override", out.HTMLBody)
}

func TestRender_BadSubjectPassesThrough(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate:    "body",
		SubjectTemplate: "{{broken",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "{{broken", out.Subject)
}

func TestRender_BadBodyFails(t *testing.T) {
	_, err := Render(MessageDef{MainTemplate: "{{#open"}, Options{})
	require.Error(t, err)
	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
}

func TestRender_MarkdownTransform(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "{{{ message }}}",
		Context:      map[string]any{"message__md": "# hi"},
	}, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, "<h1>hi</h1>")
}

func TestRender_MarkdownHardWrap(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "{{{ message }}}",
		Context:      map[string]any{"message__md": "line one\nline two"},
	}, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, "<br")
}

func TestRender_RenderTransform(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "{{{ message }}}",
		Context: map[string]any{
			"message__render": "# hi {{ name }}",
			"name":            "Sam",
		},
	}, Options{})
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, "<h1>hi Sam</h1>")
}

func TestRender_Partials(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate:     "before {{> footer }} after",
		MustachePartials: map[string]string{"footer": "FOOT {{ recipient_name }}"},
		FirstName:        "Ann",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "before FOOT Ann after", out.HTMLBody)
}

func TestRender_UnsubscribeHeader(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "x",
		Context:      map[string]any{"unsubscribe_link": "https://ex.com/u/1"},
	}, Options{ClickBaseURL: "https://click.ex.com", TokenSource: seqTokens(), TokenLen: 12})
	require.NoError(t, err)

	assert.Equal(t, "<https://ex.com/u/1>", out.Headers["List-Unsubscribe"])
	// unsubscribe_link is never shortened
	assert.Empty(t, out.ShortenedLinks)
}

func TestRender_UnsubscribeHeaderNotOverwritten(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "x",
		Context:      map[string]any{"unsubscribe_link": "https://ex.com/u/1"},
		Headers:      map[string]string{"List-Unsubscribe": "<mailto:u@ex.com>"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "<mailto:u@ex.com>", out.Headers["List-Unsubscribe"])
}

func TestRender_ShortensLinks(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "{{ cta }}",
		Context:      map[string]any{"cta": "https://example.com/offer"},
	}, Options{ClickBaseURL: "https://click.ex.com", TokenLen: 12, TokenSource: seqTokens()})
	require.NoError(t, err)

	require.Len(t, out.ShortenedLinks, 1)
	link := out.ShortenedLinks[0]
	assert.Equal(t, "https://example.com/offer", link.URL)
	assert.Len(t, link.Token, 12)
	assert.Equal(t, "https://click.ex.com/l"+link.Token, out.HTMLBody)
}

func TestRender_ShortensLinksWithOriginal(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "{{ cta }}",
		Context:      map[string]any{"cta": "https://example.com/offer"},
	}, Options{ClickBaseURL: "https://click.ex.com", TokenLen: 30, AppendOriginal: true, TokenSource: seqTokens()})
	require.NoError(t, err)
	assert.Contains(t, out.HTMLBody, "?u=aHR0cHM6Ly9leGFtcGxlLmNvbS9vZmZlcg==")
}

func TestRender_SkipsImagesAndMaps(t *testing.T) {
	out, err := Render(MessageDef{
		MainTemplate: "x",
		Context: map[string]any{
			"logo": "https://example.com/logo.png",
			"map":  "https://maps.google.com/?q=somewhere",
			"page": "not a url",
		},
	}, Options{ClickBaseURL: "https://click.ex.com", TokenSource: seqTokens()})
	require.NoError(t, err)
	assert.Empty(t, out.ShortenedLinks)
}

func TestRender_Deterministic(t *testing.T) {
	def := MessageDef{
		FirstName:       "A",
		LastName:        "B",
		MainTemplate:    "{{ cta }} {{{ msg }}}",
		SubjectTemplate: "s {{ recipient_name }}",
		Context: map[string]any{
			"cta":     "https://example.com/x",
			"msg__md": "**bold**",
		},
	}
	opts := func() Options {
		return Options{ClickBaseURL: "https://c.ex.com", TokenLen: 12, TokenSource: seqTokens()}
	}

	first, err := Render(def, opts())
	require.NoError(t, err)
	second, err := Render(def, opts())
	require.NoError(t, err)

	assert.Equal(t, first.HTMLBody, second.HTMLBody)
	assert.Equal(t, first.Subject, second.Subject)
	assert.Equal(t, first.Headers, second.Headers)
	// The input context is never mutated.
	assert.Equal(t, "https://example.com/x", def.Context["cta"])
	assert.Contains(t, def.Context, "msg__md")
}

func TestRenderPlain(t *testing.T) {
	out, err := RenderPlain("Hi {{ name }}", map[string]any{"name": "Bo"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Bo", out)

	_, err = RenderPlain("{{#bad", nil)
	require.Error(t, err)
}
