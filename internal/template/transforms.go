package template

import (
	"strings"

	"github.com/bep/golibsass/libsass"
	"github.com/cbroglie/mustache"
	"github.com/russross/blackfriday/v2"
)

// Context key suffixes that trigger a transform. The suffix is stripped from
// the key and the value replaced by the transform output.
const (
	suffixMarkdown = "__md"
	suffixSass     = "__sass"
	suffixRender   = "__render"
)

// applyTransforms rewrites suffixed context keys in place. __render values
// go through macro expansion and Mustache against the whole context before
// the Markdown pass, so rendered snippets can reference other context keys.
func applyTransforms(ctx map[string]any, macros map[string]string) error {
	for key, value := range ctx {
		str, ok := value.(string)
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(key, suffixRender):
			expanded := ExpandMacros(str, macros)
			rendered, err := mustache.Render(expanded, ctx)
			if err != nil {
				return &RenderError{Stage: "context key " + key, Err: err}
			}
			delete(ctx, key)
			ctx[strings.TrimSuffix(key, suffixRender)] = markdownToHTML(rendered)
		case strings.HasSuffix(key, suffixMarkdown):
			delete(ctx, key)
			ctx[strings.TrimSuffix(key, suffixMarkdown)] = markdownToHTML(str)
		case strings.HasSuffix(key, suffixSass):
			css, err := compileSass(str)
			if err != nil {
				return &RenderError{Stage: "context key " + key, Err: err}
			}
			delete(ctx, key)
			ctx[strings.TrimSuffix(key, suffixSass)] = css
		}
	}
	return nil
}

// markdownToHTML converts Markdown with hard line breaks on and intra-word
// emphasis off.
func markdownToHTML(src string) string {
	out := blackfriday.Run([]byte(src),
		blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.HardLineBreak))
	return strings.TrimSpace(string(out))
}

// compileSass compiles SCSS to compressed CSS with numeric precision 10.
func compileSass(src string) (string, error) {
	transpiler, err := libsass.New(libsass.Options{
		OutputStyle: libsass.CompressedStyle,
		Precision:   10,
	})
	if err != nil {
		return "", err
	}
	result, err := transpiler.Execute(src)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.CSS), nil
}
