// Package template renders message definitions into ready-to-send email and
// SMS content. The pipeline composes macro expansion, Mustache rendering
// (with partials), Markdown and Sass context transforms, and link
// shortening. Rendering is side-effect-free apart from short-link token
// generation, which is injectable for deterministic tests.
package template

import (
	"fmt"
	"log"
	"strings"

	"github.com/cbroglie/mustache"
)

// MessageDef is the input to a render: the templates, partials, macros and
// per-recipient context merged by the caller.
type MessageDef struct {
	FirstName        string
	LastName         string
	MainTemplate     string
	SubjectTemplate  string
	MustachePartials map[string]string
	Macros           map[string]string
	Context          map[string]any
	Headers          map[string]string
}

// Options controls link shortening and token generation.
type Options struct {
	// ClickBaseURL is the public base for shortened links. Empty disables
	// link shortening.
	ClickBaseURL string
	// TokenLen is the length of generated link tokens (12 for SMS, 30 for
	// email). Zero means DefaultTokenLen.
	TokenLen int
	// AppendOriginal appends ?u=<base64url(original)> to shortened links so
	// clicks survive a lost Link row. Used for email.
	AppendOriginal bool
	// TokenSource generates a URL-safe random token of the given length.
	// Nil uses a crypto/rand source.
	TokenSource func(n int) string
}

// DefaultTokenLen is the token length used when Options.TokenLen is zero.
const DefaultTokenLen = 30

// ShortLink pairs an original URL with the token that replaced it.
type ShortLink struct {
	URL   string
	Token string
}

// Rendered is the output of a render.
type Rendered struct {
	FullName       string
	Subject        string
	HTMLBody       string
	Headers        map[string]string
	ShortenedLinks []ShortLink
}

// RenderError wraps a Mustache failure on the main template. Render failures
// are terminal for the message (status render_failed).
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Render runs the full pipeline over def.
func Render(def MessageDef, opts Options) (*Rendered, error) {
	ctx := cloneContext(def.Context)
	headers := cloneHeaders(def.Headers)

	// 1. Recipient name defaults.
	fullName := strings.TrimSpace(strings.TrimSpace(def.FirstName) + " " + strings.TrimSpace(def.LastName))
	setDefault(ctx, "recipient_name", fullName)
	setDefault(ctx, "recipient_first_name", def.FirstName)
	setDefault(ctx, "recipient_last_name", def.LastName)

	// 2. Subject. A broken subject template passes through verbatim.
	subject, err := mustache.Render(def.SubjectTemplate, ctx)
	if err != nil {
		log.Printf("[template] subject render error, passing template through: %v", err)
		subject = def.SubjectTemplate
	}

	// 3. Link shortening over top-level context values.
	links := shortenLinks(ctx, opts)

	// 4. Context transforms: __md, __sass, __render suffixes.
	if err := applyTransforms(ctx, def.Macros); err != nil {
		return nil, err
	}

	// 5. List-Unsubscribe header from context.
	if unsub, ok := ctx["unsubscribe_link"].(string); ok && unsub != "" {
		if _, present := headers["List-Unsubscribe"]; !present {
			headers["List-Unsubscribe"] = "<" + unsub + ">"
		}
	}

	// 6. Main body: macros first, then Mustache with partials.
	main := ExpandMacros(def.MainTemplate, def.Macros)
	body, err := mustache.RenderPartials(main, &mustache.StaticProvider{Partials: def.MustachePartials}, ctx)
	if err != nil {
		return nil, &RenderError{Stage: "body", Err: err}
	}

	return &Rendered{
		FullName:       fullName,
		Subject:        subject,
		HTMLBody:       body,
		Headers:        headers,
		ShortenedLinks: links,
	}, nil
}

// RenderPlain renders a bare Mustache template against ctx, without the
// email pipeline. Used for SMS bodies.
func RenderPlain(tmpl string, ctx map[string]any) (string, error) {
	out, err := mustache.Render(tmpl, ctx)
	if err != nil {
		return "", &RenderError{Stage: "body", Err: err}
	}
	return out, nil
}

func setDefault(ctx map[string]any, key, value string) {
	if _, ok := ctx[key]; !ok {
		ctx[key] = value
	}
}

func cloneContext(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneHeaders(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
