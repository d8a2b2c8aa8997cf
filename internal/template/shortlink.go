package template

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
)

var httpURLRe = regexp.MustCompile(`^https?://`)

// Image links and map links stay long: shortening them breaks inline
// rendering and map previews.
var skipExtensions = []string{".png", ".jpg", ".bmp"}

func skipURL(raw string) bool {
	lower := strings.ToLower(raw)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return strings.HasPrefix(host, "maps.") || strings.Contains(host, "maps.google")
}

// ShortenLinks applies link shortening to a context outside the email
// pipeline. The SMS path uses it before its plain Mustache render.
func ShortenLinks(ctx map[string]any, opts Options) []ShortLink {
	return shortenLinks(ctx, opts)
}

// shortenLinks walks the top-level context and replaces every http(s) string
// value (except unsubscribe_link and skip-listed URLs) with a shortened
// click URL, returning the (original, token) pairs for Link rows. Short URLs
// are <base>/l<token>, matching the redirect route; the Link row stores the
// bare token.
func shortenLinks(ctx map[string]any, opts Options) []ShortLink {
	if opts.ClickBaseURL == "" {
		return nil
	}
	tokenLen := opts.TokenLen
	if tokenLen == 0 {
		tokenLen = DefaultTokenLen
	}
	gen := opts.TokenSource
	if gen == nil {
		gen = randomToken
	}

	base := strings.TrimSuffix(opts.ClickBaseURL, "/") + "/l"

	var links []ShortLink
	for key, value := range ctx {
		if key == "unsubscribe_link" {
			continue
		}
		str, ok := value.(string)
		if !ok || !httpURLRe.MatchString(str) || skipURL(str) {
			continue
		}
		token := gen(tokenLen)
		links = append(links, ShortLink{URL: str, Token: token})
		short := base + token
		if opts.AppendOriginal {
			short += "?u=" + base64.URLEncoding.EncodeToString([]byte(str))
		}
		ctx[key] = short
	}
	return links
}

// randomToken returns a URL-safe random string of length n.
func randomToken(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)[:n]
}
