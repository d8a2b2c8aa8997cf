package template

import (
	"log"
	"regexp"
	"strings"
)

// A macro is defined as "name(arg1 | arg2 | …)" → body, and called in a
// template as "name(v1 | v2 | …)". The call site is replaced by the body
// with each {{ argN }} substituted. Argument count mismatches leave the call
// site untouched and log a warning.

var macroSignatureRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*\(([^)]*)\)\s*$`)

type macroDef struct {
	name string
	args []string
	body string
}

func parseMacros(macros map[string]string) []macroDef {
	defs := make([]macroDef, 0, len(macros))
	for signature, body := range macros {
		m := macroSignatureRe.FindStringSubmatch(signature)
		if m == nil {
			log.Printf("[template] ignoring malformed macro signature %q", signature)
			continue
		}
		defs = append(defs, macroDef{name: m[1], args: splitArgs(m[2]), body: body})
	}
	return defs
}

func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	args := make([]string, len(parts))
	for i, p := range parts {
		args[i] = strings.TrimSpace(p)
	}
	return args
}

// ExpandMacros replaces every macro call in text with the macro body, with
// call arguments substituted for the declared parameters.
func ExpandMacros(text string, macros map[string]string) string {
	if len(macros) == 0 {
		return text
	}
	for _, def := range parseMacros(macros) {
		callRe := regexp.MustCompile(regexp.QuoteMeta(def.name) + `\(([^)]*)\)`)
		text = callRe.ReplaceAllStringFunc(text, func(call string) string {
			m := callRe.FindStringSubmatch(call)
			values := splitArgs(m[1])
			if len(values) != len(def.args) {
				log.Printf("[template] macro %s called with %d args, expected %d; leaving unreplaced",
					def.name, len(values), len(def.args))
				return call
			}
			body := def.body
			for i, arg := range def.args {
				argRe := regexp.MustCompile(`\{\{\{?\s*` + regexp.QuoteMeta(arg) + `\s*\}?\}\}`)
				body = argRe.ReplaceAllString(body, values[i])
			}
			return body
		})
	}
	return text
}
