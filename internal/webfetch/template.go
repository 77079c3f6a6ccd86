package webfetch

import (
	"regexp"
	"strings"
)

// renderTemplate performs non-strict {{var}} substitution against tmpl: a
// variable with no matching entry in data is replaced with the empty
// string rather than erroring. {{#if flag}}...{{else}}...{{/if}} blocks
// are resolved against flags. This mirrors the Handlebars
// `set_strict_mode(false)` + `no_escape` configuration used by the
// upstream prompt templates, since no Handlebars-equivalent library is
// available in this module's dependency set.
func renderTemplate(tmpl string, data map[string]string, flags map[string]bool) string {
	// Resolve {{#if x}}...{{else}}...{{/if}} and {{#if x}}...{{/if}} blocks
	// first, since their bodies may themselves contain {{var}} references.
	resolved := ifBlockRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		groups := ifBlockRe.FindStringSubmatch(m)
		if groups[1] != "" {
			cond, truthy, falsy := groups[1], groups[2], groups[3]
			if flags[cond] {
				return truthy
			}
			return falsy
		}
		cond, body := groups[4], groups[5]
		if flags[cond] {
			return body
		}
		return ""
	})

	return varRe.ReplaceAllStringFunc(resolved, func(m string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
		return data[key]
	})
}

var ifBlockRe = regexp.MustCompile(`(?s)\{\{#if (\w+)\}\}(.*?)\{\{else\}\}(.*?)\{\{/if\}\}|\{\{#if (\w+)\}\}(.*?)\{\{/if\}\}`)

var varRe = regexp.MustCompile(`\{\{(\w+)\}\}`)
