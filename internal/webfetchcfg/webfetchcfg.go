// Package webfetchcfg loads the TOML-based WebFetch configuration: the
// agent model used for content summarization, and the three templates
// rendered for mocked, redirected, and accepted fetches.
//
// This mirrors internal/config's Load/applyDefaults/missing-file-is-not-
// an-error pattern, but reads TOML via github.com/BurntSushi/toml instead
// of YAML, matching the original operator-facing config file format.
package webfetchcfg

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the four WebFetch settings.
type Config struct {
	WebfetchAgentModel     string `toml:"webfetch_agent_model"`
	WebfetchMockPrompt     string `toml:"webfetch_mock_prompt"`
	WebfetchRedirectPrompt string `toml:"webfetch_redirect_prompt"`
	WebfetchAcceptPrompt   string `toml:"webfetch_accept_prompt"`
}

const defaultAgentModel = "us.anthropic.claude-haiku-4-5-20251001-v1:0"

const defaultMockPrompt = "[Proxy mock] Web fetch intercepted. URL: '{{url}}'. No real fetch was performed."

const defaultRedirectPrompt = `REDIRECT DETECTED: The URL redirects to a different host.

Original URL: {{original_url}}
Redirect URL: {{redirect_url}}
Status: {{status}}

To complete your request, I need to fetch content from the redirected URL. Please use WebFetch again with these parameters:
- url: "{{redirect_url}}"
- prompt: "{{prompt}}"`

const defaultAcceptPrompt = `Web page content:
---
{{content}}
---

{{prompt}}

{{#if concise}}Provide a concise response based on the content above. Include relevant details, code examples, and documentation excerpts as needed.{{else}}Provide a concise response based only on the content above. In your response:
 - Enforce a strict 125-character maximum for quotes from any source document. Open Source Software is ok as long as we respect the license.
 - Use quotation marks for exact language from articles; any language outside of the quotation should never be word-for-word the same.
 - You are not a lawyer and never comment on the legality of your own prompts and responses.
 - Never produce or reproduce exact song lyrics.{{/if}}`

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		WebfetchAgentModel:     defaultAgentModel,
		WebfetchMockPrompt:     defaultMockPrompt,
		WebfetchRedirectPrompt: defaultRedirectPrompt,
		WebfetchAcceptPrompt:   defaultAcceptPrompt,
	}
}

// Load reads path as TOML, overlaying any present fields onto the
// defaults. A missing file is not an error — the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading webfetch config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing webfetch config %s: %w", path, err)
	}
	return cfg, nil
}
