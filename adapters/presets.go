// presets.go
// ----------
// Known upstream APIs with their base URL, auth scheme and published rate
// limits. A preset only seeds a Config; every field can still be overridden
// by the YAML file or in code.
//
// Key Points:
// - Limits are the documented per-token defaults. Where a provider only
//   reports its quota in x-ratelimit-* headers the adapter default is kept and
//   UpstreamRateLimit() shows the live figure.
// - Tokens are read from the environment variable passed to Config, never
//   stored in the preset.

package adapters

import (
	"sort"
	"time"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
)

// Preset describes one upstream API.
type Preset struct {
	Name    string
	BaseURL string
	// GraphQLEndpoint is empty when the provider has no GraphQL API.
	GraphQLEndpoint string
	// TokenPrefix is the Authorization scheme, "Bearer" unless noted.
	TokenPrefix string

	MaxRequests int
	Window      time.Duration
}

var presets = map[string]Preset{
	"azure":       {Name: "azure", BaseURL: "https://management.azure.com", MaxRequests: 12000, Window: time.Hour},
	"cloudflare":  {Name: "cloudflare", BaseURL: "https://api.cloudflare.com/client/v4", GraphQLEndpoint: "/graphql", MaxRequests: 1200, Window: 5 * time.Minute},
	"doppler":     {Name: "doppler", BaseURL: "https://api.doppler.com"},
	"flyio":       {Name: "flyio", BaseURL: "https://api.machines.dev/v1"},
	"gitguardian": {Name: "gitguardian", BaseURL: "https://api.gitguardian.com", TokenPrefix: "Token"},
	"github":      {Name: "github", BaseURL: "https://api.github.com", GraphQLEndpoint: "/graphql", MaxRequests: 5000, Window: time.Hour},
	"heroku":      {Name: "heroku", BaseURL: "https://api.heroku.com", MaxRequests: 480, Window: time.Minute},
	"huggingface": {Name: "huggingface", BaseURL: "https://huggingface.co", MaxRequests: 5000, Window: time.Hour},
	"linode":      {Name: "linode", BaseURL: "https://api.linode.com/v4"},
	"openai":      {Name: "openai", BaseURL: "https://api.openai.com", MaxRequests: 60, Window: time.Minute},
	"railway":     {Name: "railway", BaseURL: "https://backboard.railway.app", GraphQLEndpoint: "/graphql/v2", MaxRequests: 1000, Window: time.Hour},
	"render":      {Name: "render", BaseURL: "https://api.render.com", MaxRequests: 400, Window: time.Minute},
	"semgrep":     {Name: "semgrep", BaseURL: "https://semgrep.dev/api/v1"},
	"tailscale":   {Name: "tailscale", BaseURL: "https://api.tailscale.com/api", MaxRequests: 480, Window: time.Minute},
}

// LookupPreset returns the preset registered under name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Config returns resilientbridge.DefaultConfig with the preset applied. The
// API token is read from tokenEnv when the adapter is built; an empty tokenEnv
// leaves authentication off.
func (p Preset) Config(tokenEnv string) resilientbridge.Config {
	cfg := resilientbridge.DefaultConfig()
	cfg.Name = p.Name
	cfg.BaseURL = p.BaseURL
	if p.GraphQLEndpoint != "" {
		cfg.GraphQL.Endpoint = p.GraphQLEndpoint
	}
	if p.MaxRequests > 0 && p.Window > 0 {
		cfg.RateLimit.MaxRequests = p.MaxRequests
		cfg.RateLimit.Window = p.Window
	}

	switch {
	case tokenEnv == "":
	case p.TokenPrefix != "" && p.TokenPrefix != "Bearer":
		cfg.Auth = resilientbridge.AuthConfig{Mode: "apikey", Header: "Authorization", Prefix: p.TokenPrefix, KeyEnv: tokenEnv}
	default:
		cfg.Auth = resilientbridge.AuthConfig{Mode: "bearer", TokenEnv: tokenEnv}
	}
	return cfg
}
