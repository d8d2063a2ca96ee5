package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/mock"
)

func TestLookupPreset(t *testing.T) {
	p, ok := LookupPreset("github")
	require.True(t, ok)
	cfg := p.Config("")
	assert.Equal(t, "github", cfg.Name)
	assert.Equal(t, "https://api.github.com", cfg.BaseURL)
	assert.Equal(t, "/graphql", cfg.GraphQL.Endpoint)
	assert.Equal(t, 5000, cfg.RateLimit.MaxRequests)
	assert.Equal(t, time.Hour, cfg.RateLimit.Window)
	assert.Equal(t, "", cfg.Auth.Mode)
	require.NoError(t, cfg.Validate())

	_, ok = LookupPreset("nope")
	assert.False(t, ok)
}

func TestPreset_KeepsDefaultLimitWhenUnpublished(t *testing.T) {
	p, ok := LookupPreset("doppler")
	require.True(t, ok)
	cfg := p.Config("DOPPLER_TOKEN")
	def := resilientbridge.DefaultConfig()
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.GraphQL.Endpoint, cfg.GraphQL.Endpoint)
	assert.Equal(t, resilientbridge.AuthConfig{Mode: "bearer", TokenEnv: "DOPPLER_TOKEN"}, cfg.Auth)
}

func TestPresetNames_Sorted(t *testing.T) {
	names := PresetNames()
	assert.IsNonDecreasing(t, names)
	assert.Contains(t, names, "tailscale")
	assert.Len(t, names, 14)
}

func TestPreset_AuthHeaderReachesUpstream(t *testing.T) {
	srv := mock.NewServer(mock.ServerConfig{})
	defer srv.Close()

	cases := []struct {
		preset string
		want   string
	}{
		{"openai", "Bearer s3cret"},
		{"gitguardian", "Token s3cret"},
	}
	for _, tc := range cases {
		t.Run(tc.preset, func(t *testing.T) {
			t.Setenv("PRESET_TEST_TOKEN", "s3cret")
			p, ok := LookupPreset(tc.preset)
			require.True(t, ok)
			cfg := p.Config("PRESET_TEST_TOKEN")
			cfg.BaseURL = srv.URL

			a, err := NewRESTAdapter(cfg, WithClock(newFakeClock()))
			require.NoError(t, err)
			defer a.Close()
			assert.Equal(t, tc.preset, a.Name())

			resp, err := a.Get(context.Background(), "/headers", WithoutCache())
			require.NoError(t, err)
			var echoed map[string]string
			require.NoError(t, resp.Decode(&echoed))
			assert.Equal(t, tc.want, echoed["Authorization"])
		})
	}
}

func TestPreset_MissingTokenFailsConstruction(t *testing.T) {
	t.Setenv("PRESET_TEST_TOKEN", "")
	p, _ := LookupPreset("heroku")
	_, err := NewRESTAdapter(p.Config("PRESET_TEST_TOKEN"))
	assert.Error(t, err)
}
