package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForZoom(t *testing.T) {
	tests := []struct {
		zoom float64
		want Resolution
	}{
		{0, National},
		{3.49, National},
		{3.5, State},
		{5.49, State},
		{5.5, Metro},
		{7.49, Metro},
		{7.5, County},
		{9.99, County},
		{10, Zip},
		{18, Zip},
		{-2, National},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ForZoom(tt.zoom), "zoom %v", tt.zoom)
	}
}

func TestForZoom_Monotonic(t *testing.T) {
	prev := ForZoom(0)
	for z := 0.0; z <= 22; z += 0.05 {
		got := ForZoom(z)
		require.True(t, got.Valid())
		assert.GreaterOrEqual(t, int(got), int(prev), "zoom %v", z)
		prev = got
	}
}

func TestParseResolution_Aliases(t *testing.T) {
	tests := map[string]Resolution{
		"national": National,
		"country":  National,
		"Country":  National,
		"state":    State,
		"msa":      Metro,
		"MSA":      Metro,
		"metro":    Metro,
		"county":   County,
		" zip ":    Zip,
		"zcta":     Zip,
	}
	for in, want := range tests {
		got, ok := ParseResolution(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseResolution("tract")
	assert.False(t, ok)
}

func TestResolution_TextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[string]Resolution{"level": Metro})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"metro"}`, string(data))

	var got struct {
		Level Resolution `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"msa"}`), &got))
	assert.Equal(t, Metro, got.Level)

	assert.Error(t, json.Unmarshal([]byte(`{"level":"planet"}`), &got))
}

func TestResolution_RegionScoped(t *testing.T) {
	assert.False(t, National.RegionScoped())
	assert.False(t, State.RegionScoped())
	assert.False(t, Metro.RegionScoped())
	assert.True(t, County.RegionScoped())
	assert.True(t, Zip.RegionScoped())
}

func TestResolver_ReportsOnlyResolutionChanges(t *testing.T) {
	var r Resolver

	res, changed := r.Resolve(3.0)
	assert.Equal(t, National, res)
	assert.True(t, changed)

	_, changed = r.Resolve(3.2)
	assert.False(t, changed)

	_, changed = r.Resolve(3.4999)
	assert.False(t, changed)

	res, changed = r.Resolve(4.0)
	assert.Equal(t, State, res)
	assert.True(t, changed)

	_, changed = r.Resolve(4.1)
	assert.False(t, changed)

	cur, ok := r.Current()
	assert.True(t, ok)
	assert.Equal(t, State, cur)
}

func TestZoomHint(t *testing.T) {
	for _, r := range All {
		assert.NotEmpty(t, ZoomHint(r), r.String())
	}
	assert.Empty(t, ZoomHint(Resolution(42)))
}

func TestAliases(t *testing.T) {
	assert.Equal(t, []string{"cbsa", "metro", "msa"}, Aliases(Metro))
	assert.Equal(t, []string{"country", "nation", "national", "us"}, Aliases(National))
	assert.Equal(t, []string{"zcta", "zip"}, Aliases(Zip))
}
