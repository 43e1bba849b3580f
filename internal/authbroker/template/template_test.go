package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name string
		tpl  string
		ctx  Context
		want string
	}{
		{
			name: "simple substitution",
			tpl:  "https://${subdomain}.example.com/oauth/token",
			ctx:  Context{"subdomain": "acme"},
			want: "https://acme.example.com/oauth/token",
		},
		{
			name: "legacy connectionConfig alias",
			tpl:  "${connectionConfig.subdomain}.example.com",
			ctx:  Context{"subdomain": "acme"},
			want: "acme.example.com",
		},
		{
			name: "missing key left verbatim",
			tpl:  "https://${subdomain}.example.com",
			ctx:  Context{},
			want: "https://${subdomain}.example.com",
		},
		{
			name: "multiple tokens",
			tpl:  "${a}-${b}-${a}",
			ctx:  Context{"a": "x", "b": "y"},
			want: "x-y-x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interpolate(tt.tpl, tt.ctx, false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterpolateURLEncode(t *testing.T) {
	got := Interpolate("${redirect}", Context{"redirect": "https://a.com/cb?x=1"}, true)
	assert.Equal(t, "https%3A%2F%2Fa.com%2Fcb%3Fx%3D1", got)
}

func TestInterpolateIdempotent(t *testing.T) {
	ctx := Context{"a": "x", "b": "y"}
	tpl := "${a}/${b}"
	once := Interpolate(tpl, ctx, false)
	twice := Interpolate(once, ctx, false)
	assert.Equal(t, once, twice)
}

func TestMissingKeys(t *testing.T) {
	missing := MissingKeys("https://${subdomain}.api.com/${region}", Context{"region": "us"})
	assert.Equal(t, []string{"subdomain"}, missing)

	none := MissingKeys("https://${subdomain}.api.com", Context{"subdomain": "acme"})
	assert.Empty(t, none)
}

func TestMissingKeysDeduplicates(t *testing.T) {
	missing := MissingKeys("${x}/${x}/${y}", Context{"y": "1"})
	assert.Equal(t, []string{"x"}, missing)
}

func TestInterpolateMap(t *testing.T) {
	ctx := Context{"token": "abc"}
	in := map[string]any{
		"Authorization": "Bearer ${token}",
		"nested": map[string]any{
			"value": "${token}-suffix",
		},
		"untouched": 42,
	}

	out := InterpolateMap(in, ctx, false)
	assert.Equal(t, "Bearer abc", out["Authorization"])
	assert.Equal(t, 42, out["untouched"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, "abc-suffix", nested["value"])
}

func TestMissingKeysInMap(t *testing.T) {
	in := map[string]any{
		"a": "${x}",
		"b": map[string]any{"c": "${y}"},
	}
	missing := MissingKeysInMap(in, Context{})
	assert.ElementsMatch(t, []string{"x", "y"}, missing)
}

func TestFlatten(t *testing.T) {
	ctx := Flatten(map[string]any{
		"connection": map[string]any{
			"subdomain": "acme",
		},
		"top": "level",
	})
	assert.Equal(t, "acme", ctx["connection.subdomain"])
	assert.Equal(t, "level", ctx["top"])
}

func TestMerge(t *testing.T) {
	a := Context{"x": "1", "y": "1"}
	b := Context{"y": "2"}
	merged := Merge(a, b)
	assert.Equal(t, "1", merged["x"])
	assert.Equal(t, "2", merged["y"])
}
