package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-riley/cerebro/internal/loader"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		schema   string
		wantErr  bool
		want     string
	}{
		{name: "valid", settings: checkoutSettings, want: ": ok\n"},
		{
			name:     "toplevel template",
			settings: "- setting: host\n  value: \"${farm}.example.com\"\n",
			wantErr:  true,
			want:     "has template as toplevel value",
		},
		{
			name:     "schema violation",
			settings: "- value: 1\n",
			wantErr:  true,
		},
		{
			name:     "custom schema",
			settings: checkoutSettings,
			schema:   `{"type": "array", "maxItems": 1}`,
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := []string{"validate", "-f", writeFile(t, "settings.yaml", tc.settings)}
			if tc.schema != "" {
				args = append(args, "--schema", writeFile(t, "schema.json", tc.schema))
			}

			out, err := execute(t, args...)
			if tc.wantErr {
				assert.ErrorIs(t, err, loader.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, tc.want)
		})
	}
}

func TestValidateJSONFormat(t *testing.T) {
	path := writeFile(t, "settings.yaml", "- setting: host\n  value: \"${farm}\"\n")

	out, err := execute(t, "validate", "-f", path, "--format", "json")
	require.Error(t, err)

	var got validateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, path, got.File)
	assert.False(t, got.Valid)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "host", got.Errors[0].Setting)
}

func TestValidateInputErrors(t *testing.T) {
	path := writeFile(t, "settings.yaml", checkoutSettings)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing file", args: []string{"validate", "-f", path + ".missing"}, want: "read settings file"},
		{name: "missing schema", args: []string{"validate", "-f", path, "--schema", path + ".schema"}, want: "read schema"},
		{name: "bad schema", args: []string{"validate", "-f", path, "--schema", writeFile(t, "bad.json", "{")}, want: "unmarshal schema"},
		{name: "bad document", args: []string{"validate", "-f", writeFile(t, "bad.yaml", "a: [")}, want: "parse settings file"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
