package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "json", input: "json", want: FormatJSON},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yaml", input: "yaml", want: FormatYAML},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  table  ", want: FormatTable},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type printFixture struct {
	Name     string  `json:"name" yaml:"name"`
	Priority float64 `json:"priority" yaml:"priority"`
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	err := PrintJSON(&buf, printFixture{Name: "toledo-standard", Priority: 85})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"name": "toledo-standard"`)
	assert.Contains(t, buf.String(), `"priority": 85`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	err := PrintYAML(&buf, []printFixture{
		{Name: "toledo-standard", Priority: 85},
		{Name: "generic-ascii", Priority: 10},
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "- name: toledo-standard")
	assert.Contains(t, buf.String(), "- name: generic-ascii")
}
