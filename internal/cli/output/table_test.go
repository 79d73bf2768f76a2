package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type templateTable [][]string

func (t templateTable) Headers() []string { return []string{"Name", "Priority"} }
func (t templateTable) Rows() [][]string  { return t }

func TestPrintTable(t *testing.T) {
	data := templateTable{
		{"toledo-standard", "85.0"},
		{"generic-ascii", "10.0"},
	}

	var buf bytes.Buffer
	err := PrintTable(&buf, data)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "PRIORITY")
	assert.Contains(t, out, "toledo-standard")
	assert.Contains(t, out, "generic-ascii")
}

func TestSimpleTable(t *testing.T) {
	pairs := [][2]string{
		{"Template", "toledo-standard"},
		{"Confidence", "92.5"},
	}

	var buf bytes.Buffer
	err := SimpleTable(&buf, pairs)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Template")
	assert.Contains(t, out, "toledo-standard")
	assert.Contains(t, out, "Confidence")
	assert.Contains(t, out, "92.5")
}
