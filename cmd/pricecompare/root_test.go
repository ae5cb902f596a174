package main

import (
	"bytes"
	"testing"

	"github.com/maltedev/price-aggregator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	resp := models.NewAggregatedSearchResponse("イヤホン", []models.SearchResult{
		{Source: models.SourceRakuten, Name: "イヤホン A&B", Price: models.Float(1980)},
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, render(&buf, "json", resp))

		out := buf.String()
		assert.Contains(t, out, `"query": "イヤホン"`)
		assert.Contains(t, out, "A&B", "html escaping must be off")
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, render(&buf, "yaml", resp))

		out := buf.String()
		assert.Contains(t, out, "query: イヤホン")
		assert.Contains(t, out, "total_results: 1")
		assert.NotContains(t, out, "{")
	})
}

func TestRootCmd_RejectsUnknownOutput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"search", "x", "-o", "xml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--output must be json or yaml")
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"search", "barcode", "details", "serve", "refresh"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestSearchFlags(t *testing.T) {
	f := &searchFlags{maxResults: -1}
	_, err := f.options()
	require.Error(t, err)

	f = &searchFlags{noShipping: true}
	opts, err := f.options()
	require.NoError(t, err)
	assert.False(t, opts.IncludeShipping)
}
