package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	require.Equal(t, "docrag", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentPreRun)
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{
		"serve":   false,
		"ingest":  false,
		"ask":     false,
		"version": false,
	}

	for _, sub := range rootCmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}

	for name, found := range want {
		assert.True(t, found, "command %q not registered", name)
	}
}

func TestIngestCommandMentionsSupportedTypes(t *testing.T) {
	for _, ext := range []string{".txt", ".md", ".pdf", ".docx"} {
		assert.Contains(t, ingestCmd.Long, ext)
	}
}
