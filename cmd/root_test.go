package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/qa-scraper/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"ask", "run", "batch", "summarize", "accounts", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "qa-scraper", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAccountsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range accountsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"add", "login", "list", "status"} {
		assert.True(t, names[name], "expected accounts subcommand %q not found", name)
	}
}

func TestRunCommand_Flags(t *testing.T) {
	require.NotNil(t, runCmd.Flags().Lookup("question"))
	require.NotNil(t, summarizeCmd.Flags().Lookup("question"))
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "100", flag.DefValue)
	require.NotNil(t, batchCmd.Flags().Lookup("category"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestAskCommand_Flags(t *testing.T) {
	require.NotNil(t, askCmd.Flags().Lookup("category"))
	flag := askCmd.Flags().Lookup("process")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestParseCategoryFlag(t *testing.T) {
	got, err := parseCategoryFlag("")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseCategoryFlag(" Science ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.CategoryScience, *got)

	_, err = parseCategoryFlag("cooking")
	assert.ErrorContains(t, err, "unknown category")
}
