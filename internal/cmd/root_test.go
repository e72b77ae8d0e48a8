package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "gitwizard", rootCmd.Use)
	assert.True(t, rootCmd.HasSubCommands())

	for _, name := range []string{"serve", "repo", "user", "scan"} {
		sub, _, err := rootCmd.Find([]string{name})
		assert.NoError(t, err)
		assert.NotNil(t, sub, name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRepoSubcommands(t *testing.T) {
	repoCmd := NewRepoCmd()

	for _, name := range []string{"connect", "disconnect", "list", "scans"} {
		sub, _, err := repoCmd.Find([]string{name})
		assert.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestConnectRequiresRepoFlag(t *testing.T) {
	repoCmd := NewRepoCmd()
	connectCmd, _, err := repoCmd.Find([]string{"connect"})
	assert.NoError(t, err)

	flag := connectCmd.Flags().Lookup("repo")
	assert.NotNil(t, flag)
}

func TestServeCommandFlags(t *testing.T) {
	serveCmd := NewServeCmd()

	assert.NotNil(t, serveCmd.Flags().Lookup("config"))
	assert.NotNil(t, serveCmd.PersistentFlags().Lookup("verbose"))
}

func TestScanCommandFlags(t *testing.T) {
	scanCmd := NewScanCmd()

	assert.NotNil(t, scanCmd.Flags().Lookup("repo"))
	assert.NotNil(t, scanCmd.Flags().Lookup("sha"))
	assert.NotNil(t, scanCmd.Flags().Lookup("token"))
}
