package launchercli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandProperties(t *testing.T) {
	assert.Equal(t, "launcher-plugin", rootCmd.Use)
	assert.True(t, rootCmd.DisableFlagParsing, "root command must leave flag parsing to pkg/config.Load")
}

func TestCommandExistence(t *testing.T) {
	names := []string{}
	for _, cmd := range []*cobra.Command{versionCmd, validateConfigCmd} {
		names = append(names, cmd.Use)
	}
	assert.Contains(t, strings.Join(names, ","), "version")
}

func TestValidateConfigCommand_RejectsEmptyScratchPath(t *testing.T) {
	err := validateConfigCmd.RunE(validateConfigCmd, []string{"--scratch-path="})
	assert.Error(t, err)
}

func TestValidateConfigCommand_AcceptsMinimalValidFlags(t *testing.T) {
	scratch := t.TempDir()
	err := validateConfigCmd.RunE(validateConfigCmd, []string{
		"--scratch-path", scratch,
		"--rsandbox-path", filepath.Join(scratch, "rsandbox"),
	})
	require.NoError(t, err)
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	var buf strings.Builder
	versionCmd.SetOut(&buf)
	err := versionCmd.RunE(versionCmd, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1.0.0")
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
