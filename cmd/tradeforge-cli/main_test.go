package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	valFile, valCondition, valFormat = "", "", "table"
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCondition(t *testing.T) {
	out, err := execute(t, "validate", "--condition", `{"type":"and","children":[{"type":"xor"}]}`)
	require.Error(t, err)
	assert.Contains(t, out, "children[0].type")
}

func TestValidateStrategyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"buyConditions":[],"sellConditions":[]}`), 0o644))

	out, err := execute(t, "validate", "--file", path, "--format", "json")
	require.Error(t, err)
	assert.Contains(t, out, `"valid": false`)
	assert.Contains(t, out, "buyConditions")
}

func TestValidateRequiresInput(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tradeforge-cli")
}
