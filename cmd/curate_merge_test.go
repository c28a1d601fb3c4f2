//go:build !integration

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMergeFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("entities", "", "")
	cmd.Flags().Int("limit", 0, "")
	return cmd
}

func TestParseMergeOpts_Defaults(t *testing.T) {
	opts, err := parseMergeOpts(newMergeFlagsCmd())
	require.NoError(t, err)
	assert.Empty(t, opts.Entities)
	assert.Equal(t, 0, opts.ClaimLimit)
}

func TestParseMergeOpts_EntityList(t *testing.T) {
	cmd := newMergeFlagsCmd()
	require.NoError(t, cmd.Flags().Set("entities", "students, submissions ,courses"))
	require.NoError(t, cmd.Flags().Set("limit", "250"))

	opts, err := parseMergeOpts(cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"students", "submissions", "courses"}, opts.Entities)
	assert.Equal(t, 250, opts.ClaimLimit)
}
