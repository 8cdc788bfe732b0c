package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root, _ := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "watch", "migrate", "user-add"}, names)
	require.NotNil(t, root.PersistentFlags().Lookup("data-dir"))
}

func TestWatchDebounceDefault(t *testing.T) {
	root, _ := newRootCmd()
	watch, _, err := root.Find([]string{"watch"})
	require.NoError(t, err)

	f := watch.Flags().Lookup("debounce")
	require.NotNil(t, f)
	assert.Equal(t, "2s", f.DefValue)
}

func TestUserAddRequiresUsername(t *testing.T) {
	root, _ := newRootCmd()
	cmd, _, err := root.Find([]string{"user-add"})
	require.NoError(t, err)

	f := cmd.Flags().Lookup("username")
	require.NotNil(t, f)
	assert.Equal(t, []string{"true"}, f.Annotations[cobra.BashCompOneRequiredFlag])
}
