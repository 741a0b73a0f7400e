package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// withArgs temporarily replaces os.Args for the duration of a run() call and
// restores it afterward, since run() reads os.Args[1:] directly.
func withArgs(t *testing.T, args []string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"vanta"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func TestRunExitsTwoOnCorruptEnvelopeBadLength(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "envelope.bin"), []byte("too short"), 0o600))

	withArgs(t, []string{"--vault-root", root})
	require.Equal(t, 2, run())
}

func TestRunExitsTwoOnCorruptEnvelopeBadMagic(t *testing.T) {
	root := t.TempDir()
	// Right length, wrong magic: a structurally-sized but not actually
	// valid envelope must still be caught before any unlock attempt.
	garbage := make([]byte, 4+1+1+4+4+1+16+24+32+16)
	for i := range garbage {
		garbage[i] = 0x42
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "envelope.bin"), garbage, 0o600))

	withArgs(t, []string{"--vault-root", root})
	require.Equal(t, 2, run())
}
