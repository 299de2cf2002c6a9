package md5verify

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTrailered(t *testing.T, payload []byte) string {
	t.Helper()
	sum := md5.Sum(payload)
	trailer := []byte(hex.EncodeToString(sum[:]) + "  firmware.tar\n")
	path := filepath.Join(t.TempDir(), "firmware.tar.md5")
	require.NoError(t, os.WriteFile(path, append(append([]byte{}, payload...), trailer...), 0644))
	return path
}

func TestDetectJobFindsTrailer(t *testing.T) {
	path := writeTrailered(t, []byte("some tar payload bytes, repeated for length. "))
	job, ok, err := DetectJob(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(len("some tar payload bytes, repeated for length. ")), job.BytesToHash)
}

func TestDetectJobNoTrailerIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tar")
	require.NoError(t, os.WriteFile(path, []byte("not trailered at all"), 0644))
	_, ok, err := DetectJob(path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyAllPassesOnMatchingDigest(t *testing.T) {
	path := writeTrailered(t, []byte("payload-for-verify-all-test"))
	job, ok, err := DetectJob(path)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, VerifyAll([]Job{job}, nil))
}

func TestVerifyAllFailsOnCorruptedPayload(t *testing.T) {
	path := writeTrailered(t, []byte("payload-for-corruption-test"))
	job, ok, err := DetectJob(path)
	require.NoError(t, err)
	require.True(t, ok)

	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = VerifyAll([]Job{job}, nil)
	require.Error(t, err)
}
