package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestTar(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(data)),
		}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return path
}

func TestScanFindsRegularMembers(t *testing.T) {
	path := writeTestTar(t, map[string][]byte{
		"boot.img":   []byte("boot-payload"),
		"system.img": []byte("system-payload-longer"),
	})

	entries, err := Scan(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Equal(t, int64(len("boot-payload")), byName["boot.img"].Size)
	require.Equal(t, int64(len("system-payload-longer")), byName["system.img"].Size)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, byName["boot.img"].Size)
	_, err = f.ReadAt(buf, byName["boot.img"].DataOffset)
	require.NoError(t, err)
	require.Equal(t, "boot-payload", string(buf))
}

func TestIsTarFile(t *testing.T) {
	path := writeTestTar(t, map[string][]byte{"a": []byte("x")})
	require.True(t, IsTarFile(path))

	dir := t.TempDir()
	notTar := filepath.Join(dir, "not.bin")
	require.NoError(t, os.WriteFile(notTar, []byte("not a tar file at all"), 0644))
	require.False(t, IsTarFile(notTar))
}

func TestParseTarNumberOctal(t *testing.T) {
	field := []byte("0000123 \x00")
	v, err := parseTarNumber(field)
	require.NoError(t, err)
	require.Equal(t, int64(83), v)
}

func TestParseTarNumberBase256(t *testing.T) {
	field := make([]byte, 12)
	field[0] = 0x80
	field[11] = 42
	v, err := parseTarNumber(field)
	require.NoError(t, err)
	require.Equal(t, int64(42), v)
}

func TestParseTarNumberRejectsSignBit(t *testing.T) {
	field := make([]byte, 12)
	field[0] = 0xC0 // 0x80 | 0x40
	_, err := parseTarNumber(field)
	require.Error(t, err)
}
