package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gabriel2392/brokkr/archive"
	"github.com/stretchr/testify/require"
)

func TestRawFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boot.img")
	require.NoError(t, os.WriteFile(path, []byte("payload-bytes"), 0644))

	s, err := OpenRawFile(path)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(len("payload-bytes")), s.Size())
	data, err := io.ReadAll(readerOnly{s})
	require.NoError(t, err)
	require.Equal(t, "payload-bytes", string(data))
}

type readerOnly struct{ r io.Reader }

func (r readerOnly) Read(p []byte) (int, error) { return r.r.Read(p) }

func TestTarEntrySource(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "t.tar")
	f, err := os.Create(tarPath)
	require.NoError(t, err)
	payload := []byte("entry-payload")
	_, err = f.WriteAt(payload, 512)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entry := archive.Entry{Name: "system.img", Size: int64(len(payload)), DataOffset: 512}
	s, err := OpenTarEntry(tarPath, entry)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, int64(len(payload)), s.Size())
	data, err := io.ReadAll(readerOnly{s})
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestBasenameStripsLZ4(t *testing.T) {
	base, isLZ4 := Basename("archive/system.img.lz4")
	require.Equal(t, "system.img", base)
	require.True(t, isLZ4)

	base, isLZ4 = Basename("boot.img")
	require.Equal(t, "boot.img", base)
	require.False(t, isLZ4)
}
