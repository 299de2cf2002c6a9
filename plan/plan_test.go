package plan

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/gabriel2392/brokkr/pit"
	"github.com/stretchr/testify/require"
)

func writeTar(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	tw := tar.NewWriter(f)
	for name, data := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func TestExpandInputsWithoutDownloadList(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "ap.tar")
	writeTar(t, tarPath, map[string][]byte{
		"boot.img":   []byte("boot"),
		"system.img": []byte("system-data"),
	})

	specs, err := ExpandInputs([]string{tarPath})
	require.NoError(t, err)
	require.Len(t, specs, 2)
}

func TestExpandInputsWithDownloadList(t *testing.T) {
	dir := t.TempDir()
	tarPath := filepath.Join(dir, "ap.tar")
	writeTar(t, tarPath, map[string][]byte{
		"boot.img":                 []byte("boot"),
		"system.img":               []byte("system-data"),
		"meta-data/download-list.txt": []byte("system.img\nboot.img\n"),
	})

	specs, err := ExpandInputs([]string{tarPath})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "system.img", specs[0].Basename)
	require.Equal(t, "boot.img", specs[1].Basename)
}

func TestMapToPit(t *testing.T) {
	table := pit.Table{Partitions: []pit.Partition{
		{ID: 1, FileName: "boot.img"},
		{ID: 2, FileName: "system.img"},
	}}
	specs := []ImageSpec{
		{Basename: "boot.img"},
		{Basename: "system.img"},
	}
	items, err := MapToPit(table, specs)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestMapToPitFailsOnUnknownImage(t *testing.T) {
	table := pit.Table{Partitions: []pit.Partition{{ID: 1, FileName: "boot.img"}}}
	_, err := MapToPit(table, []ImageSpec{{Basename: "unknown.img"}})
	require.Error(t, err)
}

func TestSourcesCommonMapping(t *testing.T) {
	specs := []ImageSpec{{Basename: "boot.img"}, {Basename: "odd.img"}}
	devices := []DeviceMapping{
		{"boot.img": [2]int32{1, 0}, "odd.img": [2]int32{2, 0}},
		{"boot.img": [2]int32{1, 0}},
	}
	out, err := SourcesCommonMapping(devices, specs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "boot.img", out[0].Basename)
}
