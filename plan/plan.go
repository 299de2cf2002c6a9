// Package plan builds an ordered flashing plan from raw CLI inputs: it
// expands archive members and raw files into image specs, optionally
// honoring an archive's embedded download-list, then maps specs onto PIT
// partitions.
package plan

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel2392/brokkr/archive"
	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/pit"
	"github.com/gabriel2392/brokkr/source"
)

const downloadListMember = "meta-data/download-list.txt"

// ImageSpec describes one candidate image before it is bound to a
// partition.
type ImageSpec struct {
	// ArchivePath is empty for a raw file input.
	ArchivePath string
	Entry       archive.Entry // valid only when ArchivePath != ""
	RawPath     string        // valid only when ArchivePath == ""

	SourceBasename string // on-disk name, e.g. "system.img.lz4"
	Basename       string // logical name, e.g. "system.img"
	DiskSize       int64
	Size           int64
	LZ4            bool
}

// FlashItem binds a resolved partition to the image that will fill it.
type FlashItem struct {
	Partition pit.Partition
	Spec      ImageSpec
}

// Open returns the raw ByteSource for spec (the on-disk bytes, still LZ4
// framed if LZ4 is set). Callers that need decompressed bytes wrap the
// result themselves: the coordinator's plain transfer path decompresses,
// its compressed transfer path reads the frame's raw blocks directly.
func (s ImageSpec) Open() (source.ByteSource, error) {
	if s.ArchivePath != "" {
		return source.OpenTarEntry(s.ArchivePath, s.Entry)
	}
	return source.OpenRawFile(s.RawPath)
}

// ExpandInputs turns the raw CLI input paths (archives and/or raw image
// files) into an ordered list of image specs, honoring an embedded
// download-list if any input archive carries one.
func ExpandInputs(paths []string) ([]ImageSpec, error) {
	listName, listContent, err := findDownloadList(paths)
	if err != nil {
		return nil, err
	}

	candidates := map[string]ImageSpec{}
	var order []string

	for _, p := range paths {
		if archive.IsTarFile(p) {
			entries, err := archive.Scan(p)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Name == "" || e.Name == downloadListMember {
					continue
				}
				spec, base := specFromArchiveEntry(p, e)
				candidates[base] = spec
				order = append(order, base)
			}
			continue
		}
		spec, base, err := specFromRawFile(p)
		if err != nil {
			return nil, err
		}
		candidates[base] = spec
		order = append(order, base)
	}

	for base, spec := range candidates {
		if !spec.LZ4 {
			continue
		}
		raw, err := spec.Open()
		if err != nil {
			return nil, err
		}
		dec, err := source.OpenDecompressing(raw)
		raw.Close()
		if err != nil {
			return nil, err
		}
		spec.Size = dec.Size()
		candidates[base] = spec
	}

	if listName == "" {
		out := make([]ImageSpec, 0, len(order))
		seen := map[string]bool{}
		for _, base := range order {
			if seen[base] {
				continue
			}
			seen[base] = true
			out = append(out, candidates[base])
		}
		return out, nil
	}

	names, err := parseDownloadList(listContent)
	if err != nil {
		return nil, err
	}
	out := make([]ImageSpec, 0, len(names))
	for _, n := range names {
		spec, ok := candidates[n]
		if !ok {
			return nil, fmt.Errorf("%w: download-list entry %q has no matching image", core.ErrMapping, n)
		}
		out = append(out, spec)
	}
	return out, nil
}

func specFromArchiveEntry(archivePath string, e archive.Entry) (ImageSpec, string) {
	base, isLZ4 := source.Basename(e.Name)
	spec := ImageSpec{
		ArchivePath:    archivePath,
		Entry:          e,
		SourceBasename: lastComponent(e.Name),
		Basename:       base,
		DiskSize:       e.Size,
		Size:           e.Size,
		LZ4:            isLZ4,
	}
	return spec, base
}

func specFromRawFile(path string) (ImageSpec, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ImageSpec{}, "", fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	base, isLZ4 := source.Basename(path)
	spec := ImageSpec{
		RawPath:        path,
		SourceBasename: lastComponent(path),
		Basename:       base,
		DiskSize:       info.Size(),
		Size:           info.Size(),
		LZ4:            isLZ4,
	}
	return spec, base, nil
}

func lastComponent(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// findDownloadList scans every archive input for meta-data/download-list.txt,
// requiring byte-identical copies if more than one archive carries it.
func findDownloadList(paths []string) (name string, content []byte, err error) {
	for _, p := range paths {
		if !archive.IsTarFile(p) {
			continue
		}
		entries, err := archive.Scan(p)
		if err != nil {
			return "", nil, err
		}
		for _, e := range entries {
			if e.Name != downloadListMember {
				continue
			}
			s, err := source.OpenTarEntry(p, e)
			if err != nil {
				return "", nil, err
			}
			buf := make([]byte, e.Size)
			_, rerr := readFull(s, buf)
			s.Close()
			if rerr != nil {
				return "", nil, fmt.Errorf("%w: %v", core.ErrArchive, rerr)
			}
			if content == nil {
				name, content = downloadListMember, buf
			} else if !bytes.Equal(content, buf) {
				return "", nil, fmt.Errorf("%w: conflicting download-list.txt across inputs", core.ErrMapping)
			}
		}
	}
	return name, content, nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func parseDownloadList(content []byte) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if seen[line] {
			return nil, fmt.Errorf("%w: duplicate download-list entry %q", core.ErrMapping, line)
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrArchive, err)
	}
	return out, nil
}

// MapToPit resolves each spec to a PIT partition by logical basename; a
// later spec mapping to the same partition overwrites an earlier one.
func MapToPit(table pit.Table, specs []ImageSpec) ([]FlashItem, error) {
	byPartID := map[int32]FlashItem{}
	var order []int32
	for _, spec := range specs {
		part, ok := table.FindByFileName(spec.Basename)
		if !ok {
			return nil, fmt.Errorf("%w: no partition found for %q", core.ErrMapping, spec.Basename)
		}
		if _, exists := byPartID[part.ID]; !exists {
			order = append(order, part.ID)
		}
		byPartID[part.ID] = FlashItem{Partition: *part, Spec: spec}
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no images mapped to any partition", core.ErrMapping)
	}
	out := make([]FlashItem, len(order))
	for i, id := range order {
		out[i] = byPartID[id]
	}
	return out, nil
}

// DeviceMapping is one device's view of which (id, devType) pair a spec
// resolves to, keyed by the spec's logical basename.
type DeviceMapping map[string][2]int32

// SourcesCommonMapping drops specs that don't map on every device and
// requires agreement on (id, devType) for specs that do.
func SourcesCommonMapping(devices []DeviceMapping, specs []ImageSpec) ([]ImageSpec, error) {
	var out []ImageSpec
	for _, spec := range specs {
		var first [2]int32
		ok := true
		for i, dm := range devices {
			v, present := dm[spec.Basename]
			if !present {
				ok = false
				break
			}
			if i == 0 {
				first = v
			} else if v != first {
				return nil, fmt.Errorf("%w: devices disagree on mapping for %q", core.ErrMapping, spec.Basename)
			}
		}
		if ok {
			out = append(out, spec)
		}
	}
	return out, nil
}
