// Package archive scans ustar/PAX/GNU-long-name tar archives and indexes
// their payload-bearing members without needing to read more than their
// headers up front.
package archive

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gabriel2392/brokkr/core"
)

const (
	blockSize = 512

	maxPaxPayload = 8 << 20 // 8 MiB cap on PAX/long-name payloads
)

// Entry describes one payload member's location inside the archive file.
type Entry struct {
	Name       string
	Size       int64
	DataOffset int64
}

// Scan reads the header blocks of path and returns every regular-file member
// it finds, with hardlinks resolved to their target's offset and size.
func Scan(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrArchive, err)
	}
	defer f.Close()

	var (
		entries      []Entry
		byName       = map[string]Entry{}
		zeroBlocks   int
		globalExtra  map[string]string
		nextOverride map[string]string
		nextLongName string
		buf          = make([]byte, blockSize)
	)

	for {
		n, rerr := readFull(f, buf)
		if n == 0 && rerr != nil {
			break
		}
		if n < blockSize {
			return nil, fmt.Errorf("%w: short header block", core.ErrArchive)
		}
		if isAllZero(buf) {
			zeroBlocks++
			if zeroBlocks >= 2 {
				break
			}
			continue
		}
		zeroBlocks = 0

		hdr, ok, err := parseHeader(buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: bad header checksum", core.ErrArchive)
		}

		dataOffset, err := currentOffset(f)
		if err != nil {
			return nil, err
		}

		switch hdr.typeFlag {
		case 'x', 'g':
			payload, err := readPayload(f, hdr.size)
			if err != nil {
				return nil, err
			}
			kv, err := parsePax(payload)
			if err != nil {
				return nil, err
			}
			if hdr.typeFlag == 'g' {
				if globalExtra == nil {
					globalExtra = map[string]string{}
				}
				for k, v := range kv {
					globalExtra[k] = v
				}
			} else {
				nextOverride = kv
			}
			continue

		case 'L':
			payload, err := readPayload(f, hdr.size)
			if err != nil {
				return nil, err
			}
			nextLongName = core.NulString(payload)
			continue

		case '1': // hardlink
			target, ok := byName[hdr.linkName]
			if !ok {
				return nil, fmt.Errorf("%w: hardlink %q targets unknown member %q", core.ErrArchive, hdr.name, hdr.linkName)
			}
			e := Entry{Name: applyOverrides(hdr.name, globalExtra, nextOverride, nextLongName), Size: target.Size, DataOffset: target.DataOffset}
			entries = append(entries, e)
			byName[e.Name] = e
			nextOverride, nextLongName = nil, ""
			continue

		case '0', 0, '7':
			name := applyOverrides(hdr.name, globalExtra, nextOverride, nextLongName)
			size := hdr.size
			if ov, ok := nextOverride["size"]; ok {
				if v, err := strconv.ParseInt(ov, 10, 64); err == nil {
					size = v
				}
			}
			e := Entry{Name: name, Size: size, DataOffset: dataOffset}
			if name != "" {
				entries = append(entries, e)
				byName[name] = e
			}
			nextOverride, nextLongName = nil, ""
			if err := skipPayload(f, size); err != nil {
				return nil, err
			}
			continue

		default:
			// directories, symlinks, and other non-payload types carry no
			// data block to skip past; just clear pending overrides.
			nextOverride, nextLongName = nil, ""
			continue
		}
	}

	return entries, nil
}

// IsTarFile reports whether path begins with a valid-looking, non-empty
// ustar header.
func IsTarFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, blockSize)
	n, _ := readFull(f, buf)
	if n < blockSize {
		return false
	}
	if isAllZero(buf) {
		return false
	}
	_, ok, err := parseHeader(buf)
	return err == nil && ok
}

func applyOverrides(name string, global, next map[string]string, longName string) string {
	if v, ok := global["path"]; ok {
		name = v
	}
	if longName != "" {
		name = longName
	}
	if v, ok := next["path"]; ok {
		name = v
	}
	return name
}

func readPayload(f *os.File, size int64) ([]byte, error) {
	if size < 0 || size > maxPaxPayload {
		return nil, fmt.Errorf("%w: pax/longname payload too large (%d bytes)", core.ErrArchive, size)
	}
	buf := make([]byte, size)
	if _, err := readFull(f, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrArchive, err)
	}
	return buf, skipPadding(f, size)
}

func skipPayload(f *os.File, size int64) error {
	if size <= 0 {
		return nil
	}
	if _, err := f.Seek(core.PadUp(size, blockSize), 1); err != nil {
		return fmt.Errorf("%w: %v", core.ErrArchive, err)
	}
	return nil
}

func skipPadding(f *os.File, size int64) error {
	pad := core.PadUp(size, blockSize) - size
	if pad == 0 {
		return nil
	}
	_, err := f.Seek(pad, 1)
	return err
}

func currentOffset(f *os.File) (int64, error) {
	return f.Seek(0, 1)
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// parsePax decodes "len SP key=value LF" records.
func parsePax(data []byte) (map[string]string, error) {
	kv := map[string]string{}
	for len(data) > 0 {
		sp := indexByte(data, ' ')
		if sp < 0 {
			break
		}
		reclen, err := strconv.Atoi(strings.TrimSpace(string(data[:sp])))
		if err != nil || reclen <= 0 || reclen > len(data) {
			return nil, fmt.Errorf("%w: bad pax record length", core.ErrArchive)
		}
		rec := data[sp+1 : reclen-1] // drop trailing LF
		eq := indexByte(rec, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: bad pax record", core.ErrArchive)
		}
		kv[string(rec[:eq])] = string(rec[eq+1:])
		data = data[reclen:]
	}
	return kv, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
