package archive

import (
	"strconv"
	"strings"
)

type ustarHeader struct {
	name     string
	size     int64
	typeFlag byte
	linkName string
}

// parseHeader decodes one 512-byte ustar header block, validating the
// checksum both as signed and unsigned bytes (some writers compute one, some
// the other) and accepting either.
func parseHeader(block []byte) (ustarHeader, bool, error) {
	const (
		offName     = 0
		lenName     = 100
		offSize     = 124
		lenSize     = 12
		offChecksum = 148
		lenChecksum = 8
		offTypeFlag = 156
		offLinkName = 157
		lenLinkName = 100
		offMagic    = 257
		offPrefix   = 345
		lenPrefix   = 155
	)

	if !validChecksum(block, offChecksum, lenChecksum) {
		return ustarHeader{}, false, nil
	}

	size, err := parseTarNumber(block[offSize : offSize+lenSize])
	if err != nil {
		return ustarHeader{}, false, err
	}

	name := cstr(block[offName : offName+lenName])
	if string(block[offMagic:offMagic+5]) == "ustar" {
		prefix := cstr(block[offPrefix : offPrefix+lenPrefix])
		if prefix != "" {
			name = prefix + "/" + name
		}
	}

	return ustarHeader{
		name:     name,
		size:     size,
		typeFlag: block[offTypeFlag],
		linkName: cstr(block[offLinkName : offLinkName+lenLinkName]),
	}, true, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// validChecksum recomputes the header checksum treating the checksum field
// itself as eight ASCII spaces, and accepts the header if either the signed
// or unsigned byte sum matches the stored octal value.
func validChecksum(block []byte, off, n int) bool {
	stored, err := strconv.ParseInt(strings.TrimSpace(strings.Trim(cstr(block[off:off+n]), " ")), 8, 64)
	if err != nil {
		return false
	}
	var unsigned int64
	var signed int64
	for i, b := range block {
		v := b
		if i >= off && i < off+n {
			v = ' '
		}
		unsigned += int64(v)
		signed += int64(int8(v))
	}
	return unsigned == stored || signed == stored
}

// parseTarNumber parses a ustar numeric field: plain octal ASCII, or, when
// the high bit of the first byte is set, a big-endian base-256 extension.
//
// The base-256 path reproduces original_source's sign handling verbatim,
// including its rejection of values where bit 0x40 of the first byte is also
// set — that bit pattern is a valid positive base-256 encoding, not a
// negative one, but the source treats it as a "negative" value and rejects
// it. Retained rather than corrected (SPEC_FULL.md §9).
func parseTarNumber(field []byte) (int64, error) {
	if len(field) == 0 {
		return 0, nil
	}
	if field[0]&0x80 != 0 {
		if field[0]&0x40 != 0 {
			return 0, errBadTarNumber
		}
		var v int64
		first := field[0] & 0x7F
		v = int64(first)
		for _, b := range field[1:] {
			v = v<<8 | int64(b)
		}
		return v, nil
	}
	s := strings.TrimRight(strings.TrimSpace(cstr(field)), "\x00 ")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 8, 64)
}

var errBadTarNumber = &tarNumberError{}

type tarNumberError struct{}

func (*tarNumberError) Error() string { return "bad base-256 tar number field" }
