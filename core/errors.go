// Package core holds error-kind sentinels and wire helpers shared by every
// other package in the module.
package core

import "errors"

// Kind identifies which part of the system produced an error, independent of
// the specific message. Callers match with errors.Is(err, core.ErrProtocol)
// and similar, never by inspecting strings.
type Kind = error

var (
	ErrIO              Kind = errors.New("io")
	ErrDeviceGone      Kind = errors.New("device gone")
	ErrProtocol        Kind = errors.New("protocol")
	ErrPitParse        Kind = errors.New("pit parse")
	ErrArchive         Kind = errors.New("archive parse")
	ErrLz4             Kind = errors.New("lz4 parse")
	ErrMapping         Kind = errors.New("mapping")
	ErrUsage           Kind = errors.New("usage")
	ErrLock            Kind = errors.New("lock")
	ErrOperationFailed Kind = errors.New("operation failed")
)
