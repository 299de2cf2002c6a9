// Package md5verify checks the trailing MD5 digest Samsung's packaging tool
// appends to .tar.md5 firmware archives, before any device I/O begins.
// Grounded on original_source/src/app/md5_verify.cpp.
package md5verify

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"github.com/gabriel2392/brokkr/core"
	"github.com/gabriel2392/brokkr/prefetch"
	"github.com/sirupsen/logrus"
)

const (
	trailerMaxBytes = 16 * 1024
	md5HexChars     = 32
	hashChunkBytes  = 8 * 1024 * 1024
)

// Job is one file queued for MD5 verification: the byte range to hash and
// the digest it must match.
type Job struct {
	Path        string
	BytesToHash int64
	Expected    [md5.Size]byte
}

// DetectJob scans path's trailing bytes for the "<32 hex chars><sp><sp>"
// marker the packaging tool appends. ok is false if no marker is found
// (path is not an MD5-trailered archive).
func DetectJob(path string) (job Job, ok bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return Job{}, false, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	fileSize := info.Size()
	if fileSize < md5HexChars+2 {
		return Job{}, false, nil
	}

	tailOff := int64(0)
	if fileSize > trailerMaxBytes {
		tailOff = fileSize - trailerMaxBytes
	}
	tailLen := fileSize - tailOff

	f, err := os.Open(path)
	if err != nil {
		return Job{}, false, fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer f.Close()

	tail := make([]byte, tailLen)
	if _, err := f.ReadAt(tail, tailOff); err != nil {
		return Job{}, false, fmt.Errorf("%w: reading trailer of %s: %v", core.ErrIO, path, err)
	}

	delim := -1
	for i := len(tail) - 2; i >= 0; i-- {
		if tail[i] != ' ' || tail[i+1] != ' ' {
			continue
		}
		start := i - md5HexChars
		if start < 0 {
			continue
		}
		if isHexRun(tail[start:i]) {
			delim = i
			break
		}
	}
	if delim < 0 {
		return Job{}, false, nil
	}

	var expected [md5.Size]byte
	if _, err := hex.Decode(expected[:], tail[delim-md5HexChars:delim]); err != nil {
		return Job{}, false, nil
	}

	bytesToHash := tailOff + int64(delim-md5HexChars)
	if fileSize-bytesToHash > trailerMaxBytes {
		return Job{}, false, fmt.Errorf("%w: MD5 trailer too large: %s", core.ErrUsage, path)
	}

	return Job{Path: path, BytesToHash: bytesToHash, Expected: expected}, true, nil
}

func isHexRun(b []byte) bool {
	for _, c := range b {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// DetectJobs runs DetectJob over every tar-looking input, skipping files
// with no trailer.
func DetectJobs(paths []string, isTar func(string) bool) ([]Job, error) {
	var jobs []Job
	for _, p := range paths {
		if !isTar(p) {
			continue
		}
		job, ok, err := DetectJob(p)
		if err != nil {
			return nil, err
		}
		if ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// VerifyAll hashes every job's byte range and compares it to the expected
// digest, one goroutine per job with no cap on how many run at once,
// failing the whole batch on the first mismatch or I/O error.
func VerifyAll(jobs []Job, log *logrus.Logger) error {
	if len(jobs) == 0 {
		return nil
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	var total int64
	for _, j := range jobs {
		total += j.BytesToHash
	}
	log.WithFields(logrus.Fields{"jobs": len(jobs), "bytes": total}).Info("checking package checksums")

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for i, j := range jobs {
		i, j := i, j
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = verifyOne(j)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	log.Info("MD5 OK")
	return nil
}

func verifyOne(j Job) error {
	f, err := os.Open(j.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	defer f.Close()

	h := md5.New()
	remaining := j.BytesToHash

	pf := prefetch.New[[]byte](func(idx int, slot *[]byte) (bool, error) {
		if remaining <= 0 {
			return false, nil
		}
		want := int64(hashChunkBytes)
		if remaining < want {
			want = remaining
		}
		buf := make([]byte, want)
		if _, err := readFull(f, buf); err != nil {
			return false, fmt.Errorf("%w: short read while hashing %s: %v", core.ErrIO, j.Path, err)
		}
		*slot = buf
		remaining -= want
		return true, nil
	})

	var processed int64
	for {
		lease, err := pf.Next()
		if err != nil {
			return err
		}
		if lease == nil {
			break
		}
		h.Write(*lease.Slot)
		processed += int64(len(*lease.Slot))
		lease.Release()
	}

	if processed != j.BytesToHash {
		return fmt.Errorf("%w: MD5 hashing terminated early for %s (processed %d, expected %d)", core.ErrIO, j.Path, processed, j.BytesToHash)
	}

	var got [md5.Size]byte
	copy(got[:], h.Sum(nil))
	if got != j.Expected {
		return fmt.Errorf("%w: MD5 mismatch: %s (expected %s, got %s)", core.ErrArchive, j.Path, hex.EncodeToString(j.Expected[:]), hex.EncodeToString(got[:]))
	}
	return nil
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
