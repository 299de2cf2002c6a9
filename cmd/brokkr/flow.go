package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gabriel2392/brokkr/archive"
	"github.com/gabriel2392/brokkr/coordinator"
	"github.com/gabriel2392/brokkr/md5verify"
	"github.com/gabriel2392/brokkr/odin"
	"github.com/gabriel2392/brokkr/pit"
	"github.com/gabriel2392/brokkr/plan"
	"github.com/sirupsen/logrus"
)

// finalShutdownMode resolves the CLOSE sequence a run ends with, per
// cli.cpp's precedence: --redownload wins, then --reboot (the default unless
// --no-reboot cleared it).
func finalShutdownMode(o *options) odin.ShutdownMode {
	switch {
	case o.redownload:
		return odin.ReDownload
	case o.rebootAfterFlash:
		return odin.Reboot
	default:
		return odin.NoReboot
	}
}

// runFlow drives an already-connected set of targets through the stage
// sequence SPEC_FULL.md §4.8.1 describes, for whichever intent o selects.
// Targets are expected to be freshly opened and unclaimed protocol-wise;
// runFlow does not close them.
func runFlow(targets []*coordinator.Target, o *options, log *logrus.Logger) (exitCode, error) {
	for _, t := range targets {
		t.Cmds.T.SetTimeout(preflashTimeout)
		t.Cmds.Retries = preflashRetries
	}

	co := &coordinator.Coordinator{Targets: targets, Log: log}
	co.HandshakeAndVersion()

	shutdownMode := finalShutdownMode(o)

	if o.rebootOnly {
		co.Shutdown(shutdownMode)
		return flowResult(co)
	}

	co.NegotiatePacketSize()

	var uploadPit []byte
	if o.pitSetIn != "" {
		b, err := os.ReadFile(o.pitSetIn)
		if err != nil {
			return exitIOFail, fmt.Errorf("reading %s: %w", o.pitSetIn, err)
		}
		uploadPit = b
	}

	if o.pitGetOut != "" {
		return downloadPitToFile(targets[0], o.pitGetOut, co, shutdownMode)
	}

	if uploadPit != nil && !o.anyFlashFile() {
		if err := uploadPitToAll(targets, uploadPit, log); err != nil {
			return exitIOFail, err
		}
		co.Shutdown(shutdownMode)
		return flowResult(co)
	}

	if o.printPit {
		tb, err := odin.DownloadPitTable(targets[0].Cmds)
		if err != nil {
			return exitIOFail, err
		}
		printPitTable(log, tb)
		co.Shutdown(shutdownMode)
		return flowResult(co)
	}

	if !o.anyFlashFile() {
		return exitInvalidUsage, fmt.Errorf("no flash inputs given")
	}

	inputs := o.flashInputs()

	jobs, err := md5verify.DetectJobs(inputs, archive.IsTarFile)
	if err != nil {
		return exitIOFail, err
	}
	if err := md5verify.VerifyAll(jobs, log); err != nil {
		return exitIOFail, err
	}

	specs, err := plan.ExpandInputs(inputs)
	if err != nil {
		return exitIOFail, err
	}

	if uploadPit == nil {
		if embedded, ok := pitFromSpecs(specs); ok {
			uploadPit = embedded
		}
	}
	if uploadPit != nil {
		if err := uploadPitToAll(targets, uploadPit, log); err != nil {
			return exitIOFail, err
		}
	}

	flashSpecs := dropPitSpecs(specs)
	if len(flashSpecs) == 0 {
		return exitNoFlashFiles, fmt.Errorf("no flashable images among the given inputs")
	}

	tables, err := downloadAllPits(targets, log)
	if err != nil {
		return exitIOFail, err
	}
	if err := checkCpuBlIDConsistency(targets, tables); err != nil {
		return exitIOFail, err
	}

	common, refTable, err := commonMapping(targets, tables, flashSpecs)
	if err != nil {
		return exitIOFail, err
	}

	items, err := plan.MapToPit(refTable, common)
	if err != nil {
		return exitNoFlashFiles, err
	}

	co.Plan = items
	co.SendTotalSize()

	for _, t := range targets {
		t.Cmds.T.SetTimeout(flashTimeout)
		t.Cmds.Retries = flashRetries
	}

	if err := co.RunFlash(); err != nil {
		return exitIOFail, err
	}

	for _, t := range targets {
		t.Cmds.T.SetTimeout(preflashTimeout)
		t.Cmds.Retries = preflashRetries
	}
	co.Shutdown(shutdownMode)
	return flowResult(co)
}

func flowResult(co *coordinator.Coordinator) (exitCode, error) {
	if err := co.FirstError(); err != nil {
		return exitIOFail, err
	}
	return exitSuccess, nil
}

func downloadPitToFile(t *coordinator.Target, path string, co *coordinator.Coordinator, mode odin.ShutdownMode) (exitCode, error) {
	data, err := odin.DownloadPitBytes(t.Cmds)
	if err != nil {
		return exitIOFail, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return exitIOFail, fmt.Errorf("writing %s: %w", path, err)
	}
	co.Shutdown(mode)
	return flowResult(co)
}

// uploadPitToAll sends a raw PIT blob to every alive target concurrently,
// marking any target that rejects it dead rather than aborting the rest.
func uploadPitToAll(targets []*coordinator.Target, data []byte, log *logrus.Logger) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, t := range targets {
		if t.IsDead() {
			continue
		}
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.Cmds.SetPit(data); err != nil {
				t.MarkDead()
				log.WithField("device", t.Label).WithError(err).Error("pit upload failed")
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// downloadAllPits retrieves and parses each alive target's PIT, marking any
// target whose download or parse fails dead.
func downloadAllPits(targets []*coordinator.Target, log *logrus.Logger) ([]pit.Table, error) {
	tables := make([]pit.Table, len(targets))
	for i, t := range targets {
		if t.IsDead() {
			continue
		}
		tb, err := odin.DownloadPitTable(t.Cmds)
		if err != nil {
			t.MarkDead()
			log.WithField("device", t.Label).WithError(err).Error("pit download failed")
			continue
		}
		t.Pit = tb
		tables[i] = tb
	}
	return tables, nil
}

// checkCpuBlIDConsistency enforces SPEC_FULL.md §4.8.3: every alive device
// must agree on its PIT's bootloader family, or the whole group aborts.
func checkCpuBlIDConsistency(targets []*coordinator.Target, tables []pit.Table) error {
	var first int32
	have := false
	for i, t := range targets {
		if t.IsDead() {
			continue
		}
		if !have {
			first = tables[i].CpuBlID
			have = true
			continue
		}
		if tables[i].CpuBlID != first {
			return fmt.Errorf("devices disagree on cpu_bl_id (%d vs %d), aborting group", first, tables[i].CpuBlID)
		}
	}
	if !have {
		return fmt.Errorf("no device survived pit download")
	}
	return nil
}

// commonMapping builds each alive device's view of spec->partition mapping
// and reduces specs down to those every device agrees on, returning the
// first alive device's table to resolve the final plan against.
func commonMapping(targets []*coordinator.Target, tables []pit.Table, specs []plan.ImageSpec) ([]plan.ImageSpec, pit.Table, error) {
	var mappings []plan.DeviceMapping
	var refTable pit.Table
	haveRef := false
	for i, t := range targets {
		if t.IsDead() {
			continue
		}
		if !haveRef {
			refTable = tables[i]
			haveRef = true
		}
		dm := plan.DeviceMapping{}
		for _, spec := range specs {
			if part, ok := tables[i].FindByFileName(spec.Basename); ok {
				dm[spec.Basename] = [2]int32{part.ID, part.DevType}
			}
		}
		mappings = append(mappings, dm)
	}
	common, err := plan.SourcesCommonMapping(mappings, specs)
	if err != nil {
		return nil, pit.Table{}, err
	}
	return common, refTable, nil
}

// pitFromSpecs looks for a raw .pit file among the expanded specs (the
// original's pit_from_specs fallback for archives that bundle a PIT instead
// of relying on --set); it does not download one from the device.
func pitFromSpecs(specs []plan.ImageSpec) ([]byte, bool) {
	for _, s := range specs {
		if !strings.EqualFold(pathExt(s.Basename), ".pit") {
			continue
		}
		src, err := s.Open()
		if err != nil {
			continue
		}
		defer src.Close()
		buf := make([]byte, s.Size)
		if _, err := readAllFrom(src, buf); err != nil {
			continue
		}
		return buf, true
	}
	return nil, false
}

// dropPitSpecs removes .pit entries from the flash plan: a PIT is uploaded
// through SetPit, never flashed as a partition image.
func dropPitSpecs(specs []plan.ImageSpec) []plan.ImageSpec {
	out := make([]plan.ImageSpec, 0, len(specs))
	for _, s := range specs {
		if strings.EqualFold(pathExt(s.Basename), ".pit") {
			continue
		}
		out = append(out, s)
	}
	return out
}

func pathExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}

func readAllFrom(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if total == len(buf) {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}
