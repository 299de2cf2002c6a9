package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func baseOptions() options {
	return options{rebootAfterFlash: true}
}

func TestValidateRejectsGetAndSetTogether(t *testing.T) {
	o := baseOptions()
	o.pitGetOut = "out.pit"
	o.pitSetIn = "in.pit"
	require.Error(t, o.validate())
}

func TestValidateRejectsGetWithFlashFiles(t *testing.T) {
	o := baseOptions()
	o.pitGetOut = "out.pit"
	o.fileA = "ap.tar.md5"
	require.Error(t, o.validate())
}

func TestValidateRebootOnlyAloneSurvives(t *testing.T) {
	o := baseOptions()
	o.rebootOnly = true
	require.NoError(t, o.validate())
	require.True(t, o.rebootOnly)
}

func TestValidateRebootOnlyWithFlashFilesIsSilentlyCleared(t *testing.T) {
	o := baseOptions()
	o.rebootOnly = true
	o.fileB = "bl.tar.md5"
	require.NoError(t, o.validate())
	require.False(t, o.rebootOnly)
}

func TestValidateRebootOnlyWithNoRebootIsRejected(t *testing.T) {
	o := baseOptions()
	o.rebootOnly = true
	o.rebootAfterFlash = false
	require.Error(t, o.validate())
}

func TestValidateRedownloadAloneIsRejected(t *testing.T) {
	o := baseOptions()
	o.redownload = true
	require.Error(t, o.validate())
}

func TestValidateRedownloadWithFlashFilesIsAccepted(t *testing.T) {
	o := baseOptions()
	o.redownload = true
	o.fileA = "ap.tar.md5"
	require.NoError(t, o.validate())
}

func TestValidateRedownloadWithNoRebootIsRejected(t *testing.T) {
	o := baseOptions()
	o.redownload = true
	o.rebootAfterFlash = false
	o.fileA = "ap.tar.md5"
	require.Error(t, o.validate())
}

func TestValidateWirelessRequiresAnOperation(t *testing.T) {
	o := baseOptions()
	o.wireless = true
	require.Error(t, o.validate())
}

func TestValidateWirelessWithTargetIsRejected(t *testing.T) {
	o := baseOptions()
	o.wireless = true
	o.targetSysname = "1-2"
	o.fileA = "ap.tar.md5"
	require.Error(t, o.validate())
}

func TestValidatePrintPitAloneSurvives(t *testing.T) {
	o := baseOptions()
	o.printPit = true
	require.NoError(t, o.validate())
}

func TestValidatePrintPitCombinedWithFlashIsRejected(t *testing.T) {
	o := baseOptions()
	o.printPit = true
	o.fileA = "ap.tar.md5"
	require.Error(t, o.validate())
}

func TestFlashInputsOrderIsBootloaderFirst(t *testing.T) {
	o := baseOptions()
	o.fileA = "ap"
	o.fileB = "bl"
	o.fileS = "csc"
	require.Equal(t, []string{"bl", "ap", "csc"}, o.flashInputs())
}
