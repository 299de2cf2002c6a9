package signalshield

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShieldAbsorbsSignal(t *testing.T) {
	s := Enable(nil)
	defer s.Stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))

	require.Eventually(t, func() bool {
		return s.Count() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopAfterEnableReturns(t *testing.T) {
	s := Enable(nil)
	s.Stop()
}
