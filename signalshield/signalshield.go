// Package signalshield absorbs termination signals while a flash run is in
// progress, so a stray Ctrl-C from an operator's other terminal session
// cannot kill the process mid-transfer and leave a device half-flashed.
// Grounded on
// original_source/src/platform/posix-common/signal_shield.cpp.
package signalshield

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
)

var shieldedSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGTSTP,
}

// Shield drains and logs shielded signals instead of letting the process
// die or stop while active.
type Shield struct {
	ch    chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup
	log   *logrus.Logger
	count atomic.Int32
}

// Count returns how many signals have been absorbed so far.
func (s *Shield) Count() int { return int(s.count.Load()) }

// Enable starts absorbing signals immediately; call Stop to restore default
// handling once the protected work finishes.
func Enable(log *logrus.Logger) *Shield {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Shield{
		ch:   make(chan os.Signal, 8),
		done: make(chan struct{}),
		log:  log,
	}
	signal.Notify(s.ch, shieldedSignals...)
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Shield) run() {
	defer s.wg.Done()
	for {
		select {
		case sig := <-s.ch:
			n := s.count.Add(1)
			s.log.WithFields(logrus.Fields{"signal": sig.String(), "count": n}).
				Warn("signal ignored while flashing")
		case <-s.done:
			return
		}
	}
}

// Stop restores default signal handling and waits for the drain goroutine
// to exit.
func (s *Shield) Stop() {
	signal.Stop(s.ch)
	close(s.done)
	s.wg.Wait()
}
