package orchestrator

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// maxKillWaitTime is the grace period after the first kill signal before a
// second signal triggers a hard kill, grounded on
// pilot/util/constants.MAX_KILL_WAIT_TIME plus stager.py's extra minute of
// grace ("add another minute of grace to let threads finish").
const maxKillWaitTime = 10*time.Minute + time.Minute

// handledSignalNames is the exact signal set stager.py's run() installs handlers
// for.
var handledSignalNames = []string{"SIGINT", "SIGTERM", "SIGQUIT", "SIGSEGV", "SIGXCPU", "SIGUSR1", "SIGBUS"}

// onSignal is the Go equivalent of stager.py's interrupt(): it records the
// first signal's arrival time, escalates to a hard kill once
// maxKillWaitTime has elapsed since then, and otherwise sets GracefulStop and
// AbortJob so the three stages wind down on their own.
func (o *Orchestrator) onSignal(sig os.Signal, now time.Time) {
	o.mu.Lock()
	o.signalCounter++
	if o.killTime.IsZero() {
		o.killTime = now
	}
	killTime := o.killTime
	o.mu.Unlock()

	if now.Sub(killTime) > maxKillWaitTime {
		o.Logger.Warn("passed maximum waiting time after first kill signal — committing suicide")
		os.Exit(1)
	}

	o.Logger.Warn("caught signal, instructing threads to abort and update the server", zap.String("signal", sig.String()))
	o.AbortJob.Store(true)
	o.GracefulStop.Store(true)
}
