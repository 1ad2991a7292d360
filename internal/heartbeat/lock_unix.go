//go:build unix

package heartbeat

import (
	"fmt"
	"os"
	"syscall"
)

// lockFile takes an advisory, cross-process exclusive flock on the store's
// file, additive to the in-process mutex (spec §9 decision #3): two pilot
// processes racing on the same heartbeat path still serialize, which sync.Mutex
// alone cannot provide. The returned unlock func must be called to release it.
func (s *Store) lockFile() (unlock func(), err error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("heartbeat: failed to acquire flock: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}
