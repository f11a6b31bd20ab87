package lease

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lease is an advisory lock file scoped to one inverter address. It
// keeps two bridge instances from fighting over the same modbus stack
// on one host; it is not a distributed lock.
type Lease struct {
	path string
}

// Acquire takes the lease or fails if another live process holds it.
// A lock file left behind by a dead process is reclaimed.
func Acquire(dir, inverterAddr string) (*Lease, error) {
	name := "huaweibridge-" + strings.NewReplacer(":", "_", "/", "_").Replace(inverterAddr) + ".lock"
	l := &Lease{path: filepath.Join(dir, name)}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(l.path)
				return nil, fmt.Errorf("error writing lock file %s: %w", l.path, err)
			}
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("error creating lock file %s: %w", l.path, err)
		}

		pid, perr := holderPid(l.path)
		if perr == nil && pidAlive(pid) {
			return nil, fmt.Errorf("inverter %s is locked by pid %d (%s)", inverterAddr, pid, l.path)
		}
		// stale or unreadable lock, reclaim it
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("error removing stale lock file %s: %w", l.path, rerr)
		}
	}
	return nil, fmt.Errorf("could not acquire lock file %s", l.path)
}

func (l *Lease) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error releasing lock file %s: %w", l.path, err)
	}
	return nil
}

func (l *Lease) Path() string {
	return l.path
}

func holderPid(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	// EPERM means the process exists but belongs to another user
	return err == nil || errors.Is(err, syscall.EPERM)
}
