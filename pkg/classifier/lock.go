package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockHeld is returned when another live classifier owns the lease.
var ErrLockHeld = errors.New("classifier lock held")

// leaseRecord is the lock file payload.
type leaseRecord struct {
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquiredAt"`
}

// LeaseLock is a single-flight file lease. A lease older than
// max(60s, 3·interval) is considered abandoned and forcibly taken so a
// crashed holder never stalls classification permanently.
type LeaseLock struct {
	path     string
	interval time.Duration
}

// NewLeaseLock creates a lease over path for a classifier running at the
// given cycle interval.
func NewLeaseLock(path string, interval time.Duration) *LeaseLock {
	return &LeaseLock{path: path, interval: interval}
}

func (l *LeaseLock) staleAfter() time.Duration {
	stale := 3 * l.interval
	if stale < 60*time.Second {
		stale = 60 * time.Second
	}
	return stale
}

// Acquire takes the lease, stealing a stale one. Returns ErrLockHeld when a
// live holder exists.
func (l *LeaseLock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		return json.NewEncoder(f).Encode(leaseRecord{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Format(time.RFC3339)})
	}
	if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	body, readErr := os.ReadFile(l.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			// Holder released between our attempts; retry once.
			return l.Acquire()
		}
		return fmt.Errorf("failed to read lock file: %w", readErr)
	}

	var rec leaseRecord
	acquiredAt, parseErr := time.Time{}, json.Unmarshal(body, &rec)
	if parseErr == nil {
		acquiredAt, _ = time.Parse(time.RFC3339, rec.AcquiredAt)
	}
	if !acquiredAt.IsZero() && time.Since(acquiredAt) < l.staleAfter() {
		return ErrLockHeld
	}

	// Stale or unreadable lease: take it over in place.
	return l.rewrite()
}

func (l *LeaseLock) rewrite() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to take over stale lock: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(leaseRecord{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Format(time.RFC3339)})
}

// Release drops the lease. Missing files are fine.
func (l *LeaseLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
