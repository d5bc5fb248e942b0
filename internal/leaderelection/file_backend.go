// Package leaderelection - file-based singleton-guard backend
package leaderelection

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// fileBackend implements the singleton guard using an flock'd lock
// file whose contents are a JSON-encoded LockRecord, not a bare
// instance-ID string: the holder's node identity and PID round-trip
// through the file so a separate process (cmd/agentctl) can act on
// them without re-deriving anything.
//
// This backend is suitable for:
//   - Single-host deployments (all replicas on the same machine)
//   - The agentctl start/status race (spec.md §9), since agentctl's
//     start and status sub-commands use the same lock path
//   - Development and testing
//
// Limitations:
//   - Unix-like systems only (flock)
//   - All contending processes must be on the same host
//   - The lock file must live on a local filesystem, not NFS
type fileBackend struct {
	config   *LeaderElectorConfig
	lockFile *os.File
	lockPath string
}

func newFileBackend(config *LeaderElectorConfig) (*fileBackend, error) {
	lockPath := config.LockFilePath
	if lockPath == "" {
		return nil, fmt.Errorf("lock file path is required for file backend")
	}

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	log.Printf("[LeaderElection:File] using lock file: %s", lockPath)

	return &fileBackend{config: config, lockPath: lockPath}, nil
}

// TryAcquire attempts to acquire the flock and, on success, stamps a
// fresh LockRecord into the file.
func (fb *fileBackend) TryAcquire(ctx context.Context) (bool, error) {
	file, err := os.OpenFile(fb.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock error: %w", err)
	}

	fb.lockFile = file
	record := newLockRecord(fb.config)
	if err := fb.writeRecord(record); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		fb.lockFile = nil
		return false, err
	}

	log.Printf("[LeaderElection:File] acquired lock %s for node %s (pid %d)",
		fb.lockPath, record.NodeID, record.PID)
	return true, nil
}

// Renew refreshes the record's RenewedAt timestamp. The flock itself
// needs no renewal: it's held until explicitly released or the
// process exits.
func (fb *fileBackend) Renew(ctx context.Context) error {
	if fb.lockFile == nil {
		return fmt.Errorf("not holding lock")
	}

	record, err := fb.readRecordLocked()
	if err != nil {
		record = newLockRecord(fb.config)
	}
	record.RenewedAt = time.Now()
	record.PID = os.Getpid()
	return fb.writeRecord(record)
}

// Release drops the flock and clears the file.
func (fb *fileBackend) Release(ctx context.Context) error {
	if fb.lockFile == nil {
		return nil
	}

	if err := fb.lockFile.Truncate(0); err != nil {
		log.Printf("[LeaderElection:File] error clearing lock file: %v", err)
	}
	if err := syscall.Flock(int(fb.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		log.Printf("[LeaderElection:File] error releasing lock: %v", err)
	}
	if err := fb.lockFile.Close(); err != nil {
		log.Printf("[LeaderElection:File] error closing lock file: %v", err)
	}

	fb.lockFile = nil
	log.Printf("[LeaderElection:File] released lock: %s", fb.lockPath)
	return nil
}

// GetLeader returns the current holder's instance ID, read from disk
// rather than from in-memory state, so a process that never itself
// held the lock can still query it (as cmd/agentctl does).
func (fb *fileBackend) GetLeader(ctx context.Context) (string, error) {
	record, err := ReadLockRecord(fb.lockPath)
	if err != nil || record == nil {
		return "", err
	}
	return record.InstanceID, nil
}

// GetLockRecord implements recordHolder.
func (fb *fileBackend) GetLockRecord(ctx context.Context) (*LockRecord, error) {
	return ReadLockRecord(fb.lockPath)
}

func (fb *fileBackend) Close() error {
	return fb.Release(context.Background())
}

func (fb *fileBackend) writeRecord(record LockRecord) error {
	b, err := record.encode()
	if err != nil {
		return fmt.Errorf("encode lock record: %w", err)
	}
	if _, err := fb.lockFile.Seek(0, 0); err != nil {
		return err
	}
	if err := fb.lockFile.Truncate(0); err != nil {
		return err
	}
	if _, err := fb.lockFile.Write(b); err != nil {
		return err
	}
	return fb.lockFile.Sync()
}

func (fb *fileBackend) readRecordLocked() (LockRecord, error) {
	if _, err := fb.lockFile.Seek(0, 0); err != nil {
		return LockRecord{}, err
	}
	b, err := os.ReadFile(fb.lockFile.Name())
	if err != nil {
		return LockRecord{}, err
	}
	return decodeLockRecord(b)
}

// ReadLockRecord reads and decodes the LockRecord at path without
// acquiring anything, for read-only callers like cmd/agentctl's
// "stop" sub-command. Returns (nil, nil) if no lock file exists yet
// or the file is empty.
func ReadLockRecord(path string) (*LockRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	record, err := decodeLockRecord(b)
	if err != nil {
		return nil, fmt.Errorf("decode lock record: %w", err)
	}
	return &record, nil
}
