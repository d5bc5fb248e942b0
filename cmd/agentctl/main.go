// Command agentctl is the lipe-agent operator CLI.
//
// Sub-commands:
//
//	start   acquire the singleton lock and exec the agent binary
//	stop    signal the process recorded in the lock file
//	status  exit 0 if the lock is held, 1 otherwise
//	groups  print the node's local inventory groups directly, without
//	        going through the manager protocol
//
// start and status use one file-backend lock (LOCK_FILE_PATH, default
// /var/run/lipe-agent/agentctl.lock) that start holds for the agent's
// lifetime, turning the "check status then start" race spec.md §9
// flags into a single atomic flock acquisition.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/lipeops/lipe-agent/internal/inventory"
	"github.com/lipeops/lipe-agent/internal/leaderelection"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	lockPath := getEnvOrDefault("LOCK_FILE_PATH", "/var/run/lipe-agent/agentctl.lock")
	inventoryPath := getEnvOrDefault("INVENTORY_PATH", "/var/lib/lipe-agent/inventory.json")

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:], lockPath)
	case "stop":
		cmdStop(lockPath)
	case "status":
		cmdStatus(lockPath)
	case "groups":
		cmdGroups(inventoryPath)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentctl <start|stop|status|groups> [agent flags...]")
}

// cmdStart acquires the singleton lock and execs the agent binary with
// the remaining arguments forwarded unchanged. If the lock is already
// held, it reports that instead of racing a separate status check.
func cmdStart(agentArgs []string, lockPath string) {
	le, acquired, err := tryAcquire(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
	if !acquired {
		fmt.Println("agentctl: agent already running (lock held)")
		os.Exit(1)
	}
	defer le.Release(context.Background())

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
	agentPath := getEnvOrDefault("AGENT_BIN", self)

	cmd := exec.Command(agentPath, agentArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: agent exited: %v\n", err)
		os.Exit(1)
	}
}

// cmdStop signals the process recorded in the lock file's pid with
// SIGTERM, then waits briefly for the lock to be released.
func cmdStop(lockPath string) {
	record, err := leaderelection.ReadLockRecord(lockPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
	if record == nil {
		fmt.Println("agentctl: no lock held, nothing to stop")
		return
	}

	proc, err := os.FindProcess(record.PID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: failed to signal pid %d: %v\n", record.PID, err)
		os.Exit(1)
	}
	fmt.Printf("agentctl: sent SIGTERM to pid %d (instance %s)\n", record.PID, record.InstanceID)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if current, _ := leaderelection.ReadLockRecord(lockPath); current == nil {
			fmt.Println("agentctl: stopped")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("agentctl: signal sent, but lock is still held after 5s")
}

// cmdStatus exits 0 if the singleton lock is held (an agent is running
// for this node identity), 1 otherwise.
func cmdStatus(lockPath string) {
	if lockExists(lockPath) {
		fmt.Println("agentctl: running")
		return
	}
	fmt.Println("agentctl: not running")
	os.Exit(1)
}

// cmdGroups prints the node's inventory groups as JSON, for operator
// convenience without a manager round-trip.
func cmdGroups(inventoryPath string) {
	fs := flag.NewFlagSet("groups", flag.ExitOnError)
	path := fs.String("inventory-path", inventoryPath, "local inventory JSON file")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	groups, err := inventory.NewReader(*path).Groups(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(groups); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}
}

// tryAcquire attempts the file-backend singleton lock once, non-blocking.
func tryAcquire(lockPath string) (*leaderelection.LeaderElector, bool, error) {
	cfg := leaderelection.DefaultConfig("agentctl", leaderelection.BackendFile)
	cfg.LockFilePath = lockPath

	le, err := leaderelection.NewLeaderElector(cfg)
	if err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	acquired, err := le.TryAcquireOnce(ctx)
	if err != nil {
		return nil, false, err
	}
	return le, acquired, nil
}

// lockExists reports whether lockPath currently exists and is
// exclusively locked by a live process, by attempting a non-blocking
// acquire and immediately releasing it if that succeeds.
func lockExists(lockPath string) bool {
	if _, err := os.Stat(lockPath); err != nil {
		return false
	}
	cfg := leaderelection.DefaultConfig("agentctl", leaderelection.BackendFile)
	cfg.LockFilePath = lockPath

	le, err := leaderelection.NewLeaderElector(cfg)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	acquired, err := le.TryAcquireOnce(ctx)
	if err != nil {
		return false
	}
	if acquired {
		// We could acquire it ourselves: nothing else was holding it.
		le.Release(context.Background())
		return false
	}
	return true
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
