// Package config resolves the agent's runtime configuration from flags
// and environment variables, adapted from the teacher's AgentConfig
// validate-and-default-fill pattern.
package config

import "github.com/lipeops/lipe-agent/internal/errors"

// AgentConfig holds everything the agent needs to bootstrap a session
// with the manager and host its daemon plugins.
//
// Disk-file parsing of a specific JSON configuration is an out-of-scope
// external collaborator per spec.md §1; this struct is the in-memory
// result of whatever loader (flags, env, or a config file) a caller
// chooses to use.
type AgentConfig struct {
	// FQDN is the agent's fully-qualified domain name, captured once at
	// startup and stamped on every outbound message (spec.md §4.1).
	FQDN string

	// ManagerURL is the manager's message endpoint
	// (e.g. https://manager.example.com/agent/message).
	ManagerURL string

	// APIKey authenticates the agent to the manager. TLS/crypto client
	// construction from this value is an out-of-scope external
	// collaborator per spec.md §1.
	APIKey string

	// Plugins lists the daemon plugin names to register at startup.
	// Every name here gets exactly one Empty session-registry entry.
	Plugins []string

	// DockerHost is the Docker daemon socket backing the
	// storage_service plugin's container control.
	// Default: "unix:///var/run/docker.sock"
	DockerHost string

	// StorageContainerName is the name of the node-local storage-cluster
	// container the storage_service plugin and start/stop/status
	// actions control.
	StorageContainerName string

	// StorageImage is the image used to (re)create the storage
	// container if it does not already exist.
	StorageImage string

	// InventoryPath is the local JSON file the inventory plugin reads.
	InventoryPath string

	// HeartbeatInterval is validated and defaulted but read by nothing
	// else: the core poll loop always ticks at 1Hz (spec.md §4.6) and
	// the singleton guard takes its timing from LeaderElectorConfig.
	HeartbeatInterval int // seconds

	// ReconnectBackoff is validated and defaulted but read by nothing
	// else: the Reader retries a failed GET after a fixed delay
	// (spec.md §4.5), and the singleton guard uses its own RetryPeriod.
	ReconnectBackoff []int // seconds
}

// Validate applies required-field checks and default-fills the rest,
// exactly mirroring the teacher's AgentConfig.Validate.
func (c *AgentConfig) Validate() error {
	if c.FQDN == "" {
		return errors.ErrMissingFQDN
	}

	if c.ManagerURL == "" {
		return errors.ErrMissingManagerURL
	}

	if c.APIKey == "" {
		return errors.ErrMissingAPIKey
	}

	if len(c.Plugins) == 0 {
		c.Plugins = []string{"action_runner", "inventory", "storage_service"}
	}

	if c.DockerHost == "" {
		c.DockerHost = "unix:///var/run/docker.sock"
	}

	if c.StorageContainerName == "" {
		c.StorageContainerName = "lipe-storage-service"
	}

	if c.StorageImage == "" {
		c.StorageImage = "lipe/storage-service:latest"
	}

	if c.InventoryPath == "" {
		c.InventoryPath = "/var/lib/lipe-agent/inventory.json"
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10
	}

	if len(c.ReconnectBackoff) == 0 {
		c.ReconnectBackoff = []int{2, 4, 8, 16, 32}
	}

	return nil
}
