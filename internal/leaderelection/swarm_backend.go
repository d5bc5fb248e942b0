// Package leaderelection - Docker Swarm-based singleton-guard backend
package leaderelection

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"
)

// swarmBackend implements the singleton guard using one Docker
// service label per node, holding a JSON-encoded LockRecord rather
// than the original's pair of leader-id and timestamp labels: one
// label to read, one value to decode, one place the lease and its
// age can get out of sync.
//
// This backend is suitable for:
//   - Docker Swarm deployments with no external lock store
//   - Production multi-node Docker environments
//
// How it works:
//   - Label key: lipe.agent.leader.<nodeID>, value: JSON LockRecord
//   - Leader sets/refreshes the label via a version-checked service
//     update, which Swarm's raft consensus makes atomic
//   - Standby tasks decode the label to determine leadership and
//     lease age
type swarmBackend struct {
	config       *LeaderElectorConfig
	dockerClient *client.Client
	serviceID    string
	serviceName  string
	taskID       string
	leaderLabel  string
}

func newSwarmBackend(config *LeaderElectorConfig) (*swarmBackend, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	info, err := dockerClient.Info(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get Docker info: %w", err)
	}
	if !info.Swarm.ControlAvailable {
		return nil, fmt.Errorf("not running in Docker Swarm mode or not a manager node")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	taskID := hostname
	if len(hostname) > 25 {
		taskID = hostname[:25]
	}

	taskFilter := filters.NewArgs()
	taskFilter.Add("id", taskID)
	tasks, err := dockerClient.TaskList(context.Background(), types.TaskListOptions{Filters: taskFilter})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no task found with ID: %s", taskID)
	}

	serviceID := tasks[0].ServiceID
	serviceName := tasks[0].Spec.ContainerSpec.Labels["com.docker.swarm.service.name"]
	leaderLabel := fmt.Sprintf("lipe.agent.leader.%s", config.NodeID)

	log.Printf("[LeaderElection:Swarm] using service: %s (ID: %s), task: %s", serviceName, serviceID, taskID)
	log.Printf("[LeaderElection:Swarm] leader label: %s", leaderLabel)

	return &swarmBackend{
		config:       config,
		dockerClient: dockerClient,
		serviceID:    serviceID,
		serviceName:  serviceName,
		taskID:       taskID,
		leaderLabel:  leaderLabel,
	}, nil
}

// readRecord fetches the service and decodes the leader label,
// discarding it if its lease has expired.
func (sb *swarmBackend) readRecord(ctx context.Context) (*LockRecord, swarm.Service, error) {
	service, _, err := sb.dockerClient.ServiceInspectWithRaw(ctx, sb.serviceID, types.ServiceInspectOptions{})
	if err != nil {
		return nil, swarm.Service{}, fmt.Errorf("failed to inspect service: %w", err)
	}

	raw, exists := service.Spec.Labels[sb.leaderLabel]
	if !exists {
		return nil, service, nil
	}
	record, err := decodeLockRecord([]byte(raw))
	if err != nil {
		return nil, service, fmt.Errorf("decode lock record: %w", err)
	}
	if time.Since(record.RenewedAt) > sb.config.LeaseDuration {
		log.Printf("[LeaderElection:Swarm] lease for %s expired (age: %v)", record.InstanceID, time.Since(record.RenewedAt))
		return nil, service, nil
	}
	return &record, service, nil
}

// TryAcquire sets the leader label to a freshly stamped record if no
// live lease currently exists, via a version-checked service update.
func (sb *swarmBackend) TryAcquire(ctx context.Context) (bool, error) {
	current, service, err := sb.readRecord(ctx)
	if err != nil {
		return false, err
	}
	if current != nil {
		log.Printf("[LeaderElection:Swarm] leader exists: %s (age: %v)", current.InstanceID, time.Since(current.RenewedAt))
		return false, nil
	}

	record := newLockRecord(sb.config)
	record.InstanceID = sb.taskID
	b, err := record.encode()
	if err != nil {
		return false, fmt.Errorf("encode lock record: %w", err)
	}

	if service.Spec.Labels == nil {
		service.Spec.Labels = make(map[string]string)
	}
	service.Spec.Labels[sb.leaderLabel] = string(b)

	_, err = sb.dockerClient.ServiceUpdate(ctx, sb.serviceID, service.Version, service.Spec, types.ServiceUpdateOptions{})
	if err != nil {
		log.Printf("[LeaderElection:Swarm] failed to acquire leadership: %v", err)
		return false, nil
	}

	log.Printf("[LeaderElection:Swarm] acquired leadership (task: %s, ttl: %s)", sb.taskID, sb.config.LeaseDuration)
	return true, nil
}

// Renew refreshes the record's RenewedAt timestamp, only if this
// task is still the recorded holder.
func (sb *swarmBackend) Renew(ctx context.Context) error {
	current, service, err := sb.readRecord(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.InstanceID != sb.taskID {
		return fmt.Errorf("not the current leader")
	}

	current.RenewedAt = time.Now()
	b, err := current.encode()
	if err != nil {
		return fmt.Errorf("encode lock record: %w", err)
	}
	service.Spec.Labels[sb.leaderLabel] = string(b)

	_, err = sb.dockerClient.ServiceUpdate(ctx, sb.serviceID, service.Version, service.Spec, types.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	return nil
}

// Release removes the leader label, only if this task is still the
// recorded holder.
func (sb *swarmBackend) Release(ctx context.Context) error {
	current, service, err := sb.readRecord(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		log.Println("[LeaderElection:Swarm] no leader set, nothing to release")
		return nil
	}
	if current.InstanceID != sb.taskID {
		log.Printf("[LeaderElection:Swarm] not the leader (current: %s, us: %s), nothing to release", current.InstanceID, sb.taskID)
		return nil
	}
	delete(service.Spec.Labels, sb.leaderLabel)

	_, err = sb.dockerClient.ServiceUpdate(ctx, sb.serviceID, service.Version, service.Spec, types.ServiceUpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to release leadership: %w", err)
	}
	log.Printf("[LeaderElection:Swarm] released leadership (task: %s)", sb.taskID)
	return nil
}

// GetLeader returns the current holder's task ID, or empty if none
// or expired.
func (sb *swarmBackend) GetLeader(ctx context.Context) (string, error) {
	record, _, err := sb.readRecord(ctx)
	if err != nil || record == nil {
		return "", err
	}
	return record.InstanceID, nil
}

// GetLockRecord implements recordHolder.
func (sb *swarmBackend) GetLockRecord(ctx context.Context) (*LockRecord, error) {
	record, _, err := sb.readRecord(ctx)
	return record, err
}

func (sb *swarmBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sb.Release(ctx); err != nil {
		log.Printf("[LeaderElection:Swarm] error releasing leadership: %v", err)
	}
	return sb.dockerClient.Close()
}
