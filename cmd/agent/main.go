// Command agent implements the lipe storage-cluster node agent.
//
// The agent is a standalone binary that runs on a storage-cluster node
// and connects TO the manager via long-poll HTTP. It receives session
// creation and data from the manager and dispatches them to daemon
// plugins hosted in-process (action_runner, inventory,
// storage_service).
//
// Command-line flags:
//
//	--fqdn: this node's fully-qualified domain name (e.g. node-1.cluster.example.com)
//	--manager-url: manager message endpoint (e.g. https://manager.example.com/agent/message)
//	--api-key: manager API key
//	--docker-host: Docker daemon socket (default: unix:///var/run/docker.sock)
//	--storage-container: storage-service container name
//	--storage-image: storage-service container image
//	--inventory-path: local inventory JSON file path
//	--enable-ha: enable the singleton guard (leader election) before polling
//	--leader-election-backend: backend for the singleton guard (file, redis, swarm)
//	--lock-file-path: lock file path for the file backend
//	--redis-url: Redis URL for the redis backend
//
// Environment variables (alternative to flags): FQDN, MANAGER_URL,
// API_KEY, DOCKER_HOST, STORAGE_CONTAINER, STORAGE_IMAGE,
// INVENTORY_PATH, ENABLE_HA, LEADER_ELECTION_BACKEND, LOCK_FILE_PATH,
// REDIS_URL.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/redis/go-redis/v9"

	"github.com/lipeops/lipe-agent/internal/actionrunner"
	"github.com/lipeops/lipe-agent/internal/actions"
	"github.com/lipeops/lipe-agent/internal/config"
	invpkg "github.com/lipeops/lipe-agent/internal/inventory"
	"github.com/lipeops/lipe-agent/internal/leaderelection"
	"github.com/lipeops/lipe-agent/internal/plugin"
	invplugin "github.com/lipeops/lipe-agent/internal/plugins/inventory"
	svcplugin "github.com/lipeops/lipe-agent/internal/plugins/storageservice"
	"github.com/lipeops/lipe-agent/internal/poller"
	"github.com/lipeops/lipe-agent/internal/reader"
	"github.com/lipeops/lipe-agent/internal/session"
	"github.com/lipeops/lipe-agent/internal/storagectl"
	"github.com/lipeops/lipe-agent/internal/transport"
)

// agent bundles the core loops started once the process has decided it
// is allowed to poll (either standalone, or as the singleton-guard
// leader), grounded on the teacher's DockerAgent.Run/WaitForShutdown
// split between "start the loops" and "wait for the stop signal".
type agent struct {
	poller *poller.Poller
	reader *reader.Reader
	cancel context.CancelFunc
}

func buildAgent(cfg *config.AgentConfig) (*agent, error) {
	dockerClient, err := client.NewClientWithOpts(
		client.WithHost(cfg.DockerHost),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, err
	}

	ctl := storagectl.New(dockerClient, cfg.StorageContainerName)
	invReader := invpkg.NewReader(cfg.InventoryPath)

	plugins := plugin.NewRegistry()
	plugins.Register("action_runner", func() plugin.DaemonPlugin {
		return actionrunner.New(actions.Catalog(actions.Deps{
			Storage:      ctl,
			Inventory:    invReader,
			StorageImage: cfg.StorageImage,
		}))
	})
	plugins.Register("inventory", invplugin.Factory(cfg.InventoryPath))
	plugins.Register("storage_service", svcplugin.Factory(ctl))

	registry := session.NewRegistry(cfg.Plugins)

	endpoint, err := url.Parse(cfg.ManagerURL)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	bootTime := strconv.FormatInt(time.Now().Unix(), 10)
	txClient := transport.New(httpClient, endpoint, cfg.FQDN, bootTime, bootTime)

	return &agent{
		poller: poller.New(txClient, registry),
		reader: reader.New(txClient, registry, plugins),
	}, nil
}

func (a *agent) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.poller.Run(ctx)
	go a.reader.Run(ctx)
	<-ctx.Done()
}

func (a *agent) stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func main() {
	fqdn := flag.String("fqdn", os.Getenv("FQDN"), "node FQDN")
	managerURL := flag.String("manager-url", os.Getenv("MANAGER_URL"), "manager message endpoint")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "manager API key")
	dockerHost := flag.String("docker-host", getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock"), "Docker daemon socket")
	storageContainer := flag.String("storage-container", getEnvOrDefault("STORAGE_CONTAINER", "lipe-storage-service"), "storage-service container name")
	storageImage := flag.String("storage-image", getEnvOrDefault("STORAGE_IMAGE", "lipe/storage-service:latest"), "storage-service container image")
	inventoryPath := flag.String("inventory-path", getEnvOrDefault("INVENTORY_PATH", "/var/lib/lipe-agent/inventory.json"), "local inventory JSON file")

	enableHA := flag.Bool("enable-ha", getEnvOrDefault("ENABLE_HA", "false") == "true", "enable the singleton guard before polling")
	leaderBackend := flag.String("leader-election-backend", getEnvOrDefault("LEADER_ELECTION_BACKEND", "file"), "singleton guard backend (file, redis, swarm)")
	lockFilePath := flag.String("lock-file-path", os.Getenv("LOCK_FILE_PATH"), "lock file path for the file backend")
	redisURL := flag.String("redis-url", os.Getenv("REDIS_URL"), "Redis URL for the redis backend")

	flag.Parse()

	cfg := &config.AgentConfig{
		FQDN:                 *fqdn,
		ManagerURL:           *managerURL,
		APIKey:               *apiKey,
		DockerHost:           *dockerHost,
		StorageContainerName: *storageContainer,
		StorageImage:         *storageImage,
		InventoryPath:        *inventoryPath,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	a, err := buildAgent(cfg)
	if err != nil {
		log.Fatalf("failed to build agent: %v", err)
	}

	if *enableHA {
		backend := leaderelection.Backend(*leaderBackend)
		var redisClient *redis.Client
		if backend == leaderelection.BackendRedis {
			if *redisURL == "" {
				log.Fatal("--redis-url is required for the redis backend")
			}
			opt, err := redis.ParseURL(*redisURL)
			if err != nil {
				log.Fatalf("invalid redis url: %v", err)
			}
			redisClient = redis.NewClient(opt)
		}

		leConfig := leaderelection.DefaultConfig(cfg.FQDN, backend)
		leConfig.RedisClient = redisClient
		if *lockFilePath != "" {
			leConfig.LockFilePath = *lockFilePath
		}

		runWithSingletonGuard(a, leConfig)
		return
	}

	runStandalone(a)
}

// runStandalone runs the agent's loops directly until a termination
// signal arrives.
func runStandalone(a *agent) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.run(ctx)
	waitForShutdown()
	a.stop()
}

// runWithSingletonGuard runs the elector's retry loop and only starts
// the agent's loops (from the onBecomeLeader callback) once this process
// wins the singleton lock; a non-leader keeps retrying and never polls,
// per SPEC_FULL.md's Ambient: Singleton/HA guard.
func runWithSingletonGuard(a *agent, leConfig *leaderelection.LeaderElectorConfig) {
	elector, err := leaderelection.NewLeaderElector(leConfig)
	if err != nil {
		log.Fatalf("failed to create singleton guard: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	onBecomeLeader := func() {
		log.Println("[agent] acquired singleton guard, starting loops")
		go a.run(ctx)
	}
	onLoseLeadership := func() {
		log.Println("[agent] lost singleton guard, stopping loops")
		a.stop()
	}

	go func() {
		if err := elector.Run(ctx, onBecomeLeader, onLoseLeadership); err != nil {
			log.Printf("[agent] singleton guard error: %v", err)
		}
	}()

	waitForShutdown()
	cancel()
	a.stop()
	time.Sleep(200 * time.Millisecond)
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("[agent] received signal: %v", sig)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
