// Package registry is the worker's client for the shared Redis registry: the
// node record and heartbeat, the per-node task and control queues, and the
// advisory node ranking consumed by the coordinator.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cnyy99/giggle/internal/config"
	"github.com/cnyy99/giggle/internal/store"
	"github.com/cnyy99/giggle/internal/sysinfo"
	"github.com/cnyy99/giggle/internal/task"
)

// Registry key layout. All per-node keys embed the node id, so ids must be
// unique across the fleet.
const (
	nodeKeyPrefix         = "worker_nodes:"
	taskQueueKeyPrefix    = "task_queue:"
	controlQueueKeyPrefix = "control_queue:"
	activeNodesKey        = "active_nodes"
	nodeRankingsKey       = "node_rankings"
)

// heartbeatRetryDelay is how long the heartbeat loop backs off after a
// failed write before trying again.
const heartbeatRetryDelay = 5 * time.Second

// NodeStatus is the node lifecycle state published in the node record.
// Transitions are one-way: ONLINE → SHUTTING_DOWN → OFFLINE.
type NodeStatus int32

const (
	StatusOnline NodeStatus = iota
	StatusShuttingDown
	StatusOffline
)

// String projects the status to its registry form.
func (s NodeStatus) String() string {
	switch s {
	case StatusOnline:
		return "ONLINE"
	case StatusShuttingDown:
		return "SHUTTING_DOWN"
	case StatusOffline:
		return "OFFLINE"
	default:
		return fmt.Sprintf("NodeStatus(%d)", int32(s))
	}
}

// RedisClient is the subset of go-redis commands the registry client issues.
// *redis.Client satisfies this interface.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Store is the slice of the persistent store the registry client needs: task
// claiming on dequeue and the CANCELLED write from the control loop.
// *store.TaskStore satisfies this interface.
type Store interface {
	UpdateAssignedNode(ctx context.Context, taskID, nodeID string) (bool, error)
	IncrementRetryCount(ctx context.Context, taskID string) error
	UpdateStatus(ctx context.Context, taskID string, status task.Status, opts ...store.StatusOption) error
}

// Client owns this node's registry presence: record, heartbeat, queues, and
// the process-local cancelled set. It also tracks the in-memory active task
// count that gates dequeuing.
type Client struct {
	rdb   RedisClient
	store Store
	log   *slog.Logger

	nodeID            string
	host              string
	port              int
	maxConcurrent     int
	heartbeatInterval time.Duration

	status atomic.Int32
	active atomic.Int64

	cancelled *CancelSet

	stopHeartbeat chan struct{}
	stopOnce      sync.Once
	drained       chan struct{}
	drainOnce     sync.Once
}

// New builds a registry client for the configured node. The client starts in
// ONLINE state; call [Client.Register] before the heartbeat loop.
func New(rdb RedisClient, st Store, cfg *config.Config, log *slog.Logger) *Client {
	return &Client{
		rdb:               rdb,
		store:             st,
		log:               log,
		nodeID:            cfg.Node.ID,
		host:              cfg.Node.Host,
		port:              cfg.Node.Port,
		maxConcurrent:     cfg.Worker.MaxConcurrentTasks,
		heartbeatInterval: time.Duration(cfg.Worker.HeartbeatInterval) * time.Second,
		cancelled:         NewCancelSet(),
		stopHeartbeat:     make(chan struct{}),
		drained:           make(chan struct{}),
	}
}

func (c *Client) nodeKey() string         { return nodeKeyPrefix + c.nodeID }
func (c *Client) taskQueueKey() string    { return taskQueueKeyPrefix + c.nodeID }
func (c *Client) controlQueueKey() string { return controlQueueKeyPrefix + c.nodeID }

// Status returns the current lifecycle state.
func (c *Client) Status() NodeStatus {
	return NodeStatus(c.status.Load())
}

// ActiveTaskCount returns the number of in-flight task handlers.
func (c *Client) ActiveTaskCount() int {
	return int(c.active.Load())
}

// Score ranks a node for the coordinator's dispatch decision. Lower is
// better. Load saturates at 10 active tasks.
func Score(memPercent, cpuPercent float64, activeTasks int) float64 {
	load := float64(activeTasks) / 10
	if load > 1 {
		load = 1
	}
	return 0.4*memPercent/100 + 0.3*cpuPercent/100 + 0.3*load
}

// Register publishes the node record and joins the active-node set.
// Re-registering overwrites the previous record.
func (c *Client) Register(ctx context.Context) error {
	if err := c.heartbeat(ctx); err != nil {
		return fmt.Errorf("registry: register %s: %w", c.nodeID, err)
	}
	if err := c.rdb.SAdd(ctx, activeNodesKey, c.nodeID).Err(); err != nil {
		return fmt.Errorf("registry: join active set: %w", err)
	}
	c.log.Info("registered in node registry",
		"node_id", c.nodeID,
		"address", fmt.Sprintf("%s:%d", c.host, c.port),
		"max_concurrent_tasks", c.maxConcurrent)
	return nil
}

// heartbeat overwrites the node record with a fresh resource sample,
// refreshes the TTL, and — only while ONLINE — upserts the ranking score.
func (c *Client) heartbeat(ctx context.Context) error {
	sample := sysinfo.Probe(ctx)
	status := c.Status()
	active := c.ActiveTaskCount()

	record := map[string]any{
		"nodeId":             c.nodeID,
		"host":               c.host,
		"port":               c.port,
		"status":             status.String(),
		"maxConcurrentTasks": c.maxConcurrent,
		"activeTaskCount":    active,
		"memoryPercent":      sample.MemoryPercent,
		"cpuUsage":           sample.CPUPercent,
		"gpuAvailable":       sample.GPUAvailable,
		"gpuMemoryTotal":     sample.GPUMemoryTotal,
		"gpuMemoryUsed":      sample.GPUMemoryUsed,
		"gpuMemoryPercent":   sample.GPUMemoryPercent,
		"lastHeartbeat":      time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.rdb.HSet(ctx, c.nodeKey(), record).Err(); err != nil {
		return fmt.Errorf("registry: write node record: %w", err)
	}
	// TTL of three missed heartbeats before the record expires; a crashed
	// node disappears from the registry without explicit cleanup.
	if err := c.rdb.Expire(ctx, c.nodeKey(), 3*c.heartbeatInterval).Err(); err != nil {
		return fmt.Errorf("registry: refresh node record ttl: %w", err)
	}

	if status == StatusOnline {
		member := redis.Z{
			Score:  Score(sample.MemoryPercent, sample.CPUPercent, active),
			Member: c.nodeID,
		}
		if err := c.rdb.ZAdd(ctx, nodeRankingsKey, member).Err(); err != nil {
			return fmt.Errorf("registry: update ranking: %w", err)
		}
	}
	return nil
}

// HeartbeatLoop republishes the node record every heartbeat interval until
// the context is cancelled or the node leaves ONLINE. Failures are logged
// and retried after a short backoff; a flaky registry never kills the loop.
func (c *Client) HeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopHeartbeat:
			return
		case <-ticker.C:
		}

		if err := c.heartbeat(ctx); err != nil {
			c.log.Warn("heartbeat failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-c.stopHeartbeat:
				return
			case <-time.After(heartbeatRetryDelay):
			}
		}
	}
}

// UpdateNodeStatus advances the node lifecycle. Backward transitions are
// ignored. Leaving ONLINE removes the node from the ranking and stops the
// heartbeat loop; one final heartbeat then publishes the new status. Registry
// failures here are logged but never block shutdown.
func (c *Client) UpdateNodeStatus(ctx context.Context, s NodeStatus) {
	for {
		cur := c.status.Load()
		if int32(s) <= cur {
			c.log.Warn("ignoring backward status transition",
				"from", NodeStatus(cur).String(), "to", s.String())
			return
		}
		if c.status.CompareAndSwap(cur, int32(s)) {
			break
		}
	}
	c.log.Info("node status changed", "status", s.String())

	if s != StatusOnline {
		if err := c.rdb.ZRem(ctx, nodeRankingsKey, c.nodeID).Err(); err != nil {
			c.log.Warn("failed to leave ranking", "error", err)
		}
		c.stopOnce.Do(func() { close(c.stopHeartbeat) })
		c.signalDrainedIfIdle()
	}
	if err := c.heartbeat(ctx); err != nil {
		c.log.Warn("failed to publish status heartbeat", "error", err)
	}
}

// Unregister removes every trace of this node from the registry. Partial
// failures are joined so shutdown can log them in one line.
func (c *Client) Unregister(ctx context.Context) error {
	errs := []error{
		c.rdb.SRem(ctx, activeNodesKey, c.nodeID).Err(),
		c.rdb.Del(ctx, c.nodeKey()).Err(),
		c.rdb.Del(ctx, c.taskQueueKey()).Err(),
		c.rdb.ZRem(ctx, nodeRankingsKey, c.nodeID).Err(),
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("registry: unregister %s: %w", c.nodeID, err)
	}
	c.log.Info("unregistered from node registry", "node_id", c.nodeID)
	return nil
}

// TaskFinished is the single decrement point for the active count. It also
// clears the task's cancelled mark, and fires the drain signal once the node
// is stopping and the last handler has finished.
func (c *Client) TaskFinished(taskID string) {
	c.cancelled.Clear(taskID)
	if c.active.Add(-1) <= 0 {
		c.signalDrainedIfIdle()
	}
}

// Drained is closed when the node has left ONLINE and the active task count
// has reached zero.
func (c *Client) Drained() <-chan struct{} {
	return c.drained
}

func (c *Client) signalDrainedIfIdle() {
	if c.Status() != StatusOnline && c.active.Load() <= 0 {
		c.drainOnce.Do(func() { close(c.drained) })
	}
}

// MarkCancelled records a cancellation request for taskID.
func (c *Client) MarkCancelled(taskID string) {
	c.cancelled.Mark(taskID)
}

// IsCancelled reports whether a cancellation request is pending for taskID.
func (c *Client) IsCancelled(taskID string) bool {
	return c.cancelled.Has(taskID)
}
