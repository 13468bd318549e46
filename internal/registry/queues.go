package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cnyy99/giggle/internal/store"
	"github.com/cnyy99/giggle/internal/task"
)

// popTimeout bounds each blocking pop so the loops re-check their stop
// conditions at least once a second.
const popTimeout = time.Second

// GetTask pops one task from this node's queue. It returns (nil, nil) when
// the node is stopping, at its concurrency bound, or the queue is empty
// within the pop timeout. A successfully claimed task bumps the active count.
func (c *Client) GetTask(ctx context.Context) (*task.Task, error) {
	if c.Status() != StatusOnline {
		return nil, nil
	}
	if c.ActiveTaskCount() >= c.maxConcurrent {
		return nil, nil
	}

	vals, err := c.rdb.BRPop(ctx, popTimeout, c.taskQueueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: pop task queue: %w", err)
	}
	// BRPop returns [key, element].
	if len(vals) < 2 {
		return nil, fmt.Errorf("registry: malformed BRPOP reply %v", vals)
	}

	var t task.Task
	if err := json.Unmarshal([]byte(vals[1]), &t); err != nil {
		c.log.Error("dropping undecodable task payload", "error", err)
		return nil, nil
	}
	if err := t.Validate(); err != nil {
		c.log.Error("dropping invalid task", "error", err)
		return nil, nil
	}

	ok, err := c.store.UpdateAssignedNode(ctx, t.ID, c.nodeID)
	if err != nil || !ok {
		// The row is gone or the store is down; the task cannot run here.
		// Bump the retry count so a gateway-side janitor can redispatch it.
		c.log.Error("failed to claim task, dropping",
			"task_id", t.ID, "matched", ok, "error", err)
		if rerr := c.store.IncrementRetryCount(ctx, t.ID); rerr != nil {
			c.log.Warn("failed to bump retry count", "task_id", t.ID, "error", rerr)
		}
		return nil, nil
	}

	c.active.Add(1)
	return &t, nil
}

// ControlLoop consumes this node's control queue until the context is
// cancelled. Each element is a JSON control message; unknown actions are
// logged and dropped.
func (c *Client) ControlLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		vals, err := c.rdb.BRPop(ctx, popTimeout, c.controlQueueKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("control queue pop failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(heartbeatRetryDelay):
			}
			continue
		}
		if len(vals) < 2 {
			c.log.Warn("malformed BRPOP reply on control queue", "reply", vals)
			continue
		}
		c.handleControl(ctx, vals[1])
	}
}

func (c *Client) handleControl(ctx context.Context, payload string) {
	var msg task.ControlMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		c.log.Warn("dropping undecodable control message", "error", err)
		return
	}

	switch msg.Action {
	case task.ControlActionCancelTask:
		if msg.TaskID == "" {
			c.log.Warn("CANCEL_TASK without a task id")
			return
		}
		c.log.Info("cancellation requested", "task_id", msg.TaskID)
		c.cancelled.Mark(msg.TaskID)
		// The control loop owns the terminal CANCELLED write; the handler
		// observes the mark and exits without writing.
		err := c.store.UpdateStatus(ctx, msg.TaskID, task.StatusCancelled)
		if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
			c.log.Error("failed to record cancellation", "task_id", msg.TaskID, "error", err)
		}
	default:
		c.log.Warn("dropping unknown control action", "action", string(msg.Action))
	}
}
