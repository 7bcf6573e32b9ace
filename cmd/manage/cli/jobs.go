package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/agrohub/agrohub/internal/realtime"
	"github.com/agrohub/agrohub/jobs"
)

// TaskEnqueuer is the part of asynq.Client the helpers use.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    TaskEnqueuer
	inspector jobs.QueueInspector
	closers   []func() error
}

// NewJobsCLI initialises the CLI helpers against Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	client := asynq.NewClient(opts)
	inspector := asynq.NewInspector(opts)
	return &JobsCLI{
		client:    client,
		inspector: inspector,
		closers:   []func() error{inspector.Close, client.Close},
	}
}

// NewJobsCLIWith builds the helpers on an existing client and inspector.
// Neither is closed by Close.
func NewJobsCLIWith(client TaskEnqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// jobAliases maps the short names accepted on the command line to task types.
var jobAliases = map[string]string{
	"purge_sessions": jobs.TaskTypePurgeSessions,
	"broadcast":      jobs.TaskTypeBroadcast,
}

// JobNames lists the short job names Trigger accepts.
func JobNames() []string {
	return []string{"purge_sessions", "broadcast"}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Trigger enqueues a supported job by short name or task type. message is
// used by broadcast jobs.
func (c *JobsCLI) Trigger(ctx context.Context, name, message string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	taskType := name
	if alias, ok := jobAliases[name]; ok {
		taskType = alias
	}
	var task *asynq.Task
	var err error
	switch taskType {
	case jobs.TaskTypePurgeSessions:
		task = jobs.NewPurgeSessionsTask()
	case jobs.TaskTypeBroadcast:
		if strings.TrimSpace(message) == "" {
			return nil, errors.New("jobs cli: broadcast needs a message")
		}
		task, err = jobs.NewBroadcastTask(jobs.BroadcastPayload{
			Group:   realtime.GroupAnnouncements,
			Type:    realtime.TypeAnnouncement,
			Message: strings.TrimSpace(message),
			Sender:  "manage",
		})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s (want %s)", name, strings.Join(JobNames(), " or "))
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// InspectQueues reports the state of every worker queue in priority order.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]jobs.QueueHealth, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return jobs.InspectQueues(c.inspector)
}
