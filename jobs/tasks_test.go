package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrohub/agrohub/internal/realtime"
)

type recordingPublisher struct {
	groups []string
	msgs   []realtime.Message
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, group string, msg realtime.Message) error {
	if p.err != nil {
		return p.err
	}
	p.groups = append(p.groups, group)
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestBroadcastTaskRoundTrip(t *testing.T) {
	task, err := NewBroadcastTask(BroadcastPayload{Group: " announcements ", Message: "Market closed tomorrow", Sender: "admin"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeBroadcast, task.Type())

	pub := &recordingPublisher{}
	require.NoError(t, BroadcastHandler{Publisher: pub}.Handle(context.Background(), task))
	require.Equal(t, []string{realtime.GroupAnnouncements}, pub.groups)
	assert.Equal(t, realtime.TypeNotification, pub.msgs[0].Type)
	assert.Equal(t, "Market closed tomorrow", pub.msgs[0].Message)
	assert.Equal(t, "admin", pub.msgs[0].Sender)
}

func TestBroadcastTaskRequiresGroup(t *testing.T) {
	_, err := NewBroadcastTask(BroadcastPayload{Message: "x"})
	assert.Error(t, err)
}

func TestBroadcastHandlerErrors(t *testing.T) {
	bad := asynq.NewTask(TaskTypeBroadcast, []byte(`{"group":`))
	err := BroadcastHandler{Publisher: &recordingPublisher{}}.Handle(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewBroadcastTask(BroadcastPayload{Group: "farm.3", Message: "x"})
	require.NoError(t, err)
	down := errors.New("redis down")
	err = BroadcastHandler{Publisher: &recordingPublisher{err: down}}.Handle(context.Background(), task)
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestMailHandler(t *testing.T) {
	task, err := NewSendEmailTask(SendEmailPayload{To: "ops@agrohub.test", Subject: "Welcome"})
	require.NoError(t, err)
	assert.NoError(t, MailHandler{}.Handle(context.Background(), task))

	empty, err := NewSendEmailTask(SendEmailPayload{})
	require.NoError(t, err)
	assert.ErrorIs(t, MailHandler{}.Handle(context.Background(), empty), asynq.SkipRetry)
}

type fakePurger struct {
	before time.Time
	n      int64
}

func (p *fakePurger) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	p.before = before
	return p.n, nil
}

func TestPurgeSessionsHandler(t *testing.T) {
	p := &fakePurger{n: 4}
	require.NoError(t, PurgeSessionsHandler{Purger: p}.Handle(context.Background(), NewPurgeSessionsTask()))
	assert.WithinDuration(t, time.Now(), p.before, time.Minute)
}

type fakeInspector struct {
	queues []string
	infos  map[string]*asynq.QueueInfo
	err    error
}

func (f fakeInspector) Queues() ([]string, error) {
	return f.queues, f.err
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.infos[queue], nil
}

func TestQueuePriorities(t *testing.T) {
	names := QueueNames()
	require.Len(t, Queues, len(names))
	for i := 1; i < len(names); i++ {
		assert.Greater(t, Queues[names[i-1]], Queues[names[i]], "%s should outrank %s", names[i-1], names[i])
	}
}

func TestHealthEndpoint(t *testing.T) {
	healthy := fakeInspector{
		queues: []string{QueueDefault, QueueRealtime},
		infos: map[string]*asynq.QueueInfo{
			QueueRealtime: {Queue: QueueRealtime, Pending: 3, Active: 1},
			QueueDefault:  {Queue: QueueDefault, Failed: 2, Paused: true},
		},
	}
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		available bool
		queues    []QueueHealth
	}{
		{"no inspector", nil, http.StatusOK, false, []QueueHealth{}},
		{"healthy", healthy, http.StatusOK, true, []QueueHealth{
			{Queue: QueueRealtime, Pending: 3, Active: 1},
			{Queue: QueueDefault, Failed: 2, Paused: true},
			{Queue: QueueMaintenance},
		}},
		{"redis down", fakeInspector{err: errors.New("dial tcp")}, http.StatusServiceUnavailable, false, []QueueHealth{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.status, rr.Code)

			var body healthReport
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.available, body.Available)
			assert.Equal(t, tc.queues, body.Queues)
		})
	}
}

func TestWorkerRejectsIncompleteHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: TaskTypeSendEmail}},
	})
	assert.Error(t, err)
}
