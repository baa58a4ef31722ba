package deep

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/services"
	"github.com/argus-news/argus/test/util"
)

// fakePublisher records every publish and can be scripted to fail the
// first N attempts per provider.
type fakePublisher struct {
	mu        sync.Mutex
	published []TaskRequest
	failures  map[string]int // provider id → remaining publish failures
	failErr   error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, req TaskRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, req)
	if p.failures[req.ProviderID] > 0 {
		p.failures[req.ProviderID]--
		return p.failErr
	}
	return nil
}

func (p *fakePublisher) requests() []TaskRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TaskRequest, len(p.published))
	copy(out, p.published)
	return out
}

func (p *fakePublisher) lastTokenFor(subTaskID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.published) - 1; i >= 0; i-- {
		if p.published[i].SubTaskID == subTaskID {
			return p.published[i].CallbackToken
		}
	}
	return ""
}

func testRegistry(t *testing.T, providers map[string]*config.ProviderConfig) *config.ProviderRegistry {
	t.Helper()
	registry, err := config.NewProviderRegistry(providers, nil, nil)
	require.NoError(t, err)
	return registry
}

func crawlerProvider() *config.ProviderConfig {
	return &config.ProviderConfig{Endpoint: "http://crawler.test/tasks", TaskType: "crawl", Evidence: true}
}

func factCheckProvider() *config.ProviderConfig {
	return &config.ProviderConfig{Endpoint: "http://factcheck.test/tasks", TaskType: "fact_check"}
}

func newTestOrchestrator(t *testing.T, pub TaskPublisher, providers map[string]*config.ProviderConfig, cfg *config.DeepConfig) (*Orchestrator, *events.Bus, *services.AiJobService, *services.EvidenceService) {
	t.Helper()
	client := util.SetupTestDatabase(t)
	jobs := services.NewAiJobService(client.DB())
	evidence := services.NewEvidenceService(client.DB())
	bus := events.NewBus(events.DefaultBufferSize)
	if cfg == nil {
		cfg = config.DefaultDeepConfig()
	}
	orch := NewOrchestrator(cfg, testRegistry(t, providers), jobs, evidence, bus, pub, "http://argus.test/api/v1/ai/callback")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return orch, bus, jobs, evidence
}

// streamAll drains the job's journal until it terminates.
func streamAll(t *testing.T, bus *events.Bus, jobID string) []events.Event {
	t.Helper()
	sub, err := bus.Subscribe(jobID, 0)
	require.NoError(t, err)
	defer sub.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var got []events.Event
	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			require.NoError(t, ctx.Err(), "stream did not terminate in time")
			return got
		}
		got = append(got, ev)
	}
}

func waitForSubTasks(t *testing.T, jobs *services.AiJobService, jobID string, status models.SubTaskStatus) []*models.AiSubTask {
	t.Helper()
	var subTasks []*models.AiSubTask
	require.Eventually(t, func() bool {
		var err error
		subTasks, err = jobs.ListSubTasks(context.Background(), jobID)
		if err != nil || len(subTasks) == 0 {
			return false
		}
		for _, st := range subTasks {
			if st.Status != status {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return subTasks
}

func TestStartJobDispatchesAllSubTasks(t *testing.T) {
	pub := &fakePublisher{}
	orch, _, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(), "fact_check": factCheckProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "quantum computing", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusPending, job.Status)

	subTasks := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)
	require.Len(t, subTasks, 2)

	reqs := pub.requests()
	require.Len(t, reqs, 2)
	tokens := map[string]bool{}
	for _, req := range reqs {
		assert.Equal(t, job.ID, req.JobID)
		assert.Equal(t, "quantum computing", req.Topic)
		assert.Equal(t, "http://argus.test/api/v1/ai/callback", req.CallbackURL)
		tokens[req.CallbackToken] = true
	}
	assert.Len(t, tokens, 2, "each sub-task gets its own token")

	// Published tokens hash to the persisted hashes.
	for _, st := range subTasks {
		token := pub.lastTokenFor(st.ID)
		require.NotEmpty(t, token)
		assert.True(t, VerifyToken(st.CallbackTokenHash, token))
	}

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusInProgress, persisted.Status)
}

func TestCallbackCompletesSubTaskAndJob(t *testing.T) {
	pub := &fakePublisher{}
	orch, bus, jobs, evidence := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	subTasks := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)
	st := subTasks[0]

	outcome, err := orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID:     st.ID,
		Status:        "COMPLETED",
		ResultJSON:    json.RawMessage(`{"summary":"net positive"}`),
		CallbackToken: pub.lastTokenFor(st.ID),
		Evidence: []EvidenceItem{
			{URL: "https://www.reuters.com/science/fusion", Title: "Fusion milestone", Stance: "pro"},
			{URL: "https://example.com/blog/fusion", Title: "A take", Snippet: "skeptical"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackAccepted, outcome)

	evs := streamAll(t, bus, job.ID)
	types := eventTypes(evs)
	assert.Equal(t, events.EventConnected, types[0])
	assert.Contains(t, types, events.EventTaskDispatched)
	assert.Contains(t, types, events.EventTaskCompleted)
	assert.Contains(t, types, events.EventEvidence)
	require.Equal(t, events.EventDone, types[len(types)-1])

	var done events.DonePayload
	require.NoError(t, json.Unmarshal(evs[len(evs)-1].Data, &done))
	assert.Equal(t, string(models.AiJobStatusCompleted), done.Status)
	assert.Equal(t, 1, done.Successful)

	rows, err := evidence.ListByJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.SourceCategoryNews, rows[0].SourceCategory)
	assert.Equal(t, models.StancePro, rows[0].Stance)
	assert.Equal(t, models.SourceCategoryBlog, rows[1].SourceCategory)
	assert.Equal(t, models.StanceNeutral, rows[1].Stance)

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusCompleted, persisted.Status)
}

func TestCallbackDuplicateIsAcknowledged(t *testing.T) {
	pub := &fakePublisher{}
	orch, _, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	st := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)[0]

	req := CallbackRequest{SubTaskID: st.ID, Status: "COMPLETED", CallbackToken: pub.lastTokenFor(st.ID)}
	outcome, err := orch.HandleCallback(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, CallbackAccepted, outcome)

	// Redelivery acks without mutating anything.
	outcome, err = orch.HandleCallback(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, outcome)
}

func TestCallbackInvalidTokenRejected(t *testing.T) {
	pub := &fakePublisher{}
	orch, _, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	st := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)[0]

	_, err = orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID: st.ID, Status: "COMPLETED", CallbackToken: "forged",
	})
	require.ErrorIs(t, err, ErrInvalidCallbackToken)

	unchanged, err := jobs.GetSubTask(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubTaskStatusInProgress, unchanged.Status)
}

func TestCallbackUnknownSubTaskAcknowledged(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, &fakePublisher{}, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	outcome, err := orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID: "no-such-sub-task", Status: "COMPLETED", CallbackToken: "whatever",
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackUnknownSubTask, outcome)
}

func TestProviderFailureRetriesWithFreshToken(t *testing.T) {
	pub := &fakePublisher{}
	orch, _, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	st := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)[0]
	firstToken := pub.lastTokenFor(st.ID)

	outcome, err := orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID:     st.ID,
		Status:        "FAILED",
		ErrorMessage:  "connection refused by target site",
		CallbackToken: firstToken,
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackRetryScheduled, outcome)

	// The redispatch publishes with a fresh token.
	require.Eventually(t, func() bool {
		return len(pub.requests()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	retried, err := jobs.GetSubTask(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubTaskStatusInProgress, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	secondToken := pub.lastTokenFor(st.ID)
	assert.NotEqual(t, firstToken, secondToken)
	assert.True(t, VerifyToken(retried.CallbackTokenHash, secondToken))

	// The first token is dead after rotation.
	_, err = orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID: st.ID, Status: "COMPLETED", CallbackToken: firstToken,
	})
	assert.ErrorIs(t, err, ErrInvalidCallbackToken)
}

func TestNonRetryableFailureTerminalizesJob(t *testing.T) {
	pub := &fakePublisher{}
	orch, bus, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	st := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)[0]

	outcome, err := orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID:     st.ID,
		Status:        "FAILED",
		ErrorMessage:  "failed to parse article body",
		CallbackToken: pub.lastTokenFor(st.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackAccepted, outcome)

	evs := streamAll(t, bus, job.ID)
	last := evs[len(evs)-1]
	require.Equal(t, events.EventError, last.Type)

	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(last.Data, &payload))
	assert.Equal(t, string(models.AiJobStatusFailed), payload.Status)
	assert.Equal(t, string(models.FailureParseError), payload.Code)

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusFailed, persisted.Status)
	assert.Equal(t, models.CategoryContent, persisted.FailureCategory)
}

func TestMixedOutcomesYieldPartialSuccess(t *testing.T) {
	pub := &fakePublisher{}
	orch, bus, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(), "fact_check": factCheckProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	subTasks := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)
	require.Len(t, subTasks, 2)

	_, err = orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID: subTasks[0].ID, Status: "COMPLETED", CallbackToken: pub.lastTokenFor(subTasks[0].ID),
	})
	require.NoError(t, err)

	_, err = orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID:     subTasks[1].ID,
		Status:        "FAILED",
		ErrorMessage:  "empty content at target",
		CallbackToken: pub.lastTokenFor(subTasks[1].ID),
	})
	require.NoError(t, err)

	evs := streamAll(t, bus, job.ID)
	last := evs[len(evs)-1]
	require.Equal(t, events.EventDone, last.Type)

	var done events.DonePayload
	require.NoError(t, json.Unmarshal(last.Data, &done))
	assert.Equal(t, string(models.AiJobStatusPartialSuccess), done.Status)
	assert.Equal(t, 1, done.Successful)
	assert.Equal(t, 1, done.Failed)
	assert.Equal(t, string(models.FailureEmptyContent), done.Code)
	assert.Equal(t, string(models.CategoryContent), done.Category)

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusPartialSuccess, persisted.Status)
}

func TestDispatchFailureExhaustsRetryBudget(t *testing.T) {
	cfg := config.DefaultDeepConfig()
	cfg.MaxSubTaskRetries = 1
	pub := &fakePublisher{
		failures: map[string]int{"crawler": 10},
		failErr:  errors.New("connection refused"),
	}
	orch, bus, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, cfg)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)

	evs := streamAll(t, bus, job.ID)
	require.Equal(t, events.EventError, evs[len(evs)-1].Type)

	// Initial attempt plus one retry.
	assert.Len(t, pub.requests(), 2)

	st := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusFailed)[0]
	assert.Equal(t, 1, st.RetryCount)
	assert.Equal(t, models.FailureConnectionRefused, st.FailureCode)

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AiJobStatusFailed, persisted.Status)
}

func TestCancelPropagatesToSubTasks(t *testing.T) {
	pub := &fakePublisher{}
	orch, bus, jobs, _ := newTestOrchestrator(t, pub, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(), "fact_check": factCheckProvider(),
	}, nil)

	job, err := orch.StartJob(context.Background(), "fusion energy", "")
	require.NoError(t, err)
	subTasks := waitForSubTasks(t, jobs, job.ID, models.SubTaskStatusInProgress)

	require.NoError(t, orch.Cancel(context.Background(), job.ID))
	assert.ErrorIs(t, orch.Cancel(context.Background(), job.ID), services.ErrAlreadyTerminal)

	evs := streamAll(t, bus, job.ID)
	last := evs[len(evs)-1]
	require.Equal(t, events.EventError, last.Type)

	var payload events.ErrorPayload
	require.NoError(t, json.Unmarshal(last.Data, &payload))
	assert.Equal(t, string(models.AiJobStatusCancelled), payload.Status)

	for _, st := range subTasks {
		got, err := jobs.GetSubTask(context.Background(), st.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubTaskStatusCancelled, got.Status)
	}

	// A late provider callback for a cancelled sub-task acks as duplicate.
	outcome, err := orch.HandleCallback(context.Background(), CallbackRequest{
		SubTaskID: subTasks[0].ID, Status: "COMPLETED", CallbackToken: pub.lastTokenFor(subTasks[0].ID),
	})
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, outcome)
}

func TestStartJobRejectsEmptyTopic(t *testing.T) {
	orch, _, _, _ := newTestOrchestrator(t, &fakePublisher{}, map[string]*config.ProviderConfig{
		"crawler": crawlerProvider(),
	}, nil)

	_, err := orch.StartJob(context.Background(), "", "")
	assert.True(t, services.IsValidationError(err))
}

func eventTypes(evs []events.Event) []events.EventType {
	types := make([]events.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type
	}
	return types
}
