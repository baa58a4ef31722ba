package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-news/argus/pkg/config"
	"github.com/argus-news/argus/pkg/database"
	"github.com/argus-news/argus/pkg/deep"
	"github.com/argus-news/argus/pkg/events"
	"github.com/argus-news/argus/pkg/models"
	"github.com/argus-news/argus/pkg/search"
	"github.com/argus-news/argus/pkg/services"
	"github.com/argus-news/argus/test/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// capturingPublisher records dispatched task requests so tests can replay
// their callback tokens.
type capturingPublisher struct {
	mu        sync.Mutex
	published []deep.TaskRequest
}

func (p *capturingPublisher) Publish(_ context.Context, _ string, req deep.TaskRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, req)
	return nil
}

func (p *capturingPublisher) tokenFor(subTaskID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.published) - 1; i >= 0; i-- {
		if p.published[i].SubTaskID == subTaskID {
			return p.published[i].CallbackToken
		}
	}
	return ""
}

type testServer struct {
	router     *gin.Engine
	client     *database.Client
	pub        *capturingPublisher
	jobs       *services.AiJobService
	searchJobs *services.SearchJobService
	bus        *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, nil, nil)
}

// newTestServerWith wires the full stack against a fresh schema. mutate may
// adjust the config before wiring; extra adapters join the corpus source.
func newTestServerWith(t *testing.T, mutate func(*config.Config), extra []search.SourceAdapter) *testServer {
	t.Helper()
	client := util.SetupTestDatabase(t)

	cfg := &config.Config{
		Server:    config.DefaultServerConfig(),
		Search:    config.DefaultSearchConfig(),
		Deep:      config.DefaultDeepConfig(),
		Retention: config.DefaultRetentionConfig(),
	}
	if mutate != nil {
		mutate(cfg)
	}
	registry, err := config.NewProviderRegistry(map[string]*config.ProviderConfig{
		"crawler": {Endpoint: "http://crawler.test/tasks", TaskType: "crawl", Evidence: true},
	}, nil, nil)
	require.NoError(t, err)
	cfg.Providers = registry

	articles := services.NewArticleService(client.DB())
	searchJobs := services.NewSearchJobService(client.DB())
	aiJobs := services.NewAiJobService(client.DB())
	evidence := services.NewEvidenceService(client.DB())
	bus := events.NewBus(cfg.Search.EventBufferSize)

	adapters := append([]search.SourceAdapter{search.NewCorpusSource(articles)}, extra...)
	fanout := search.NewFanout(bus, cfg.Search.PerSourceTimeout)
	mgr := search.NewManager(cfg.Search, searchJobs, bus, fanout, adapters)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	pub := &capturingPublisher{}
	orch := deep.NewOrchestrator(cfg.Deep, registry, aiJobs, evidence, bus, pub,
		cfg.Server.PublicBaseURL+"/api/v1/ai/callback")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	server := NewServer(cfg, client, articles, searchJobs, evidence, mgr, orch, bus)
	return &testServer{
		router:     server.Routes(),
		client:     client,
		pub:        pub,
		jobs:       aiJobs,
		searchJobs: searchJobs,
		bus:        bus,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) seedArticle(t *testing.T, id, title, content string) {
	t.Helper()
	_, err := ts.client.DB().Exec(
		`INSERT INTO articles (id, title, content, url, source, collected_at)
		VALUES ($1, $2, $3, $4, 'seed', $5)`,
		id, title, content, fmt.Sprintf("https://seed.test/%s", id), time.Now().UTC())
	require.NoError(t, err)
}

// createJobResponse mirrors the acceptance envelope of the job POSTs.
type createJobResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

func (ts *testServer) createJob(t *testing.T, path string, body any) createJobResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp createJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "database")
	assert.Contains(t, body, "events")
}

func TestSearchJobLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedArticle(t, "a1", "Bitcoin rallies", "Bitcoin price surged on Tuesday.")

	job := ts.createJob(t, "/api/v1/search/jobs", gin.H{"query": "bitcoin"})
	assert.Equal(t, "/api/v1/search/jobs/"+job.JobID+"/stream", job.StreamURL)

	// The stream blocks until the job terminalizes, so the body holds the
	// whole event sequence afterwards.
	stream := ts.do(t, http.MethodGet, job.StreamURL, nil)
	require.Equal(t, http.StatusOK, stream.Code)
	assert.Equal(t, "text/event-stream", stream.Header().Get("Content-Type"))
	body := stream.Body.String()
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, "event:partial_result")
	assert.Contains(t, body, "event:done")

	got := ts.do(t, http.MethodGet, "/api/v1/search/jobs/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	var persisted models.SearchJob
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &persisted))
	assert.Equal(t, models.JobStatusCompleted, persisted.Status)

	list := ts.do(t, http.MethodGet, "/api/v1/search/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var listing models.SearchJobList
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.TotalCount)
}

func TestSearchJobValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/search/jobs", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/search/jobs", gin.H{"query": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/search/jobs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/search/jobs/does-not-exist/stream", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// hangingSource blocks until its context is cancelled, keeping the job
// running for as long as a test needs it to be.
type hangingSource struct{}

func (hangingSource) ID() string { return "slow-wire" }

func (hangingSource) Fetch(ctx context.Context, _ search.Request) (*search.PartialResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStreamDetachCancelsJobWithoutSubscribers(t *testing.T) {
	ts := newTestServerWith(t, func(cfg *config.Config) {
		cfg.Search.CancelOnDetach = true
	}, []search.SourceAdapter{hangingSource{}})

	job := ts.createJob(t, "/api/v1/search/jobs", gin.H{"query": "bitcoin"})

	require.Eventually(t, func() bool {
		persisted, err := ts.searchJobs.GetJob(context.Background(), job.JobID)
		return err == nil && persisted.Status == models.JobStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	streamCtx, disconnect := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, job.StreamURL, nil).WithContext(streamCtx)
	detached := make(chan struct{})
	go func() {
		ts.router.ServeHTTP(httptest.NewRecorder(), req)
		close(detached)
	}()

	// Once the subscriber is attached, drop the connection. The handler must
	// detach the subscription before the cancel-on-detach check runs, so the
	// now-subscriberless job gets cancelled.
	require.Eventually(t, func() bool {
		return ts.bus.SubscriberCount(job.JobID) > 0
	}, 5*time.Second, 10*time.Millisecond)
	disconnect()
	<-detached

	require.Eventually(t, func() bool {
		persisted, err := ts.searchJobs.GetJob(context.Background(), job.JobID)
		return err == nil && persisted.Status == models.JobStatusCancelled
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStreamReplaysAfterLastEventID(t *testing.T) {
	ts := newTestServer(t)
	ts.seedArticle(t, "a1", "Bitcoin rallies", "Bitcoin price surged on Tuesday.")

	job := ts.createJob(t, "/api/v1/search/jobs", gin.H{"query": "bitcoin"})

	full := ts.do(t, http.MethodGet, job.StreamURL, nil)
	require.Contains(t, full.Body.String(), "id:1")

	// Resume after seq 1: the connected event does not repeat.
	req := httptest.NewRequest(http.MethodGet, job.StreamURL, nil)
	req.Header.Set("Last-Event-ID", "1")
	resumed := httptest.NewRecorder()
	ts.router.ServeHTTP(resumed, req)

	body := resumed.Body.String()
	assert.NotContains(t, body, "event:connected")
	assert.Contains(t, body, "event:done")
}

func TestDeepJobLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	job := ts.createJob(t, "/api/v1/deep/jobs", gin.H{"topic": "fusion energy"})

	var subTaskID string
	require.Eventually(t, func() bool {
		subTasks, err := ts.jobs.ListSubTasks(context.Background(), job.JobID)
		if err != nil || len(subTasks) != 1 || subTasks[0].Status != models.SubTaskStatusInProgress {
			return false
		}
		subTaskID = subTasks[0].ID
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Forged token is rejected.
	forged := ts.do(t, http.MethodPost, "/api/v1/ai/callback", gin.H{
		"sub_task_id": subTaskID, "status": "COMPLETED", "callback_token": "forged",
	})
	assert.Equal(t, http.StatusUnauthorized, forged.Code)

	ok := ts.do(t, http.MethodPost, "/api/v1/ai/callback", gin.H{
		"sub_task_id":    subTaskID,
		"status":         "COMPLETED",
		"result_json":    gin.H{"summary": "looks solid"},
		"callback_token": ts.pub.tokenFor(subTaskID),
		"evidence": []gin.H{
			{"url": "https://www.reuters.com/science/fusion", "title": "Milestone", "stance": "PRO"},
		},
	})
	require.Equal(t, http.StatusOK, ok.Code)
	assert.Contains(t, ok.Body.String(), string(deep.CallbackAccepted))

	// Redelivery acks as duplicate, still 200.
	dup := ts.do(t, http.MethodPost, "/api/v1/ai/callback", gin.H{
		"sub_task_id": subTaskID, "status": "COMPLETED", "callback_token": ts.pub.tokenFor(subTaskID),
	})
	require.Equal(t, http.StatusOK, dup.Code)
	assert.Contains(t, dup.Body.String(), string(deep.CallbackDuplicate))

	got := ts.do(t, http.MethodGet, "/api/v1/deep/jobs/"+job.JobID, nil)
	require.Equal(t, http.StatusOK, got.Code)
	var detail deepJobResponse
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &detail))
	assert.Equal(t, models.AiJobStatusCompleted, detail.Status)
	require.Len(t, detail.SubTasks, 1)
	assert.Equal(t, models.SubTaskStatusCompleted, detail.SubTasks[0].Status)
	// The provider payload comes back as inline JSON, not an encoded blob.
	assert.Contains(t, got.Body.String(), `"result_json":{"summary":"looks solid"}`)
	assert.JSONEq(t, `{"summary":"looks solid"}`, string(detail.SubTasks[0].ResultJSON))

	ev := ts.do(t, http.MethodGet, "/api/v1/deep/jobs/"+job.JobID+"/evidence", nil)
	require.Equal(t, http.StatusOK, ev.Code)
	assert.Contains(t, ev.Body.String(), "reuters.com")

	stream := ts.do(t, http.MethodGet, job.StreamURL, nil)
	require.Equal(t, http.StatusOK, stream.Code)
	assert.Contains(t, stream.Body.String(), "event:evidence")
	assert.Contains(t, stream.Body.String(), "event:done")
}

func TestCancelDeepJobOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	job := ts.createJob(t, "/api/v1/deep/jobs", gin.H{"topic": "fusion energy"})

	require.Eventually(t, func() bool {
		subTasks, err := ts.jobs.ListSubTasks(context.Background(), job.JobID)
		return err == nil && len(subTasks) == 1 && subTasks[0].Status == models.SubTaskStatusInProgress
	}, 5*time.Second, 10*time.Millisecond)

	cancel := ts.do(t, http.MethodPost, "/api/v1/deep/jobs/"+job.JobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, cancel.Code)

	again := ts.do(t, http.MethodPost, "/api/v1/deep/jobs/"+job.JobID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestArticlesSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedArticle(t, "a1", "Bitcoin rallies", "Bitcoin price surged on Tuesday.")
	ts.seedArticle(t, "a2", "Weather report", "Rain expected this weekend.")

	w := ts.do(t, http.MethodGet, "/api/v1/articles/search?q=bitcoin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var page models.ArticlePage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.TotalElements)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a1", page.Items[0].ID)

	w = ts.do(t, http.MethodGet, "/api/v1/articles/search?q=bitcoin&start_date=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/articles/search?q=", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
