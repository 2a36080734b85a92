package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxhall/concierge/internal/events"
	"github.com/voxhall/concierge/internal/logging"
	"github.com/voxhall/concierge/internal/provider"
	"github.com/voxhall/concierge/internal/repository"
	"github.com/voxhall/concierge/internal/workflow"
	"github.com/voxhall/concierge/pkg/models"
)

type fakeGate struct {
	decision models.AdmissionDecision
	err      error
}

func (g *fakeGate) Check(ctx context.Context, principal string) (models.AdmissionDecision, error) {
	return g.decision, g.err
}

func approveAll() *fakeGate {
	balance := 100.0
	return &fakeGate{decision: models.AdmissionDecision{Approved: true, CurrentBalance: &balance}}
}

type fakeRooms struct {
	mu        sync.Mutex
	createErr error
	deleted   []string
}

func (r *fakeRooms) CreateRoom(ctx context.Context) (provider.Room, error) {
	if r.createErr != nil {
		return provider.Room{}, r.createErr
	}
	return provider.Room{ID: "room-1", URL: "https://rooms.example.com/room-1"}, nil
}

func (r *fakeRooms) DeleteRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, roomID)
	return nil
}

type fakeVoice struct {
	mu       sync.Mutex
	startErr error
	probeErr error
	fetchErr error
	alive    map[string]bool
	results  *provider.Results
	ended    []string
	nextID   int
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		alive:   make(map[string]bool),
		results: &provider.Results{Transcript: "hello"},
	}
}

func (v *fakeVoice) CreateAgent(ctx context.Context, cfg provider.AgentConfig) (string, error) {
	return "agent-1", nil
}

func (v *fakeVoice) StartConversation(ctx context.Context, agentID, roomURL string) (string, error) {
	if v.startErr != nil {
		return "", v.startErr
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := fmt.Sprintf("conv-%d", v.nextID)
	v.alive[id] = true
	return id, nil
}

func (v *fakeVoice) EndConversation(ctx context.Context, conversationID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alive[conversationID] = false
	v.ended = append(v.ended, conversationID)
	return nil
}

func (v *fakeVoice) ConversationActive(ctx context.Context, conversationID string) (bool, error) {
	if v.probeErr != nil {
		return false, v.probeErr
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive[conversationID], nil
}

func (v *fakeVoice) FetchResults(ctx context.Context, conversationID string) (*provider.Results, error) {
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	return v.results, nil
}

func (v *fakeVoice) hangUp(conversationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.alive[conversationID] = false
}

type scriptedWorkflow struct {
	name    string
	outcome map[string]any
	err     error
}

func (s *scriptedWorkflow) Describe() models.WorkflowDescriptor {
	return models.WorkflowDescriptor{Name: s.name, Description: "scripted"}
}

func (s *scriptedWorkflow) Execute(ctx context.Context, input workflow.Input, corr workflow.Correlation) (map[string]any, error) {
	return s.outcome, s.err
}

type fixture struct {
	manager *Manager
	store   *repository.MemoryStore
	rooms   *fakeRooms
	voice   *fakeVoice
	gate    *fakeGate
}

func newFixture(t *testing.T, workflows ...workflow.Workflow) *fixture {
	t.Helper()
	if len(workflows) == 0 {
		workflows = []workflow.Workflow{&scriptedWorkflow{
			name:    DefaultWorkflow,
			outcome: map[string]any{"status": "success", "order_id": "order-1"},
		}}
	}
	registry := workflow.NewRegistry()
	for _, w := range workflows {
		registry.Register(w)
	}

	f := &fixture{
		store: repository.NewMemoryStore(),
		rooms: &fakeRooms{},
		voice: newFakeVoice(),
		gate:  approveAll(),
	}
	f.manager = NewManager(f.store, f.gate, registry, f.rooms, f.voice,
		events.NoopPublisher{}, logging.NewLogger())
	return f
}

func (f *fixture) start(t *testing.T, req StartRequest) *StartResult {
	t.Helper()
	result, err := f.manager.Start(context.Background(), req)
	require.NoError(t, err)
	// Wait for the background execution to record its outcome.
	f.manager.Close()
	return result
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, StartRequest{Message: ""})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "required")

	_, err = f.manager.Start(ctx, StartRequest{Message: strings.Repeat("a", MaxMessageLength+1)})
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "maximum length")

	result, err := f.manager.Start(ctx, StartRequest{Message: strings.Repeat("a", MaxMessageLength)})
	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)
}

func TestStartValidationCountsCharactersNotBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Multibyte runes: exactly the limit in characters, well over it in
	// bytes.
	result, err := f.manager.Start(ctx, StartRequest{Message: strings.Repeat("é", MaxMessageLength)})
	require.NoError(t, err)
	assert.NotEmpty(t, result.JobID)

	_, err = f.manager.Start(ctx, StartRequest{Message: strings.Repeat("é", MaxMessageLength+1)})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "maximum length")
}

func TestStartAdmissionCheckStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.gate.err = fmt.Errorf("connection refused")

	_, err := f.manager.Start(context.Background(), StartRequest{Message: "order coffee", UserID: "u1"})
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Contains(t, err.Error(), "check admission")
	assert.NotContains(t, err.Error(), "persist session")

	// Nothing was dispatched.
	assert.Empty(t, f.voice.ended)
	assert.Empty(t, f.rooms.deleted)
}

func TestStartAdmissionDeniedCreatesNoSession(t *testing.T) {
	f := newFixture(t)
	balance := 0.25
	f.gate.decision = models.AdmissionDecision{
		Approved:       false,
		Reason:         "insufficient_credits",
		CurrentBalance: &balance,
	}

	_, err := f.manager.Start(context.Background(), StartRequest{Message: "order coffee", UserID: "u1"})
	var admissionErr *AdmissionError
	require.ErrorAs(t, err, &admissionErr)
	assert.Equal(t, "insufficient_credits", admissionErr.Reason)
	require.NotNil(t, admissionErr.CurrentBalance)
	assert.Equal(t, 0.25, *admissionErr.CurrentBalance)

	// Nothing was dispatched and nothing was persisted.
	assert.Empty(t, f.voice.ended)
	sessions, err := f.store.ListActiveSessionsOlderThan(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStartDispatchFailureCreatesNoSession(t *testing.T) {
	f := newFixture(t)
	f.voice.startErr = fmt.Errorf("voice provider returned status 500: boom")

	_, err := f.manager.Start(context.Background(), StartRequest{Message: "order coffee"})
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "conversation", dispatchErr.Stage)

	sessions, err := f.store.ListActiveSessionsOlderThan(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, sessions)
	// The room created before the failure is released.
	assert.Contains(t, f.rooms.deleted, "room-1")
}

func TestStartUnknownWorkflow(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Start(context.Background(), StartRequest{Message: "hi", Workflow: "nope"})
	var notFound *workflow.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), DefaultWorkflow)
}

func TestGetStatusUnknownJob(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.GetStatus(context.Background(), "no-such-job")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetStatusWhileActive(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRunning, session.Status)
	assert.Nil(t, session.CompletedAt)
	assert.Nil(t, session.Result)
}

func TestGetStatusReconcilesCompletion(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusRunning, session.Status)

	f.voice.hangUp(session.ExternalRef)

	session, err = f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.CompletedAt)
	require.NotNil(t, session.Result)
	assert.Equal(t, "hello", session.Result["transcript"])
	// The background workflow's output is merged into the result.
	assert.Equal(t, "order-1", session.Result["order_id"])

	// A second poll returns the identical terminal payload.
	again, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, session.Status, again.Status)
	assert.Equal(t, session.Result, again.Result)
	assert.Equal(t, session.CompletedAt.Unix(), again.CompletedAt.Unix())
}

func TestGetStatusRecordsFetchFailure(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	f.voice.hangUp(session.ExternalRef)
	f.voice.fetchErr = fmt.Errorf("voice provider returned status 401: Invalid API key")

	session, err = f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	require.NotNil(t, session.CompletedAt)
	assert.Contains(t, session.Error, "Invalid API key")
	assert.Nil(t, session.Result)
}

func TestWorkflowFailureIsRecordedIntoSession(t *testing.T) {
	f := newFixture(t, &scriptedWorkflow{
		name:    DefaultWorkflow,
		outcome: map[string]any{"status": "error", "error": "select product: no products found for query \"x\""},
	})
	result := f.start(t, StartRequest{Message: "x"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Contains(t, session.Error, "no products found")
	require.NotNil(t, session.CompletedAt)
}

func TestConcurrentReconciliationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	f.voice.hangUp(session.ExternalRef)

	const readers = 8
	var wg sync.WaitGroup
	sessions := make([]*models.Session, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.manager.GetStatus(context.Background(), result.JobID)
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range sessions {
		assert.Equal(t, models.SessionStatusCompleted, s.Status)
		assert.Equal(t, sessions[0].CompletedAt.Unix(), s.CompletedAt.Unix())
	}
}

func TestStopByExternalRef(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})
	session, err := f.store.GetSession(context.Background(), result.JobID)
	require.NoError(t, err)

	stop, err := f.manager.StopByExternalRef(context.Background(), session.ExternalRef)
	require.NoError(t, err)
	assert.True(t, stop.Found)
	assert.Equal(t, result.JobID, stop.JobID)
	assert.Contains(t, f.voice.ended, session.ExternalRef)

	missing, err := f.manager.StopByExternalRef(context.Background(), "conv-unknown")
	require.NoError(t, err)
	assert.False(t, missing.Found)
}

func TestCleanupLongRunning(t *testing.T) {
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	// Backdate the session so it exceeds the age threshold.
	session, err := f.store.GetSession(context.Background(), result.JobID)
	require.NoError(t, err)
	session.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, f.store.UpdateSession(context.Background(), session))

	stopped, err := f.manager.CleanupLongRunning(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, stopped)

	final, err := f.store.GetSession(context.Background(), result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusFailed, final.Status)
	assert.Contains(t, final.Error, "cleanup")

	// Second pass finds nothing left to stop.
	stopped, err = f.manager.CleanupLongRunning(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, stopped)
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetricsCountStartsAndFinalizations(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(noop.NewMeterProvider()) })

	// The fixture must be built after the provider is installed; counters
	// are bound at construction.
	f := newFixture(t)
	result := f.start(t, StartRequest{Message: "order coffee"})

	session, err := f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)
	f.voice.hangUp(session.ExternalRef)
	_, err = f.manager.GetStatus(context.Background(), result.JobID)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), counterValue(t, rm, "concierge.jobs.started"))
	assert.Equal(t, int64(1), counterValue(t, rm, "concierge.sessions.finalized"))
}

func TestRunWorkflowSynchronously(t *testing.T) {
	f := newFixture(t, &scriptedWorkflow{
		name:    "menu-search",
		outcome: map[string]any{"status": "success", "query": "coffee"},
	})

	outcome, err := f.manager.RunWorkflow(context.Background(), "menu-search",
		workflow.Input{Message: "coffee"}, workflow.Correlation{})
	require.NoError(t, err)
	assert.Equal(t, "success", outcome["status"])

	_, err = f.manager.RunWorkflow(context.Background(), "nope",
		workflow.Input{Message: "coffee"}, workflow.Correlation{})
	var notFound *workflow.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
