// Package orchestrator implements the job lifecycle: admission-gated
// start, fire-and-forget workflow execution, and lazy poll-time
// reconciliation of terminal state.
//
// Known limitation: if session persistence fails after the external
// process was dispatched, the process is orphaned from the caller's
// perspective. The caller receives a StorageError; no reconciliation
// sweep cross-checks provider state against stored sessions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxhall/concierge/internal/events"
	"github.com/voxhall/concierge/internal/logging"
	"github.com/voxhall/concierge/internal/provider"
	"github.com/voxhall/concierge/internal/repository"
	"github.com/voxhall/concierge/internal/workflow"
	"github.com/voxhall/concierge/pkg/models"
)

// MaxMessageLength is the upper bound on the input message, in characters.
// A message of exactly this length is accepted; one character more is
// rejected.
const MaxMessageLength = 10000

// DefaultWorkflow is executed when a start request names no workflow.
const DefaultWorkflow = "order-food"

// AdmissionGate is the pre-flight credit check consulted before a job may
// start. The decision must be computed fresh on every call.
type AdmissionGate interface {
	Check(ctx context.Context, principal string) (models.AdmissionDecision, error)
}

// StartRequest carries one job start.
type StartRequest struct {
	Message   string
	Workflow  string
	Params    map[string]any
	UserID    string
	ChannelID string
	Agent     provider.AgentConfig
}

// StartResult is returned to the caller as soon as the session is
// persisted; execution continues out of band.
type StartResult struct {
	JobID   string               `json:"job_id"`
	RoomURL string               `json:"room_url"`
	Status  models.SessionStatus `json:"status"`
}

// StopResult reports whether a matching active process was found.
type StopResult struct {
	Found bool
	JobID string
}

// liveHandle is one entry in the in-memory liveness table, keyed by the
// job's external reference.
type liveHandle struct {
	jobID          string
	conversationID string
	roomID         string
	output         map[string]any
}

// managerMetrics holds the counters recorded against the global meter
// provider. With no SDK installed they are no-ops.
type managerMetrics struct {
	jobsStarted       metric.Int64Counter
	sessionsFinalized metric.Int64Counter
}

func newManagerMetrics() managerMetrics {
	meter := otel.Meter("github.com/voxhall/concierge/internal/orchestrator")
	jobsStarted, _ := meter.Int64Counter("concierge.jobs.started",
		metric.WithDescription("Jobs admitted, dispatched and persisted"))
	sessionsFinalized, _ := meter.Int64Counter("concierge.sessions.finalized",
		metric.WithDescription("Sessions transitioned to a terminal state"))
	return managerMetrics{jobsStarted: jobsStarted, sessionsFinalized: sessionsFinalized}
}

// Manager orchestrates job starts and reconciles status on read. It owns
// the liveness table; the Store is the only state shared across processes.
type Manager struct {
	store    repository.Store
	gate     AdmissionGate
	registry *workflow.Registry
	rooms    provider.RoomProvider
	voice    provider.VoiceProvider
	events   events.Publisher
	logger   *logging.Logger
	metrics  managerMetrics

	mu     sync.Mutex
	active map[string]*liveHandle

	wg sync.WaitGroup
}

// NewManager creates a Manager with an empty liveness table.
func NewManager(store repository.Store, gate AdmissionGate, registry *workflow.Registry,
	rooms provider.RoomProvider, voice provider.VoiceProvider,
	publisher events.Publisher, logger *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		gate:     gate,
		registry: registry,
		rooms:    rooms,
		voice:    voice,
		events:   publisher,
		logger:   logger,
		metrics:  newManagerMetrics(),
		active:   make(map[string]*liveHandle),
	}
}

// Close waits for in-flight background executions to record their outcome.
func (m *Manager) Close() {
	m.wg.Wait()
}

// Start validates the request, consults the admission gate, dispatches the
// external process, persists the session and kicks off background
// execution. It returns as soon as the session exists.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if err := validateMessage(req.Message); err != nil {
		return nil, err
	}

	name := req.Workflow
	if name == "" {
		name = DefaultWorkflow
	}
	wf, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}

	decision, err := m.gate.Check(ctx, req.UserID)
	if err != nil {
		return nil, &StorageError{Op: "check admission", Err: err}
	}
	if !decision.Approved {
		return nil, &AdmissionError{Reason: decision.Reason, CurrentBalance: decision.CurrentBalance}
	}

	room, conversationID, err := m.dispatch(ctx, req.Agent)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		JobID:       uuid.New().String(),
		Workflow:    name,
		Status:      models.SessionStatusStarted,
		ExternalRef: conversationID,
		RoomURL:     room.URL,
		UserID:      req.UserID,
		ChannelID:   req.ChannelID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		m.logger.Warn("session save failed after dispatch; conversation %s is orphaned: %v", conversationID, err)
		return nil, &StorageError{Op: "persist session", Err: err}
	}

	m.mu.Lock()
	m.active[conversationID] = &liveHandle{
		jobID:          session.JobID,
		conversationID: conversationID,
		roomID:         room.ID,
	}
	m.mu.Unlock()

	m.publish(session)
	m.metrics.jobsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow", name)))

	m.wg.Add(1)
	go m.execute(session, wf, workflow.Input{Message: req.Message, Params: req.Params},
		workflow.Correlation{UserID: req.UserID, ChannelID: req.ChannelID})

	return &StartResult{JobID: session.JobID, RoomURL: room.URL, Status: session.Status}, nil
}

// dispatch creates the room, provisions the agent and starts the
// conversation. A failure at any stage is a DispatchError; resources
// already created are released best effort.
func (m *Manager) dispatch(ctx context.Context, cfg provider.AgentConfig) (provider.Room, string, error) {
	room, err := m.rooms.CreateRoom(ctx)
	if err != nil {
		return provider.Room{}, "", &DispatchError{Stage: "room", Err: err}
	}

	agentID, err := m.voice.CreateAgent(ctx, cfg)
	if err != nil {
		m.releaseRoom(room.ID)
		return provider.Room{}, "", &DispatchError{Stage: "agent", Err: err}
	}

	conversationID, err := m.voice.StartConversation(ctx, agentID, room.URL)
	if err != nil {
		m.releaseRoom(room.ID)
		return provider.Room{}, "", &DispatchError{Stage: "conversation", Err: err}
	}
	return room, conversationID, nil
}

// execute runs the job's workflow in the background. A workflow failure is
// always recorded into the session; it never surfaces anywhere else.
func (m *Manager) execute(session *models.Session, wf workflow.Workflow, input workflow.Input, corr workflow.Correlation) {
	defer m.wg.Done()
	ctx := context.Background()

	outcome, err := wf.Execute(ctx, input, corr)
	if err != nil {
		m.finalize(ctx, session.JobID, nil, fmt.Sprintf("workflow %s: %v", session.Workflow, err))
		return
	}
	if status, _ := outcome["status"].(string); status == "error" {
		message, _ := outcome["error"].(string)
		m.finalize(ctx, session.JobID, nil, fmt.Sprintf("workflow %s: %s", session.Workflow, message))
		return
	}

	m.mu.Lock()
	if handle, ok := m.active[session.ExternalRef]; ok {
		handle.output = outcome
	}
	m.mu.Unlock()

	session.Status = models.SessionStatusRunning
	if err := m.store.UpdateSession(ctx, session); err != nil {
		m.logger.Error("failed to mark session %s running: %v", session.JobID, err)
		return
	}
	m.publish(session)
}

// GetStatus returns the session's current state, reconciling it against
// the external process when the stored status is non-terminal. It never
// blocks on the job finishing.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Message: fmt.Sprintf("job %s not found", jobID)}
	}
	if err != nil {
		return nil, &StorageError{Op: "load session", Err: err}
	}
	if session.Status.Terminal() {
		return session, nil
	}

	alive, err := m.voice.ConversationActive(ctx, session.ExternalRef)
	if err != nil {
		return m.finalize(ctx, session.JobID, nil, fmt.Sprintf("liveness probe failed: %v", err))
	}
	if alive {
		// Informational only; the stored record is not touched.
		session.Status = models.SessionStatusRunning
		return session, nil
	}

	results, err := m.voice.FetchResults(ctx, session.ExternalRef)
	if err != nil {
		return m.finalize(ctx, session.JobID, nil, fmt.Sprintf("failed to fetch results: %v", err))
	}

	result := map[string]any{"transcript": results.Transcript}
	if results.Insights != nil {
		result["insights"] = results.Insights
	}
	m.mu.Lock()
	if handle, ok := m.active[session.ExternalRef]; ok && handle.output != nil {
		for k, v := range handle.output {
			result[k] = v
		}
	}
	m.mu.Unlock()

	return m.finalize(ctx, session.JobID, result, "")
}

// finalize transitions a session to its terminal state and returns the
// stored record. The store ignores updates to already-terminal rows, so a
// racing reconciliation is harmless; the canonical record is re-read after
// the write.
func (m *Manager) finalize(ctx context.Context, jobID string, result map[string]any, errMsg string) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, jobID)
	if err != nil {
		return nil, &StorageError{Op: "load session", Err: err}
	}
	if session.Status.Terminal() {
		m.forget(session.ExternalRef)
		return session, nil
	}

	now := time.Now().UTC()
	session.CompletedAt = &now
	if errMsg != "" {
		session.Status = models.SessionStatusFailed
		session.Error = errMsg
		session.Result = nil
	} else {
		session.Status = models.SessionStatusCompleted
		session.Result = result
	}

	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, &StorageError{Op: "persist session", Err: err}
	}
	m.forget(session.ExternalRef)

	stored, err := m.store.GetSession(ctx, jobID)
	if err != nil {
		return nil, &StorageError{Op: "load session", Err: err}
	}
	m.publish(stored)
	m.metrics.sessionsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", string(stored.Status))))
	return stored, nil
}

// StopByExternalRef stops the external process keyed by its reachability
// handle. A missing handle is reported as not found, not as an error.
func (m *Manager) StopByExternalRef(ctx context.Context, ref string) (StopResult, error) {
	m.mu.Lock()
	handle, ok := m.active[ref]
	m.mu.Unlock()
	if !ok {
		return StopResult{Found: false}, nil
	}

	if err := m.voice.EndConversation(ctx, handle.conversationID); err != nil {
		m.logger.Warn("failed to end conversation %s: %v", handle.conversationID, err)
	}
	m.releaseRoom(handle.roomID)
	return StopResult{Found: true, JobID: handle.jobID}, nil
}

// CleanupLongRunning force-stops and finalizes sessions older than maxAge.
// It is safe to run concurrently with organic polling: stopping an already
// stopped process is a no-op and finalization short-circuits on terminal
// rows.
func (m *Manager) CleanupLongRunning(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	sessions, err := m.store.ListActiveSessionsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, &StorageError{Op: "list sessions", Err: err}
	}

	stopped := 0
	for _, session := range sessions {
		if err := m.voice.EndConversation(ctx, session.ExternalRef); err != nil {
			m.logger.Warn("failed to end conversation %s: %v", session.ExternalRef, err)
		}
		m.mu.Lock()
		handle, ok := m.active[session.ExternalRef]
		m.mu.Unlock()
		if ok {
			m.releaseRoom(handle.roomID)
		}
		if _, err := m.finalize(ctx, session.JobID,
			nil, fmt.Sprintf("stopped by cleanup after exceeding max age %s", maxAge)); err != nil {
			m.logger.Error("failed to finalize session %s during cleanup: %v", session.JobID, err)
			continue
		}
		stopped++
	}
	return stopped, nil
}

// RunWorkflow executes a named workflow synchronously. No session is
// created and no admission check applies.
func (m *Manager) RunWorkflow(ctx context.Context, name string, input workflow.Input, corr workflow.Correlation) (map[string]any, error) {
	if err := validateMessage(input.Message); err != nil {
		return nil, err
	}
	wf, err := m.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return wf.Execute(ctx, input, corr)
}

// ListWorkflows returns the registered workflow descriptors.
func (m *Manager) ListWorkflows() []models.WorkflowDescriptor {
	return m.registry.List()
}

func (m *Manager) forget(ref string) {
	m.mu.Lock()
	delete(m.active, ref)
	m.mu.Unlock()
}

func (m *Manager) releaseRoom(roomID string) {
	if roomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.rooms.DeleteRoom(ctx, roomID); err != nil {
		m.logger.Warn("failed to delete room %s: %v", roomID, err)
	}
}

func (m *Manager) publish(session *models.Session) {
	if err := m.events.SessionTransition(session); err != nil {
		m.logger.Warn("failed to publish session event for %s: %v", session.JobID, err)
	}
}

func validateMessage(message string) error {
	if message == "" {
		return &ValidationError{Message: "message is required"}
	}
	// The bound is a character count, so multibyte input is not penalized.
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return &ValidationError{Message: fmt.Sprintf("message exceeds maximum length of %d characters", MaxMessageLength)}
	}
	return nil
}
