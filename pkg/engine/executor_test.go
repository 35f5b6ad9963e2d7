package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ispworks/sagaflow/pkg/adapters"
	"github.com/ispworks/sagaflow/pkg/definition"
	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/locker"
	"github.com/ispworks/sagaflow/pkg/models"
	"github.com/ispworks/sagaflow/pkg/persistence"
	"github.com/ispworks/sagaflow/pkg/persistence/file"
)

// scriptedCall is one pre-programmed adapter response. A nil error with zero
// delay is an immediate success.
type scriptedCall struct {
	delay time.Duration
	err   error
}

// fakeAdapter serves scripted responses per operation and records every
// forward and compensating call it receives. Once an operation's script is
// exhausted, further calls succeed.
type fakeAdapter struct {
	name string

	mu             sync.Mutex
	script         map[string][]scriptedCall
	invocations    map[string]int
	payloads       map[string][]map[string]any
	compensated    []string
	compensateErrs map[string]error

	// When set, Invoke signals started and blocks until proceed is closed.
	started chan string
	proceed chan struct{}
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:           name,
		script:         make(map[string][]scriptedCall),
		invocations:    make(map[string]int),
		payloads:       make(map[string][]map[string]any),
		compensateErrs: make(map[string]error),
	}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) scriptCalls(operation string, calls ...scriptedCall) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.script[operation] = append(a.script[operation], calls...)
}

func (a *fakeAdapter) Invoke(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	a.mu.Lock()
	a.invocations[operation]++
	a.payloads[operation] = append(a.payloads[operation], payload)

	var call scriptedCall
	if queue := a.script[operation]; len(queue) > 0 {
		call = queue[0]
		a.script[operation] = queue[1:]
	}
	a.mu.Unlock()

	if a.started != nil {
		a.started <- operation
		<-a.proceed
	}

	if call.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(call.delay):
		}
	}

	if call.err != nil {
		return nil, call.err
	}

	return map[string]any{operation + "_done": true}, nil
}

func (a *fakeAdapter) Compensate(_ context.Context, operation string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.compensated = append(a.compensated, operation)

	return a.compensateErrs[operation]
}

func (a *fakeAdapter) invoked(operation string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.invocations[operation]
}

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

func testConfig() Config {
	return Config{
		StepTimeout: 200 * time.Millisecond,
		LockTTL:     time.Minute,
		StaleAfter:  time.Minute,
		WorkerID:    "test-worker",
	}
}

func testEnv(t *testing.T, defs []definition.Definition, fakes ...*fakeAdapter) (*Executor, persistence.WorkflowRepository, *capturePublisher) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	registry := definition.NewEmptyRegistry()
	for _, def := range defs {
		require.NoError(t, registry.Register(def))
	}

	adapterRegistry := adapters.NewRegistry(logger)
	for _, fake := range fakes {
		adapterRegistry.Register(fake)
	}

	repo := file.NewWorkflowRepository(t.TempDir())
	bus := &capturePublisher{}
	executor := NewExecutor(logger, repo, registry, adapterRegistry, bus, locker.NewMemoryLocker(), testConfig())

	return executor, repo, bus
}

func provisionDefinition(stepRetries int) definition.Definition {
	return definition.Definition{
		Type:       models.WorkflowTypeProvisionSubscriber,
		MaxRetries: 3,
		Steps: []definition.StepTemplate{
			{Name: "create_account", TargetSystem: "billing", Operation: "create_account", Compensation: "delete_account", MaxRetries: stepRetries},
			{Name: "allocate_ip", TargetSystem: "billing", Operation: "allocate_ip", Compensation: "release_ip", MaxRetries: stepRetries},
		},
	}
}

func terminateDefinition() definition.Definition {
	return definition.Definition{
		Type:       models.WorkflowTypeTerminateService,
		MaxRetries: 2,
		Steps: []definition.StepTemplate{
			{Name: "deactivate_service", TargetSystem: "activation", Operation: "deactivate_service", Compensation: "activate_service", MaxRetries: 1},
			{Name: "close_billing_account", TargetSystem: "activation", Operation: "close_account", Compensation: "reopen_account", MaxRetries: 1},
		},
	}
}

func startWorkflow(t *testing.T, executor *Executor, workflowType models.WorkflowType) *models.WorkflowInstance {
	t.Helper()

	workflow, err := executor.Start(t.Context(), workflowType, map[string]any{"subscriber_id": "sub-1"},
		models.Initiator{ID: "op-1", Type: "operator"}, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, models.WorkflowStatusPending, workflow.Status)

	return workflow
}

func TestStartUnknownWorkflowType(t *testing.T) {
	executor, repo, _ := testEnv(t, nil)

	_, err := executor.Start(t.Context(), "defragment_subscriber", nil,
		models.Initiator{ID: "op-1", Type: "operator"}, "tenant-1")
	require.ErrorIs(t, err, definition.ErrUnknownWorkflowType)

	// No instance is created for a rejected start.
	result, err := repo.List(t.Context(), persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Workflows)
}

func TestRunCompletesWorkflow(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, repo, bus := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)

	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.AllStepsCompleted())
	assert.Equal(t, true, stored.OutputData["create_account_done"])
	assert.Equal(t, true, stored.OutputData["allocate_ip_done"])

	// The second step's payload carries the input plus the first step's
	// recorded output.
	payload := billing.payloads["allocate_ip"][0]
	assert.Equal(t, "sub-1", payload["subscriber_id"])
	assert.Equal(t, true, payload["create_account_done"])

	assert.Equal(t, []events.EventType{
		events.WorkflowStartedEvent,
		events.StepCompletedEvent,
		events.StepCompletedEvent,
		events.WorkflowCompletedEvent,
	}, bus.types())
}

func TestStepRetriesWithinBudgetThenSucceeds(t *testing.T) {
	billing := newFakeAdapter("billing")
	billing.scriptCalls("allocate_ip",
		scriptedCall{err: adapters.Retryable(errors.New("ip pool busy"))},
		scriptedCall{err: adapters.Retryable(errors.New("ip pool busy"))},
	)

	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)

	step := stored.StepByOrder(1)
	require.NotNil(t, step)
	assert.Equal(t, models.StepStatusCompleted, step.Status)
	assert.Equal(t, 2, step.RetryCount)
	assert.Empty(t, step.ErrorMessage)
	assert.Equal(t, 3, billing.invoked("allocate_ip"))

	// Workflow-level budget was never touched.
	assert.Equal(t, 0, stored.RetryCount)
}

func TestRetryExhaustionRollsBack(t *testing.T) {
	failures := make([]scriptedCall, 0, 10)
	for range 10 {
		failures = append(failures, scriptedCall{err: adapters.Retryable(errors.New("radius unreachable"))})
	}

	billing := newFakeAdapter("billing")
	billing.scriptCalls("allocate_ip", failures...)

	def := provisionDefinition(1)
	def.MaxRetries = 2

	executor, repo, bus := testEnv(t, []definition.Definition{def}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompensated, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Contains(t, stored.ErrorMessage, "allocate_ip")

	assert.Equal(t, models.StepStatusFailed, stored.StepByOrder(1).Status)
	assert.Equal(t, models.StepStatusCompensated, stored.StepByOrder(0).Status)
	assert.Equal(t, []string{"delete_account"}, billing.compensated)

	// Step budget of 1 gives two attempts in the first pass; the single
	// workflow-level retry grants one more before the budget runs out.
	assert.Equal(t, 3, billing.invoked("allocate_ip"))

	assert.Contains(t, bus.types(), events.WorkflowFailedEvent)
	assert.Contains(t, bus.types(), events.WorkflowCompensatedEvent)
}

func TestFatalErrorCompensatesImmediately(t *testing.T) {
	activation := newFakeAdapter("activation")
	activation.scriptCalls("close_account",
		scriptedCall{err: adapters.Fatal(errors.New("account has open disputes"))})

	executor, repo, _ := testEnv(t, []definition.Definition{terminateDefinition()}, activation)
	workflow := startWorkflow(t, executor, models.WorkflowTypeTerminateService)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompensated, stored.Status)

	// Fatal failures bypass both retry budgets.
	assert.Equal(t, 1, activation.invoked("close_account"))
	assert.Equal(t, 0, stored.RetryCount)
	assert.Equal(t, 0, stored.StepByOrder(1).RetryCount)
	assert.Equal(t, models.StepStatusFailed, stored.StepByOrder(1).Status)
	assert.Equal(t, models.StepStatusCompensated, stored.StepByOrder(0).Status)
	assert.Equal(t, []string{"activate_service"}, activation.compensated)
}

func TestCompensationFailureLeavesRolledBack(t *testing.T) {
	activation := newFakeAdapter("activation")
	activation.scriptCalls("close_account",
		scriptedCall{err: adapters.Fatal(errors.New("account has open disputes"))})
	activation.compensateErrs["activate_service"] = errors.New("controller rejected reactivation")

	executor, repo, bus := testEnv(t, []definition.Definition{terminateDefinition()}, activation)
	workflow := startWorkflow(t, executor, models.WorkflowTypeTerminateService)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusRolledBack, stored.Status)
	assert.Equal(t, models.StepStatusCompensationFailed, stored.StepByOrder(0).Status)
	assert.Contains(t, stored.StepByOrder(0).ErrorMessage, "controller rejected reactivation")

	assert.Contains(t, bus.types(), events.WorkflowRolledBackEvent)
	assert.NotContains(t, bus.types(), events.WorkflowCompensatedEvent)
}

func TestStepWithoutCompensationIsSkipped(t *testing.T) {
	def := terminateDefinition()
	def.Steps[0].Compensation = ""

	activation := newFakeAdapter("activation")
	activation.scriptCalls("close_account",
		scriptedCall{err: adapters.Fatal(errors.New("account has open disputes"))})

	executor, repo, _ := testEnv(t, []definition.Definition{def}, activation)
	workflow := startWorkflow(t, executor, models.WorkflowTypeTerminateService)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompensated, stored.Status)
	assert.Equal(t, models.StepStatusSkipped, stored.StepByOrder(0).Status)
	assert.Empty(t, activation.compensated)
}

func TestTimeoutTreatedAsRetryable(t *testing.T) {
	billing := newFakeAdapter("billing")
	billing.scriptCalls("create_account", scriptedCall{delay: time.Second})

	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.StepByOrder(0).RetryCount)
	assert.Equal(t, 2, billing.invoked("create_account"))
}

func TestRetryFailedWorkflowResumesWithoutReplay(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	// Drive the instance into a failed state by hand: step 1 applied, step 2
	// exhausted its budget.
	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusFailed
	workflow.ErrorMessage = "step allocate_ip failed"
	workflow.StartedAt = &now
	workflow.Steps[0].Status = models.StepStatusCompleted
	workflow.Steps[0].Output = map[string]any{"account_id": "acct-9"}
	workflow.Steps[1].Status = models.StepStatusFailed
	workflow.Steps[1].ErrorMessage = "ip pool exhausted"
	workflow.Steps[1].RetryCount = 3
	require.NoError(t, repo.Update(t.Context(), workflow))

	prepared, err := executor.PrepareRetry(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPending, prepared.Status)
	assert.Empty(t, prepared.ErrorMessage)
	assert.Equal(t, models.StepStatusPending, prepared.StepByOrder(1).Status)
	assert.Empty(t, prepared.StepByOrder(1).ErrorMessage)
	// Completed steps and retry counters are preserved.
	assert.Equal(t, models.StepStatusCompleted, prepared.StepByOrder(0).Status)
	assert.Equal(t, 3, prepared.StepByOrder(1).RetryCount)

	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)

	// The completed step's forward operation was never replayed, and the
	// retried step saw its recorded output in the payload.
	assert.Equal(t, 0, billing.invoked("create_account"))
	assert.Equal(t, 1, billing.invoked("allocate_ip"))
	assert.Equal(t, "acct-9", billing.payloads["allocate_ip"][0]["account_id"])
}

func TestRetryCompletedWorkflowRejected(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)
	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	_, err := executor.PrepareRetry(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
}

func TestCancelPendingWorkflow(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	require.NoError(t, executor.Cancel(t.Context(), workflow.ID))

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompensated, stored.Status)
	assert.Equal(t, CancelledMessage, stored.ErrorMessage)

	// No adapter is ever touched for a workflow that never ran a step.
	assert.Empty(t, billing.invocations)
	assert.Empty(t, billing.compensated)
}

func TestCancelRunningWorkflow(t *testing.T) {
	billing := newFakeAdapter("billing")
	billing.started = make(chan string, 1)
	billing.proceed = make(chan struct{})

	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	done := make(chan error, 1)
	go func() { done <- executor.Run(context.Background(), workflow.ID) }()

	// Wait for the first step's adapter call, cancel, then let it finish.
	<-billing.started
	require.NoError(t, executor.Cancel(t.Context(), workflow.ID))
	close(billing.proceed)

	require.NoError(t, <-done)

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompensated, stored.Status)
	assert.Equal(t, CancelledMessage, stored.ErrorMessage)

	// The in-flight step ran to completion and was compensated; the second
	// step was never dispatched.
	assert.Equal(t, []string{"delete_account"}, billing.compensated)
	assert.Equal(t, 0, billing.invoked("allocate_ip"))
}

func TestCancelCompletedWorkflowRejected(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, repo, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)
	require.NoError(t, executor.Run(t.Context(), workflow.ID))

	err := executor.Cancel(t.Context(), workflow.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, stored.Status)
}

func TestRunRespectsInstanceLock(t *testing.T) {
	billing := newFakeAdapter("billing")
	executor, _, _ := testEnv(t, []definition.Definition{provisionDefinition(3)}, billing)
	workflow := startWorkflow(t, executor, models.WorkflowTypeProvisionSubscriber)

	lock, err := executor.locker.Acquire(t.Context(), workflow.ID, time.Minute)
	require.NoError(t, err)
	defer func() { _ = lock.Release(t.Context()) }()

	err = executor.Run(t.Context(), workflow.ID)
	require.ErrorIs(t, err, locker.ErrAlreadyLocked)
}
