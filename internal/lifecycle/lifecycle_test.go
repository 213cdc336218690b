package lifecycle

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chainindex/coordinator/internal/blockstream"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/handlers"
	"github.com/chainindex/coordinator/internal/indexerstate"
	"github.com/chainindex/coordinator/internal/registry"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store/memstore"
)

func testIdentity() registrytypes.Identity {
	return registrytypes.Identity{AccountID: "morgs.near", FunctionName: "my_indexer"}
}

func testConfig() registrytypes.IndexerConfig {
	return registrytypes.IndexerConfig{
		Identity:             testIdentity(),
		Rule:                 registrytypes.Rule{Kind: registrytypes.RuleActionAny},
		CreatedAtBlockHeight: 10,
	}
}

type fakeStreamerClient struct {
	info       *blockstream.StreamInfo
	startCalls int
	stopCalls  int
}

func (f *fakeStreamerClient) StartStream(ctx context.Context, req handlers.StartStreamRequest) error {
	f.startCalls++
	v := req.Version
	f.info = &blockstream.StreamInfo{Version: v, Health: &blockstream.Health{UpdatedAt: time.Now(), ProcessingState: blockstream.Running}}
	return nil
}
func (f *fakeStreamerClient) StopStream(ctx context.Context, streamID string) error {
	f.stopCalls++
	f.info = nil
	return nil
}
func (f *fakeStreamerClient) GetStream(ctx context.Context, accountID, functionName string) (*blockstream.StreamInfo, error) {
	if f.info == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return f.info, nil
}

type fakeExecClient struct {
	info       *handlers.ExecutorInfo
	startCalls int
	stopCalls  int
}

func (f *fakeExecClient) ListExecutors(ctx context.Context) ([]handlers.ExecutorInfo, error) {
	if f.info == nil {
		return nil, nil
	}
	return []handlers.ExecutorInfo{*f.info}, nil
}
func (f *fakeExecClient) GetExecutor(ctx context.Context, accountID, functionName string) (*handlers.ExecutorInfo, error) {
	if f.info == nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return f.info, nil
}
func (f *fakeExecClient) StartExecutor(ctx context.Context, req handlers.StartExecutorRequest) error {
	f.startCalls++
	f.info = &handlers.ExecutorInfo{ExecutorID: "e1", Version: req.Version}
	return nil
}
func (f *fakeExecClient) StopExecutor(ctx context.Context, executorID string) error {
	f.stopCalls++
	f.info = nil
	return nil
}

type fakeDataLayerClient struct {
	failProvisioning bool
}

func (f *fakeDataLayerClient) StartProvisioningTask(ctx context.Context, accountID, functionName, schema string) (string, error) {
	return "task-1", nil
}
func (f *fakeDataLayerClient) StartDeprovisioningTask(ctx context.Context, accountID, functionName string) (string, error) {
	return "task-2", nil
}
func (f *fakeDataLayerClient) GetTaskStatus(ctx context.Context, taskID string) (handlers.TaskStatus, error) {
	if f.failProvisioning {
		return handlers.TaskFailed, nil
	}
	return handlers.TaskComplete, nil
}

type harness struct {
	manager      *Manager
	states       *indexerstate.Manager
	reg          *registry.MemRegistry
	streamClient *fakeStreamerClient
	execClient   *fakeExecClient
	dataClient   *fakeDataLayerClient
}

func newHarness(t *testing.T, deprovisionOnDelete bool) *harness {
	t.Helper()
	st := memstore.New()

	states, err := indexerstate.NewManager(st)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	reg := registry.NewMemRegistry()

	streamClient := &fakeStreamerClient{}
	bsh, err := handlers.NewBlockStreamsHandler(streamClient, st, zap.NewNop())
	if err != nil {
		t.Fatalf("NewBlockStreamsHandler: %v", err)
	}

	execClient := &fakeExecClient{}
	eh, err := handlers.NewExecutorsHandler(execClient, zap.NewNop())
	if err != nil {
		t.Fatalf("NewExecutorsHandler: %v", err)
	}

	dataClient := &fakeDataLayerClient{}
	dlh, err := handlers.NewDataLayerHandler(dataClient, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDataLayerHandler: %v", err)
	}

	m, err := New(testIdentity(), Deps{
		Registry:            reg,
		States:              states,
		BlockStreams:        bsh,
		Executors:           eh,
		DataLayer:           dlh,
		Bus:                 eventbus.New(),
		Logger:              zap.NewNop(),
		Throttle:            time.Millisecond,
		DeprovisionOnDelete: deprovisionOnDelete,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &harness{manager: m, states: states, reg: reg, streamClient: streamClient, execClient: execClient, dataClient: dataClient}
}

func TestInitializingTransitionsToRunningOnProvisioningSuccess(t *testing.T) {
	h := newHarness(t, false)
	h.reg.Put(testConfig())

	done, err := h.manager.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if done {
		t.Fatal("Tick() done = true, want false")
	}

	state, _, _ := h.states.Get(context.Background(), testIdentity())
	if state.LifecycleState != indexerstate.Running {
		t.Errorf("LifecycleState = %v, want Running", state.LifecycleState)
	}
	if state.ProvisionedState.Kind != indexerstate.Provisioned {
		t.Errorf("ProvisionedState = %v, want Provisioned", state.ProvisionedState.Kind)
	}
}

func TestInitializingTransitionsToRepairingOnProvisioningFailure(t *testing.T) {
	h := newHarness(t, false)
	h.dataClient.failProvisioning = true
	h.reg.Put(testConfig())

	if _, err := h.manager.Tick(context.Background()); err == nil {
		t.Fatal("Tick() error = nil, want error for failed provisioning")
	}

	state, _, _ := h.states.Get(context.Background(), testIdentity())
	if state.LifecycleState != indexerstate.Repairing {
		t.Errorf("LifecycleState = %v, want Repairing", state.LifecycleState)
	}
}

func TestInitializingTransitionsToDeletingWhenDeleted(t *testing.T) {
	h := newHarness(t, false)
	// Config absent entirely: treated as deleted (see the comment inside Tick).

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	state, _, _ := h.states.Get(context.Background(), testIdentity())
	if state.LifecycleState != indexerstate.Deleting {
		t.Errorf("LifecycleState = %v, want Deleting", state.LifecycleState)
	}
}

func runningHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, false)
	cfg := testConfig()
	h.reg.Put(cfg)

	synced := cfg.RegistryVersion()
	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Running
	s.ProvisionedState = indexerstate.ProvisionedState{Kind: indexerstate.Provisioned}
	s.BlockStreamSyncedAt = &synced
	if err := h.states.Set(context.Background(), testIdentity(), s); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return h
}

func TestRunningTransitionsToSuspendingWhenDisabled(t *testing.T) {
	h := runningHarness(t)
	s, _, _ := h.states.Get(context.Background(), testIdentity())
	s.Enabled = false
	h.states.Set(context.Background(), testIdentity(), s)

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Suspending {
		t.Errorf("LifecycleState = %v, want Suspending", got.LifecycleState)
	}
}

func TestRunningStartsNewStreamWhenNotStarted(t *testing.T) {
	h := runningHarness(t)
	s, _, _ := h.states.Get(context.Background(), testIdentity())
	s.BlockStreamSyncedAt = nil
	h.states.Set(context.Background(), testIdentity(), s)

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if h.streamClient.startCalls != 1 {
		t.Errorf("startCalls = %d, want 1", h.streamClient.startCalls)
	}

	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Running {
		t.Errorf("LifecycleState = %v, want Running", got.LifecycleState)
	}
	if got.BlockStreamSyncedAt == nil || *got.BlockStreamSyncedAt != testConfig().RegistryVersion() {
		t.Errorf("BlockStreamSyncedAt = %v, want %d", got.BlockStreamSyncedAt, testConfig().RegistryVersion())
	}
}

func TestRunningRestartsUnhealthyStream(t *testing.T) {
	h := runningHarness(t)
	h.streamClient.info = &blockstream.StreamInfo{Version: testConfig().RegistryVersion(), Health: nil}

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if h.streamClient.stopCalls != 1 || h.streamClient.startCalls != 1 {
		t.Errorf("stopCalls=%d startCalls=%d, want 1,1", h.streamClient.stopCalls, h.streamClient.startCalls)
	}
}

func TestRunningIgnoresHealthyActiveStream(t *testing.T) {
	h := runningHarness(t)
	h.streamClient.info = &blockstream.StreamInfo{
		Version: testConfig().RegistryVersion(),
		Health:  &blockstream.Health{UpdatedAt: time.Now(), ProcessingState: blockstream.Running},
	}

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if h.streamClient.startCalls != 0 || h.streamClient.stopCalls != 0 {
		t.Errorf("expected no start/stop calls for an active healthy stream, got startCalls=%d stopCalls=%d",
			h.streamClient.startCalls, h.streamClient.stopCalls)
	}
}

func TestRunningTransitionsToDeletingWhenDeleted(t *testing.T) {
	h := runningHarness(t)
	h.reg.Remove(testIdentity())

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Deleting {
		t.Errorf("LifecycleState = %v, want Deleting", got.LifecycleState)
	}
}

func TestSuspendingStopsWorkersThenTransitionsToSuspended(t *testing.T) {
	h := newHarness(t, false)
	h.reg.Put(testConfig())
	h.streamClient.info = &blockstream.StreamInfo{Version: 1, Health: &blockstream.Health{ProcessingState: blockstream.Running, UpdatedAt: time.Now()}}
	h.execClient.info = &handlers.ExecutorInfo{ExecutorID: "e1", Version: 1}

	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Suspending
	s.Enabled = false
	h.states.Set(context.Background(), testIdentity(), s)

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if h.streamClient.stopCalls != 1 || h.execClient.stopCalls != 1 {
		t.Errorf("stopCalls stream=%d exec=%d, want 1,1", h.streamClient.stopCalls, h.execClient.stopCalls)
	}
	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Suspended {
		t.Errorf("LifecycleState = %v, want Suspended", got.LifecycleState)
	}
}

func TestSuspendedResumesToRunningWhenReenabled(t *testing.T) {
	h := newHarness(t, false)
	h.reg.Put(testConfig())

	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Suspended
	s.Enabled = true
	h.states.Set(context.Background(), testIdentity(), s)

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Running {
		t.Errorf("LifecycleState = %v, want Running", got.LifecycleState)
	}
}

func TestRepairingHasNoAutomaticExitExceptDelete(t *testing.T) {
	h := newHarness(t, false)
	h.reg.Put(testConfig())

	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Repairing
	h.states.Set(context.Background(), testIdentity(), s)

	if _, err := h.manager.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _, _ := h.states.Get(context.Background(), testIdentity())
	if got.LifecycleState != indexerstate.Repairing {
		t.Errorf("LifecycleState = %v, want Repairing (no automatic exit)", got.LifecycleState)
	}
}

func TestDeletingStopsWorkersAndReachesDeletedWithoutDeprovisionFlag(t *testing.T) {
	h := newHarness(t, false)
	h.streamClient.info = &blockstream.StreamInfo{Version: 1, Health: &blockstream.Health{ProcessingState: blockstream.Running, UpdatedAt: time.Now()}}
	h.execClient.info = &handlers.ExecutorInfo{ExecutorID: "e1", Version: 1}

	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Deleting
	h.states.Set(context.Background(), testIdentity(), s)

	done, err := h.manager.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !done {
		t.Error("Tick() done = false, want true once Deleted is reached")
	}
	if h.streamClient.stopCalls != 1 || h.execClient.stopCalls != 1 {
		t.Errorf("stopCalls stream=%d exec=%d, want 1,1", h.streamClient.stopCalls, h.execClient.stopCalls)
	}

	_, ok, err := h.states.Get(context.Background(), testIdentity())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("state still persisted after reaching Deleted, want it removed")
	}
}

func TestDeletingDeprovisionsWhenFlagEnabled(t *testing.T) {
	h := newHarness(t, true)

	s := indexerstate.New(testIdentity())
	s.LifecycleState = indexerstate.Deleting
	h.states.Set(context.Background(), testIdentity(), s)

	done, err := h.manager.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !done {
		t.Error("Tick() done = false, want true")
	}
}

