package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"conveyor/internal/broadcast"
	"conveyor/internal/gate"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
	"conveyor/internal/staging"
	"conveyor/internal/testsupport"
)

// copyProcessor copies its input into the scratch dir, optionally
// failing, delaying, or recording concurrency along the way.
type copyProcessor struct {
	id      string
	fail    bool
	delay   time.Duration
	active  *atomic.Int64
	peak    *atomic.Int64
	visited *atomic.Int64
}

func (p *copyProcessor) Run(ctx context.Context, req stage.Request) (stage.Result, error) {
	if p.visited != nil {
		p.visited.Add(1)
	}
	if p.active != nil {
		now := p.active.Add(1)
		defer p.active.Add(-1)
		for {
			current := p.peak.Load()
			if now <= current || p.peak.CompareAndSwap(current, now) {
				break
			}
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.fail {
		return stage.Result{}, stage.ExecError(p.id, fmt.Errorf("synthetic failure"))
	}

	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return stage.Result{}, err
	}
	out := filepath.Join(req.ScratchDir, "out.bin")
	content := string(data) + "+" + p.id
	if err := os.WriteFile(out, []byte(content), 0o644); err != nil {
		return stage.Result{}, err
	}
	return stage.Result{OutputPath: out}, nil
}

func (p *copyProcessor) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy(p.id)
}

type harness struct {
	store       *jobstore.Store
	stager      *staging.Stager
	registry    *stage.Registry
	limiter     *gate.Limiter
	hub         *broadcast.Hub
	coordinator *Coordinator
	uploads     string
}

func newHarness(t *testing.T, capacity int, processors map[string]stage.Processor) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	registry := stage.NewRegistry()
	for id, processor := range processors {
		if err := registry.Register(id, processor); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	limiter, err := gate.New(capacity)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	hub := broadcast.NewHub(1024, logging.NewNop())
	t.Cleanup(hub.Close)

	stager := staging.NewStager(cfg, logging.NewNop())
	coordinator := NewCoordinator(store, stager, registry, limiter, hub, logging.NewNop())
	t.Cleanup(coordinator.Close)

	uploads := filepath.Join(t.TempDir(), "uploads")
	if err := os.MkdirAll(uploads, 0o755); err != nil {
		t.Fatalf("create uploads: %v", err)
	}
	return &harness{
		store:       store,
		stager:      stager,
		registry:    registry,
		limiter:     limiter,
		hub:         hub,
		coordinator: coordinator,
		uploads:     uploads,
	}
}

func (h *harness) newArtifact(t *testing.T, name, content string) string {
	t.Helper()
	return testsupport.WriteArtifact(t, h.uploads, name, content)
}

func (h *harness) waitTerminal(t *testing.T, ids ...int64) map[int64]*jobstore.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	jobs := make(map[int64]*jobstore.Job, len(ids))
	for {
		done := true
		for _, id := range ids {
			job, err := h.store.GetByID(context.Background(), id)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			if job == nil || !job.Status.IsTerminal() {
				done = false
				continue
			}
			jobs[id] = job
		}
		if done {
			return jobs
		}
		if time.Now().After(deadline) {
			t.Fatal("jobs did not reach a terminal state in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSingleJobRunsPlanInOrder(t *testing.T) {
	h := newHarness(t, 2, map[string]stage.Processor{
		"normalize": &copyProcessor{id: "normalize"},
		"publish":   &copyProcessor{id: "publish"},
	})

	artifact := h.newArtifact(t, "a.bin", "seed")
	ids, err := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, []string{"normalize", "publish"})
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	jobs := h.waitTerminal(t, ids...)

	job := jobs[ids[0]]
	if job.Status != jobstore.Completed() {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.ErrorMessage)
	}
	data, err := os.ReadFile(job.CurrentArtifactPath)
	if err != nil {
		t.Fatalf("read final artifact: %v", err)
	}
	if string(data) != "seed+normalize+publish" {
		t.Fatalf("stages did not chain, artifact = %q", data)
	}

	runs, _ := h.store.StageRuns(context.Background(), job.ID)
	if len(runs) != 2 || runs[0].StageID != "normalize" || runs[1].StageID != "publish" {
		t.Fatalf("unexpected stage runs %+v", runs)
	}
}

func TestOutputsHoldOnlyLatestStageArtifact(t *testing.T) {
	h := newHarness(t, 1, map[string]stage.Processor{
		"normalize": &copyProcessor{id: "normalize"},
		"publish":   &copyProcessor{id: "publish"},
	})

	artifact := h.newArtifact(t, "a.bin", "seed")
	ids, _ := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, []string{"normalize", "publish"})
	jobs := h.waitTerminal(t, ids...)
	job := jobs[ids[0]]

	entries, err := os.ReadDir(h.stager.JobOutputDir(job.ID))
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("output dir should hold exactly one artifact, got %d entries", len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(h.stager.JobOutputDir(job.ID), entries[0].Name()))
	if !strings.HasSuffix(string(data), "+publish") {
		t.Fatalf("output dir holds a non-final artifact: %q", data)
	}
}

func TestFailedStageStopsPlan(t *testing.T) {
	visited := &atomic.Int64{}
	h := newHarness(t, 2, map[string]stage.Processor{
		"a": &copyProcessor{id: "a"},
		"b": &copyProcessor{id: "b", fail: true},
		"c": &copyProcessor{id: "c", visited: visited},
	})

	artifact := h.newArtifact(t, "x.bin", "seed")
	ids, _ := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, []string{"a", "b", "c"})
	jobs := h.waitTerminal(t, ids...)
	job := jobs[ids[0]]

	if job.Status != jobstore.Failed() {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "stage b") {
		t.Fatalf("error message should name the failed stage: %q", job.ErrorMessage)
	}
	if visited.Load() != 0 {
		t.Fatal("stage after a failure must never run")
	}

	runs, _ := h.store.StageRuns(context.Background(), job.ID)
	if len(runs) != 2 {
		t.Fatalf("expected runs for a and b only, got %d", len(runs))
	}
	if runs[1].Outcome != jobstore.OutcomeFailure {
		t.Fatalf("stage b run should be a failure, got %s", runs[1].Outcome)
	}
	var detail struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(runs[1].Detail, &detail); err != nil {
		t.Fatalf("failure run detail should be JSON: %v (%s)", err, runs[1].Detail)
	}
	if !strings.Contains(detail.Error, "synthetic failure") {
		t.Fatalf("failure run detail should carry the cause, got %q", detail.Error)
	}

	// The artifact of the last successful stage stays in outputs.
	data, _ := os.ReadFile(job.CurrentArtifactPath)
	if string(data) != "seed+a" {
		t.Fatalf("current artifact should be stage a's output, got %q", data)
	}
}

func TestBoundedConcurrency(t *testing.T) {
	const capacity = 5
	const jobCount = 50

	active := &atomic.Int64{}
	peak := &atomic.Int64{}
	h := newHarness(t, capacity, map[string]stage.Processor{
		"work": &copyProcessor{id: "work", delay: 5 * time.Millisecond, active: active, peak: peak},
	})

	paths := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		paths = append(paths, h.newArtifact(t, fmt.Sprintf("a%02d.bin", i), "x"))
	}
	ids, err := h.coordinator.SubmitBatch(context.Background(), paths, []string{"work"})
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	if len(ids) != jobCount {
		t.Fatalf("expected %d jobs, got %d", jobCount, len(ids))
	}
	jobs := h.waitTerminal(t, ids...)

	for id, job := range jobs {
		if job.Status != jobstore.Completed() {
			t.Fatalf("job %d ended %s: %s", id, job.Status, job.ErrorMessage)
		}
	}
	if peak.Load() > capacity {
		t.Fatalf("observed %d concurrent stage runs with capacity %d", peak.Load(), capacity)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t, 3, map[string]stage.Processor{
		"work": &copyProcessor{id: "work"},
	})

	good := h.newArtifact(t, "good.bin", "x")
	missing := filepath.Join(h.uploads, "missing.bin")
	alsoGood := h.newArtifact(t, "also.bin", "y")

	ids, err := h.coordinator.SubmitBatch(context.Background(), []string{good, missing, alsoGood}, []string{"work"})
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("every batch member should get a job row, got %d", len(ids))
	}
	jobs := h.waitTerminal(t, ids...)

	statuses := make(map[jobstore.Phase]int)
	for _, job := range jobs {
		statuses[job.Status.Phase]++
	}
	if statuses[jobstore.PhaseCompleted] != 2 || statuses[jobstore.PhaseFailed] != 1 {
		t.Fatalf("expected 2 completed and 1 failed, got %v", statuses)
	}
}

func TestEmptyPlanCompletesImmediately(t *testing.T) {
	h := newHarness(t, 1, map[string]stage.Processor{})

	artifact := h.newArtifact(t, "a.bin", "seed")
	ids, err := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, nil)
	if err != nil {
		t.Fatalf("SubmitBatch returned error: %v", err)
	}
	jobs := h.waitTerminal(t, ids...)
	job := jobs[ids[0]]

	if job.Status != jobstore.Completed() {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	runs, _ := h.store.StageRuns(context.Background(), job.ID)
	if len(runs) != 0 {
		t.Fatalf("empty plan must not record stage runs, got %d", len(runs))
	}
}

func TestUnknownStageRejectsWholeBatch(t *testing.T) {
	h := newHarness(t, 1, map[string]stage.Processor{
		"work": &copyProcessor{id: "work"},
	})

	artifact := h.newArtifact(t, "a.bin", "seed")
	if _, err := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, []string{"work", "nope"}); err == nil {
		t.Fatal("plan naming an unknown stage must reject the batch")
	}
	all, _ := h.store.List(context.Background())
	if len(all) != 0 {
		t.Fatalf("rejected batch must not create jobs, got %d", len(all))
	}
}

func TestExecutorLogsCarryJobContext(t *testing.T) {
	h := newHarness(t, 1, map[string]stage.Processor{
		"work": &copyProcessor{id: "work"},
	})

	ctx := context.Background()
	artifact := h.newArtifact(t, "a.bin", "seed")
	job, err := h.store.Create(ctx, "a.bin", artifact, []string{"work"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	archived, err := h.stager.ImportSource(ctx, job.ID, artifact)
	if err != nil {
		t.Fatalf("ImportSource returned error: %v", err)
	}
	won, err := h.store.Advance(ctx, job.ID, jobstore.Transition{
		From:               jobstore.Uploaded(),
		To:                 jobstore.Queued(),
		SetCurrentArtifact: true,
		CurrentArtifact:    archived,
	})
	if err != nil || !won {
		t.Fatalf("queue transition: won=%v err=%v", won, err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	executor := NewExecutor(h.store, h.stager, h.registry, h.hub, logger)
	if err := executor.Run(ctx, job.ID); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	logs := buf.String()
	for _, field := range []string{
		fmt.Sprintf(`"%s":%d`, logging.FieldJobID, job.ID),
		fmt.Sprintf(`"%s":"work"`, logging.FieldStage),
		fmt.Sprintf(`"%s":"`, logging.FieldCorrelationID),
	} {
		if !strings.Contains(logs, field) {
			t.Fatalf("log output missing %s:\n%s", field, logs)
		}
	}
}

func TestConcurrentClaimRunsJobOnce(t *testing.T) {
	visited := &atomic.Int64{}
	h := newHarness(t, 4, map[string]stage.Processor{
		"work": &copyProcessor{id: "work", visited: visited},
	})

	artifact := h.newArtifact(t, "a.bin", "seed")
	ids, _ := h.coordinator.SubmitBatch(context.Background(), []string{artifact}, []string{"work"})

	// Competing executors over the same queued job: only one claim wins.
	executor := NewExecutor(h.store, h.stager, h.registry, h.hub, logging.NewNop())
	for i := 0; i < 3; i++ {
		go executor.Run(context.Background(), ids[0])
	}
	h.waitTerminal(t, ids...)
	h.coordinator.Wait()

	if visited.Load() != 1 {
		t.Fatalf("job executed %d times, want exactly once", visited.Load())
	}
}
