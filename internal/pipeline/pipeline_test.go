package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/admission"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/artifact"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/asset"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/engine"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

type fixedProbe float64

func (p fixedProbe) Measure(ctx context.Context, path string) (float64, error) {
	return float64(p), nil
}

type tiers map[string]string

func (m tiers) LookupTier(ctx context.Context, account string) (string, bool, error) {
	t, ok := m[account]
	return t, ok, nil
}

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, path string) (string, error)
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transcribe(ctx context.Context, path string) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return e.fn(ctx, path)
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type brokenRenderer struct{ artifact.Markdown }

func (brokenRenderer) Render(artifact.Document) ([]byte, error) { return nil, errors.New("template exploded") }

type memAuditor struct {
	mu     sync.Mutex
	events []*store.AuditEvent
}

func (a *memAuditor) LogAuditEvent(ctx context.Context, ev *store.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

type harness struct {
	pipeline *Pipeline
	engine   *fakeEngine
	pool     *engine.Pool
	auditor  *memAuditor
	tempRoot string
}

type harnessOpts struct {
	seconds  float64
	renderer artifact.Renderer
	workers  int
	queue    int
	timeout  time.Duration
	engineFn func(ctx context.Context, path string) (string, error)
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy := tier.MustDefault(nil)
	if o.workers == 0 {
		o.workers = 1
	}
	if o.engineFn == nil {
		o.engineFn = func(ctx context.Context, path string) (string, error) { return "hello from the meeting", nil }
	}
	eng := &fakeEngine{fn: o.engineFn}
	pool := engine.NewPool(o.workers, o.queue)
	aud := &memAuditor{}
	root := t.TempDir()

	p := New(Config{
		Validator: asset.NewValidator(nil, 1<<20),
		Admission: admission.New(tiers{"paid@example.com": tier.Premium}, policy, fixedProbe(o.seconds), logger),
		Pool:      pool,
		Engine:    eng,
		Composer:  artifact.NewComposer(policy, o.renderer),
		Auditor:   aud,
		TempDir:   root,
		Timeout:   o.timeout,
		Logger:    logger,
	})
	return &harness{pipeline: p, engine: eng, pool: pool, auditor: aud, tempRoot: root}
}

func (h *harness) run(t *testing.T, account, filename string) (*Result, error) {
	t.Helper()
	return h.pipeline.Run(context.Background(), Request{
		Account:      account,
		Filename:     filename,
		DeclaredSize: 5,
		Body:         strings.NewReader("audio"),
	})
}

func assertScopeReleased(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "job scope left behind")
}

func TestRunCompleted(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 20})
	res, err := h.run(t, "New@Example.com", "standup.mp3")
	require.NoError(t, err)

	assert.Equal(t, Completed, res.Job.State)
	assert.Equal(t, []State{Received, Validated, Admitted, Transcribing, Completed}, res.Job.History)
	assert.Equal(t, "new@example.com", res.Job.Account)
	assert.Equal(t, tier.Free, res.Job.Tier)
	assert.Equal(t, 20.0, res.Job.Duration)
	require.NotNil(t, res.Artifact)
	assert.Contains(t, string(res.Artifact.Content), "hello from the meeting")
	assert.Contains(t, string(res.Artifact.Content), artifact.WatermarkText)
	assert.Equal(t, "AutoEcho_Transcript_standup.md", res.Artifact.Filename)
	assertScopeReleased(t, h.tempRoot)

	require.Len(t, h.auditor.events, 1)
	assert.Equal(t, "job.completed", h.auditor.events[0].Action)
	assert.Equal(t, res.Job.ID, h.auditor.events[0].JobID)
}

func TestRunPremiumNoWatermark(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 3600})
	res, err := h.run(t, "paid@example.com", "long.wav")
	require.NoError(t, err)
	assert.Equal(t, tier.Premium, res.Job.Tier)
	assert.NotContains(t, string(res.Artifact.Content), artifact.WatermarkText)
}

func TestRunExplicitTier(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 1000})
	res, err := h.pipeline.Run(context.Background(), Request{
		Tier: tier.Basic, Filename: "a.ogg", DeclaredSize: 1, Body: strings.NewReader("x"),
	})
	require.NoError(t, err)
	assert.Equal(t, tier.Basic, res.Job.Tier)
}

func TestRunRejectedAtValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 5})
	res, err := h.run(t, "u", "notes.txt")
	assert.Equal(t, apperror.UnsupportedFormat, apperror.CodeOf(err))
	assert.Equal(t, Rejected, res.Job.State)
	assert.Nil(t, res.Artifact)
	assert.Zero(t, h.engine.Calls())
	assertScopeReleased(t, h.tempRoot)
}

func TestRunRejectedAtAdmission(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 31})
	res, err := h.run(t, "u", "clip.wav")
	require.Error(t, err)

	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.DurationExceeded, ae.Code)
	assert.Equal(t, 30.0, ae.Details["limit_seconds"])
	assert.Equal(t, 31.0, ae.Details["duration_seconds"])
	assert.Equal(t, Rejected, res.Job.State)
	assert.Zero(t, h.engine.Calls(), "engine must not run for a rejected job")
	assertScopeReleased(t, h.tempRoot)

	require.Len(t, h.auditor.events, 1)
	assert.Equal(t, "job.rejected", h.auditor.events[0].Action)
	assert.Contains(t, string(h.auditor.events[0].Detail), `"code":"duration_exceeded"`)
}

func TestRunEngineFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, engineFn: func(ctx context.Context, path string) (string, error) {
		return "", errors.New("model weights missing")
	}})
	res, err := h.run(t, "u", "clip.mp3")
	ae, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.TranscriptionFailed, ae.Code)
	assert.Contains(t, ae.Message, "model weights missing")
	assert.Equal(t, Failed, res.Job.State)
	assertScopeReleased(t, h.tempRoot)
}

func TestRunComposerFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, renderer: brokenRenderer{}})
	res, err := h.run(t, "u", "clip.mp3")
	assert.Equal(t, apperror.ArtifactGenerationFailed, apperror.CodeOf(err))
	assert.Equal(t, Failed, res.Job.State)
	assert.Equal(t, 1, h.engine.Calls())
	assertScopeReleased(t, h.tempRoot)
}

func TestRunEngineBusy(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, workers: 1, queue: 0})
	release, err := h.pool.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	res, err := h.run(t, "u", "clip.mp3")
	assert.Equal(t, apperror.EngineBusy, apperror.CodeOf(err))
	assert.Equal(t, Rejected, res.Job.State)
	assert.Zero(t, h.engine.Calls())
	assertScopeReleased(t, h.tempRoot)
}

func TestRunTimeout(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, timeout: 30 * time.Millisecond, engineFn: func(ctx context.Context, path string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}})
	res, err := h.run(t, "u", "clip.mp3")
	assert.Equal(t, apperror.Timeout, apperror.CodeOf(err))
	assert.Equal(t, Failed, res.Job.State)
	assertScopeReleased(t, h.tempRoot)
}

func TestRunTimeoutAfterEngineReturns(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, timeout: 20 * time.Millisecond, engineFn: func(ctx context.Context, path string) (string, error) {
		time.Sleep(60 * time.Millisecond)
		return "late text", nil
	}})
	res, err := h.run(t, "u", "clip.mp3")
	assert.Equal(t, apperror.Timeout, apperror.CodeOf(err))
	assert.Nil(t, res.Artifact)
}

func TestRunEnginePanicReleasesScope(t *testing.T) {
	h := newHarness(t, harnessOpts{seconds: 10, engineFn: func(ctx context.Context, path string) (string, error) {
		panic("decoder crashed")
	}})
	func() {
		defer func() { _ = recover() }()
		_, _ = h.run(t, "u", "clip.mp3")
	}()
	assertScopeReleased(t, h.tempRoot)
	assert.Zero(t, h.pool.Stats().Active, "pool slot leaked")
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(Received, Validated))
	assert.True(t, CanTransition(Admitted, Transcribing))
	assert.False(t, CanTransition(Validated, Transcribing), "engine must not start before admission")
	assert.False(t, CanTransition(Received, Completed))
	for _, s := range []State{Rejected, Completed, Failed} {
		assert.True(t, s.Terminal())
		assert.False(t, CanTransition(s, Received))
	}

	j := newJob("id", "acct", "f.mp3")
	assert.Error(t, j.transition(Transcribing))
	assert.Equal(t, Received, j.State)
}
