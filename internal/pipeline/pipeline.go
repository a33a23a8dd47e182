// Package pipeline drives one upload through validation, admission,
// transcription and artifact composition. Temporary storage for the job
// is released on every exit path.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/admission"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/artifact"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/asset"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/engine"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/metrics"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
)

// Auditor records job outcomes.
type Auditor interface {
	LogAuditEvent(ctx context.Context, event *store.AuditEvent) error
}

// Request is one transcription request.
type Request struct {
	Account      string
	Tier         string // when set, used instead of the entitlement lookup
	Filename     string
	DeclaredSize int64
	Body         io.Reader
}

// Result is the outcome of Run. Artifact is set only when the job completed.
type Result struct {
	Job      *Job
	Artifact *artifact.Artifact
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	Validator *asset.Validator
	Admission *admission.Controller
	Pool      *engine.Pool
	Engine    engine.Engine
	Composer  *artifact.Composer
	Auditor   Auditor // optional
	TempDir   string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Pipeline runs transcription jobs.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "pipeline"),
		now:    time.Now,
	}
}

// Run processes req to a terminal state. The returned error is an
// *apperror.Error for rejected and failed jobs; Result.Job is always set.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := p.now()
	job := newJob(uuid.New().String(), store.NormalizeAccount(req.Account), req.Filename)
	res := &Result{Job: job}
	logger := p.logger.With("job_id", job.ID, "account", job.Account)

	scope, err := asset.NewScope(p.cfg.TempDir)
	if err != nil {
		return res, p.finish(ctx, logger, job, start, Failed, apperror.Wrap(apperror.Internal, err, "could not allocate job workspace"))
	}
	defer func() {
		if err := scope.Release(); err != nil {
			logger.Warn("failed to release job scope", "dir", scope.Dir(), "error", err)
		}
	}()

	// received -> validated
	a, err := p.cfg.Validator.Accept(scope, req.Filename, req.DeclaredSize, req.Body)
	if err != nil {
		if cerr := contextFailure(ctx); cerr != nil {
			return res, p.finish(ctx, logger, job, start, Failed, cerr)
		}
		reason := coded(err, "could not store upload")
		if reason.Code == apperror.Internal {
			return res, p.finish(ctx, logger, job, start, Failed, reason)
		}
		return res, p.finish(ctx, logger, job, start, Rejected, reason)
	}
	job.Size = a.Size
	if err := job.transition(Validated); err != nil {
		return res, p.finish(ctx, logger, job, start, Failed, apperror.Wrap(apperror.Internal, err, "internal error"))
	}

	// validated -> admitted | rejected
	var decision admission.Decision
	if req.Tier != "" {
		decision, err = p.cfg.Admission.AdmitTier(ctx, req.Tier, a.Path)
	} else {
		decision, err = p.cfg.Admission.Admit(ctx, job.Account, a.Path)
	}
	job.Tier = decision.Tier
	job.Duration = decision.Duration
	if err != nil {
		if cerr := contextFailure(ctx); cerr != nil {
			return res, p.finish(ctx, logger, job, start, Failed, cerr)
		}
		return res, p.finish(ctx, logger, job, start, Failed, apperror.Wrap(apperror.Internal, err, "admission failed"))
	}
	if decision.Duration > 0 {
		metrics.AudioSeconds.WithLabelValues(job.Tier).Observe(decision.Duration)
	}
	if !decision.Admitted {
		return res, p.finish(ctx, logger, job, start, Rejected, decision.Reason)
	}
	if err := job.transition(Admitted); err != nil {
		return res, p.finish(ctx, logger, job, start, Failed, apperror.Wrap(apperror.Internal, err, "internal error"))
	}

	// admitted -> transcribing
	release, err := p.cfg.Pool.Acquire(ctx)
	if err != nil {
		if cerr := contextFailure(ctx); cerr != nil {
			return res, p.finish(ctx, logger, job, start, Failed, cerr)
		}
		return res, p.finish(ctx, logger, job, start, Rejected, coded(err, "transcription capacity is exhausted"))
	}
	text, err := p.transcribe(ctx, job, a.Path, release)
	if cerr := contextFailure(ctx); cerr != nil {
		return res, p.finish(ctx, logger, job, start, Failed, cerr)
	}
	if err != nil {
		if ae, ok := apperror.As(err); ok && ae.Code == apperror.Internal {
			return res, p.finish(ctx, logger, job, start, Failed, ae)
		}
		return res, p.finish(ctx, logger, job, start, Failed,
			apperror.Wrap(apperror.TranscriptionFailed, err, err.Error()))
	}

	// transcribing -> completed
	art, err := p.cfg.Composer.Compose(text, req.Filename, job.Tier, p.now())
	if err != nil {
		return res, p.finish(ctx, logger, job, start, Failed,
			apperror.Wrap(apperror.ArtifactGenerationFailed, err, "transcript was produced but the document could not be generated"))
	}
	res.Artifact = art
	return res, p.finish(ctx, logger, job, start, Completed, nil)
}

// transcribe invokes the engine. It refuses to run unless the job has
// passed admission.
func (p *Pipeline) transcribe(ctx context.Context, job *Job, path string, release func()) (string, error) {
	defer release()
	if err := job.transition(Transcribing); err != nil {
		return "", apperror.Wrap(apperror.Internal, err, "internal error")
	}
	metrics.EngineActive.Inc()
	defer metrics.EngineActive.Dec()
	return p.cfg.Engine.Transcribe(ctx, path)
}

// finish moves the job to a terminal state, then logs, audits and counts it.
func (p *Pipeline) finish(ctx context.Context, logger *slog.Logger, job *Job, start time.Time, to State, reason *apperror.Error) error {
	if err := job.transition(to); err != nil {
		// Only reachable on a programming error; force the job terminal.
		logger.Error("invalid terminal transition", "error", err)
		job.State = Failed
		job.History = append(job.History, Failed)
		if reason == nil {
			reason = apperror.Wrap(apperror.Internal, err, "internal error")
		}
	}

	code := ""
	if reason != nil {
		code = string(reason.Code)
	}
	elapsed := p.now().Sub(start)
	metrics.JobsTotal.WithLabelValues(string(job.State), job.Tier, code).Inc()
	metrics.JobDuration.WithLabelValues(string(job.State)).Observe(elapsed.Seconds())

	attrs := []any{"tier", job.Tier, "state", job.State, "duration_seconds", job.Duration, "elapsed", elapsed}
	switch job.State {
	case Completed:
		logger.Info("job completed", attrs...)
	case Rejected:
		logger.Warn("job rejected", append(attrs, "code", code, "error", reason)...)
	default:
		logger.Error("job failed", append(attrs, "code", code, "error", reason)...)
	}

	p.audit(ctx, logger, job, reason)

	if reason == nil {
		return nil
	}
	return reason
}

func (p *Pipeline) audit(ctx context.Context, logger *slog.Logger, job *Job, reason *apperror.Error) {
	if p.cfg.Auditor == nil {
		return
	}
	detail := map[string]any{
		"filename":         job.Filename,
		"tier":             job.Tier,
		"duration_seconds": job.Duration,
	}
	if reason != nil {
		detail["code"] = reason.Code
		for k, v := range reason.Details {
			detail[k] = v
		}
	}
	raw, _ := json.Marshal(detail)

	ev := &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    "job." + string(job.State),
		Account:   job.Account,
		JobID:     job.ID,
		Detail:    raw,
		CreatedAt: p.now(),
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.cfg.Auditor.LogAuditEvent(auditCtx, ev); err != nil {
		logger.Warn("failed to log audit event", "action", ev.Action, "error", err)
	}
}

// contextFailure maps an ended context to a terminal failure.
func contextFailure(ctx context.Context) *apperror.Error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return apperror.Wrap(apperror.Timeout, err, "job exceeded its time limit")
	case errors.Is(err, context.Canceled):
		return apperror.Wrap(apperror.Internal, err, "job was cancelled")
	}
	return nil
}

// coded returns err's *apperror.Error or wraps it as Internal.
func coded(err error, msg string) *apperror.Error {
	if ae, ok := apperror.As(err); ok {
		return ae
	}
	return apperror.Wrap(apperror.Internal, err, msg)
}
