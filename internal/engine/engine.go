// Package engine is the programmatic surface of plangate. It wires the
// configuration into the complexity calculator, trigger detector, review
// router, version manager, session manager and metrics recorder, and exposes
// the operations the CLI and other collaborators call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/plangate/internal/complexity"
	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/logger"
	"github.com/harrison/plangate/internal/metrics"
	"github.com/harrison/plangate/internal/models"
	"github.com/harrison/plangate/internal/parser"
	"github.com/harrison/plangate/internal/review"
	"github.com/harrison/plangate/internal/session"
	"github.com/harrison/plangate/internal/store"
	"github.com/harrison/plangate/internal/triggers"
	"github.com/harrison/plangate/internal/updater"
	"github.com/harrison/plangate/internal/versions"
)

const exportLockTimeout = 5 * time.Second

// Engine coordinates scoring, routing, versioned refinement and metrics for
// plans stored under one data directory.
type Engine struct {
	cfg    *config.Config
	home   string
	logger logger.Logger

	calculator *complexity.Calculator
	detector   *triggers.Detector
	router     *review.Router
	store      *store.Store
	versions   *versions.Manager
	sessions   *session.Manager
	recorder   *metrics.Recorder
}

// Evaluation is the result of scoring and routing one plan.
type Evaluation struct {
	TaskID   string
	Stack    string
	Score    *models.ComplexityScore
	Triggers models.TriggerSet
	Decision models.ReviewDecision
	Flow     *review.Flow
}

// NeedsReview reports whether the plan is still waiting for a review.
func (e *Evaluation) NeedsReview() bool {
	return !e.Flow.State().IsTerminal()
}

// New creates an Engine for the data directory home.
// The cfg and log parameters are optional and can be nil.
func New(cfg *config.Config, home string, log logger.Logger) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if home == "" {
		panic("engine home cannot be empty")
	}
	log = logger.OrNop(log)

	st := store.New(home, log)
	vs := versions.NewManager(st, log)
	return &Engine{
		cfg:        cfg,
		home:       home,
		logger:     log,
		calculator: complexity.NewCalculator(cfg, log),
		detector:   triggers.NewDetector(cfg, log),
		router:     review.NewRouter(cfg, log),
		store:      st,
		versions:   vs,
		sessions:   session.NewManager(st, vs, cfg, log),
		recorder:   metrics.NewRecorder(cfg.MetricsLogPath(home), cfg.MetricsEnabled(), log),
	}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Home returns the data directory.
func (e *Engine) Home() string {
	return e.home
}

// LoadPlan parses a plan file.
func (e *Engine) LoadPlan(path string) (*models.ImplementationPlan, error) {
	return parser.ParseFile(path)
}

// Score computes the complexity of plan. Invalid input yields a failsafe
// score, which routes as maximum complexity.
func (e *Engine) Score(plan models.ImplementationPlan, flags models.ReviewFlags) *models.ComplexityScore {
	return e.calculator.Evaluate(models.NewEvaluationContext(plan, flags))
}

// Route maps a score to a complexity-stage decision. An empty mode uses the
// configured mode.
func (e *Engine) Route(score *models.ComplexityScore, stack string, triggers models.TriggerSet, mode models.Mode) models.ReviewDecision {
	return e.router.Route(score, stack, triggers, mode)
}

// Evaluate scores plan, detects force triggers, routes it and records the
// score and the decision. The evaluation is returned even when recording
// fails; the recording error is returned alongside it.
func (e *Engine) Evaluate(plan models.ImplementationPlan, flags models.ReviewFlags, mode models.Mode) (*Evaluation, error) {
	ctx := models.NewEvaluationContext(plan, flags)
	flow := review.NewFlow(ctx.TaskID)

	score := e.calculator.Evaluate(ctx)
	if err := flow.Scored(score); err != nil {
		return nil, err
	}

	found := e.detector.Detect(ctx, flags)
	decision := e.router.Route(score, ctx.Stack, found, mode)
	if err := flow.Routed(decision); err != nil {
		return nil, err
	}

	ev := &Evaluation{
		TaskID:   ctx.TaskID,
		Stack:    ctx.Stack,
		Score:    score,
		Triggers: found,
		Decision: decision,
		Flow:     flow,
	}

	taskID := ctx.TaskID
	if taskID == "" {
		taskID = "unknown"
	}
	err := errors.Join(
		e.recorder.RecordComplexity(taskID, ctx.Stack, score),
		e.recorder.RecordDecision(taskID, decision),
	)
	if err != nil {
		e.logger.LogWarn(fmt.Sprintf("failed to record evaluation metrics for %s: %v", taskID, err))
		return ev, fmt.Errorf("record evaluation metrics: %w", err)
	}
	return ev, nil
}

// ReviewScore combines per-principle review scores using the configured
// principle weights.
func (e *Engine) ReviewScore(principles map[string]float64) (float64, error) {
	return review.ArchitecturalScore(principles, e.cfg.GetReviewWeights())
}

// DecideReview routes an architectural review score and records the
// decision.
func (e *Engine) DecideReview(taskID string, reviewScore float64, stack string) (models.ReviewDecision, error) {
	decision := e.router.RouteReview(reviewScore, stack)
	if err := e.recorder.RecordDecision(taskID, decision); err != nil {
		return decision, fmt.Errorf("record review decision: %w", err)
	}
	return decision, nil
}

// CompleteReview settles ev with the outcome of its architectural review.
func (e *Engine) CompleteReview(ev *Evaluation, reviewScore float64) (models.ReviewDecision, error) {
	if ev.Flow.State() != review.StateRouted {
		return models.ReviewDecision{}, fmt.Errorf("%w: %s is %s", review.ErrInvalidTransition, ev.TaskID, ev.Flow.State())
	}
	decision, recordErr := e.DecideReview(ev.TaskID, reviewScore, ev.Stack)
	if err := ev.Flow.Reviewed(decision); err != nil {
		return decision, err
	}
	return decision, recordErr
}

// InitPlan stores plan as version 1.
func (e *Engine) InitPlan(plan models.ImplementationPlan) (models.PlanVersion, error) {
	return e.versions.Init(plan)
}

// OpenSession starts a modification session on the latest version of planID.
func (e *Engine) OpenSession(planID string) (*session.Session, error) {
	return e.sessions.Open(planID)
}

// AttachSession resumes the unresolved session of planID.
func (e *Engine) AttachSession(planID string) (*session.Session, error) {
	return e.sessions.Attach(planID)
}

// SessionStatus returns the unresolved session record of planID, or nil.
func (e *Engine) SessionStatus(planID string) (*models.SessionRecord, error) {
	return e.sessions.Status(planID)
}

// ApplyChange adds change to the session.
func (e *Engine) ApplyChange(s *session.Session, change models.ChangeRecord) error {
	return s.Apply(change)
}

// Commit writes the session's changes as the next plan version and records
// the outcome. A failed outcome record is logged; the version stays
// committed.
func (e *Engine) Commit(s *session.Session, reason string) (models.PlanVersion, error) {
	started := s.Record().CreatedAt
	v, err := s.Commit(reason)
	if err != nil {
		return v, err
	}

	outcome := models.OutcomePayload{
		Status:  models.OutcomeRevised,
		Version: v.Version,
		Notes:   reason,
	}
	if !started.IsZero() {
		outcome.DurationSeconds = v.CreatedAt.Sub(started).Seconds()
	}
	if err := e.recorder.RecordOutcome(v.PlanID, outcome); err != nil {
		e.logger.LogWarn(fmt.Sprintf("failed to record outcome for %s v%d: %v", v.PlanID, v.Version, err))
	}
	return v, nil
}

// Abort discards the session's changes.
func (e *Engine) Abort(s *session.Session) error {
	return s.Abort()
}

// AbortSession aborts the unresolved session of planID and returns its id.
// An unreadable session record is moved aside and an empty id is returned.
func (e *Engine) AbortSession(planID string) (string, error) {
	return e.sessions.Abort(planID)
}

// AbandonedSessions lists unresolved sessions idle longer than the
// session_inactivity timeout.
func (e *Engine) AbandonedSessions(now time.Time) ([]models.SessionRecord, error) {
	return e.sessions.Abandoned(now)
}

// AbortAbandoned aborts every abandoned session that no live handle holds.
func (e *Engine) AbortAbandoned(now time.Time) ([]string, error) {
	return e.sessions.AbortAbandoned(now)
}

// History returns every version of planID, oldest first.
func (e *Engine) History(planID string) ([]models.PlanVersion, error) {
	return e.versions.History(planID)
}

// Restore returns version n of planID exactly as it was committed.
func (e *Engine) Restore(planID string, n int) (models.PlanVersion, error) {
	return e.versions.Restore(planID, n)
}

// Latest returns the newest version of planID.
func (e *Engine) Latest(planID string) (models.PlanVersion, error) {
	return e.versions.Latest(planID)
}

// Compare summarizes the differences between versions a and b of planID.
func (e *Engine) Compare(planID string, a, b int) (models.VersionDiff, error) {
	return e.versions.Compare(planID, a, b)
}

// ExportPlan writes version n of planID (0 for the latest) to the plan file
// at path. YAML files keep their comments and unmanaged keys.
func (e *Engine) ExportPlan(planID string, n int, path string) (models.PlanVersion, error) {
	var v models.PlanVersion
	var err error
	if n > 0 {
		v, err = e.versions.Restore(planID, n)
	} else {
		v, err = e.versions.Latest(planID)
	}
	if err != nil {
		return v, err
	}

	err = updater.WritePlan(path, v.Plan,
		updater.WithTimeout(exportLockTimeout),
		updater.WithMonitor(func(m updater.UpdateMetrics) {
			if m.Err != nil {
				return
			}
			e.logger.LogDebug(fmt.Sprintf("exported %s v%d to %s (was v%d, %d bytes in %v)",
				m.PlanID, m.NewVersion, m.Path, m.OldVersion, m.BytesWritten, m.Duration))
		}))
	if err != nil {
		return v, fmt.Errorf("export %s v%d: %w", planID, v.Version, err)
	}
	return v, nil
}

// ArchivedSessions returns the finished sessions of planID.
func (e *Engine) ArchivedSessions(planID string) ([]models.SessionRecord, error) {
	return e.store.ArchivedSessions(planID)
}

// RecordMetric appends event to the metrics log.
func (e *Engine) RecordMetric(event models.MetricsEvent) error {
	return e.recorder.Record(event)
}

// RecordOutcome appends an outcome event for taskID.
func (e *Engine) RecordOutcome(taskID string, outcome models.OutcomePayload) error {
	return e.recorder.RecordOutcome(taskID, outcome)
}

// QueryMetrics returns the events recorded within [since, until]. Zero
// bounds are open.
func (e *Engine) QueryMetrics(since, until time.Time) ([]models.MetricsEvent, error) {
	return e.recorder.Query(since, until)
}

// MetricsStats brings the metrics index up to date with the log and
// aggregates the events recorded since the given time.
func (e *Engine) MetricsStats(ctx context.Context, since time.Time, rebuild bool) (*metrics.Stats, error) {
	idx, err := metrics.OpenIndex(e.cfg.MetricsIndexPath(e.home), e.logger)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	logPath := e.recorder.Path()
	var n int
	if rebuild {
		n, err = idx.Rebuild(ctx, logPath)
	} else {
		n, err = idx.Ingest(ctx, logPath)
	}
	if err != nil {
		return nil, err
	}
	e.logger.LogDebug(fmt.Sprintf("metrics index: %d new events from %s", n, logPath))

	return idx.Stats(ctx, since)
}
