package brief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/registry"
)

const (
	DefaultReportSampleSize = 15
	maxDashboardSponsors    = 20
	finalizeTimeout         = 10 * time.Second
)

// Searcher fetches raw studies plus the transparency report for a query.
type Searcher interface {
	SearchWithReport(ctx context.Context, query string, sampleSize int) ([]json.RawMessage, registry.Report, error)
}

// Analyzer turns a topic's trials into narrative text.
type Analyzer interface {
	Analyze(ctx context.Context, topic string, trials []Trial) (string, error)
}

type ServiceConfig struct {
	ReportSampleSize int
	TTL              time.Duration
	Now              func() time.Time
	NewID            func() string
}

// Service runs the generate/refresh state machine and the read operations around it.
type Service struct {
	store      Store
	searcher   Searcher
	analyzer   Analyzer
	normalizer *Normalizer
	cfg        ServiceConfig
	log        *logger.Logger
	tracer     trace.Tracer
}

type GenerateRequest struct {
	SearchTerm   string
	OwnerID      string
	DisplayTopic string
}

// RefreshTicket is a brief already moved to generating by BeginRefresh.
type RefreshTicket struct {
	Brief       *Brief
	PriorStatus Status
}

type StatusReport struct {
	Status      Status    `json:"status"`
	IsCompleted bool      `json:"is_completed"`
	TrialCount  int       `json:"trial_count"`
	UpdatedAt   time.Time `json:"updated_at"`
	HasSummary  bool      `json:"has_summary,omitempty"`
}

type Dashboard struct {
	Brief    *Brief   `json:"brief"`
	Trials   []Trial  `json:"trials"`
	Stats    Stats    `json:"trial_stats"`
	Phases   []string `json:"phases"`
	Statuses []string `json:"statuses"`
	Sponsors []string `json:"sponsors"`
}

func NewService(store Store, searcher Searcher, analyzer Analyzer, cfg ServiceConfig, log *logger.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("brief store is required")
	}
	if searcher == nil {
		return nil, errors.New("registry searcher is required")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if cfg.ReportSampleSize <= 0 {
		cfg.ReportSampleSize = DefaultReportSampleSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	log = log.With("component", "brief")
	return &Service{
		store:      store,
		searcher:   searcher,
		analyzer:   analyzer,
		normalizer: NewNormalizer(log),
		cfg:        cfg,
		log:        log,
		tracer:     otel.Tracer("github.com/drcokefloat/scanx-brief/internal/brief"),
	}, nil
}

// NoTrialsSummary is stored when the registry returns nothing usable for topic.
func NoTrialsSummary(topic string) string {
	return fmt.Sprintf("No clinical trials found for '%s'. This may indicate a very specialized or emerging therapeutic area.", topic)
}

// Generate creates a brief and runs the pipeline to a terminal state. When err is
// non-nil the returned brief, if any, is the stored failed record.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*Brief, error) {
	b, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, b.ID, req.SearchTerm)
}

// Create validates the request and persists a new brief in generating state.
func (s *Service) Create(ctx context.Context, req GenerateRequest) (*Brief, error) {
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		return nil, &ValidationError{Field: "search_term", Message: "search term is required"}
	}
	topic := strings.TrimSpace(req.DisplayTopic)
	if topic == "" {
		topic = term
	}
	if len([]rune(topic)) < MinTopicLength {
		return nil, &ValidationError{Field: "topic", Message: fmt.Sprintf("topic must be at least %d characters", MinTopicLength)}
	}
	topic = clip(topic, MaxTopicLength)

	now := s.cfg.Now().UTC()
	b := &Brief{
		ID:        s.cfg.NewID(),
		Topic:     topic,
		Status:    StatusGenerating,
		OwnerID:   strings.TrimSpace(req.OwnerID),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.store.CreateBrief(ctx, b); err != nil {
		return nil, err
	}
	s.log.Info("brief created", "brief_id", b.ID, "topic", b.Topic, "search_term", term, "owner", b.OwnerID)
	return b, nil
}

// Run executes the pipeline for a brief created by Create. Any stage failure leaves
// the brief failed with the error text as its summary.
func (s *Service) Run(ctx context.Context, id, searchTerm string) (*Brief, error) {
	b, err := s.store.GetBrief(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err == nil {
		err = s.execute(ctx, b, searchTerm, true)
	}
	if err == nil {
		s.log.Info("brief generation completed", "brief_id", id)
		return s.store.GetBrief(ctx, id)
	}

	s.log.Error("brief generation failed", "brief_id", id, "stage", StageNameFromError(err), "error", err)
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if ferr := s.store.FailRun(fctx, id, failureSummary(err), s.cfg.Now().UTC()); ferr != nil {
		s.log.Error("brief failure could not be recorded", "brief_id", id, "error", ferr)
		return nil, errors.Join(err, ferr)
	}
	failed, gerr := s.store.GetBrief(fctx, id)
	if gerr != nil {
		return nil, err
	}
	return failed, err
}

// Refresh re-runs the pipeline for an existing brief. A brief that is still
// generating yields *StateError and is not modified. On failure the status the
// brief had before the refresh is restored and its trials and summary are kept.
func (s *Service) Refresh(ctx context.Context, id string) (*Brief, error) {
	ticket, err := s.BeginRefresh(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RunRefresh(ctx, ticket)
}

// BeginRefresh claims the brief for a refresh run.
func (s *Service) BeginRefresh(ctx context.Context, id string) (*RefreshTicket, error) {
	prior, err := s.store.BeginRefresh(ctx, id, s.cfg.Now().UTC())
	if err != nil {
		var se *StateError
		if errors.As(err, &se) {
			s.log.Warn("refresh rejected", "brief_id", id, "status", se.Status)
		}
		return nil, err
	}
	b, err := s.store.GetBrief(ctx, id)
	if err != nil {
		fctx, cancel := finalizeContext(ctx)
		defer cancel()
		_ = s.store.RestoreStatus(fctx, id, prior, s.cfg.Now().UTC())
		return nil, err
	}
	s.log.Info("brief refresh started", "brief_id", id, "prior_status", prior)
	return &RefreshTicket{Brief: b, PriorStatus: prior}, nil
}

func (s *Service) RunRefresh(ctx context.Context, ticket *RefreshTicket) (*Brief, error) {
	id := ticket.Brief.ID
	searchTerm := ticket.Brief.SearchQuery()
	err := s.execute(ctx, ticket.Brief, searchTerm, false)
	if err == nil {
		s.log.Info("brief refresh completed", "brief_id", id)
		return s.store.GetBrief(ctx, id)
	}

	s.log.Error("brief refresh failed", "brief_id", id, "stage", StageNameFromError(err), "restored_status", ticket.PriorStatus, "error", err)
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if rerr := s.store.RestoreStatus(fctx, id, ticket.PriorStatus, s.cfg.Now().UTC()); rerr != nil {
		s.log.Error("brief status could not be restored", "brief_id", id, "error", rerr)
		return nil, errors.Join(err, rerr)
	}
	restored, gerr := s.store.GetBrief(fctx, id)
	if gerr != nil {
		return nil, err
	}
	return restored, err
}

// Abandon marks a brief created by Create as failed when its run will never start.
func (s *Service) Abandon(ctx context.Context, id string, cause error) (*Brief, error) {
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := s.store.FailRun(fctx, id, failureSummary(cause), s.cfg.Now().UTC()); err != nil {
		return nil, err
	}
	s.log.Warn("brief abandoned before generation", "brief_id", id, "error", cause)
	return s.store.GetBrief(fctx, id)
}

// AbandonRefresh releases a ticket whose refresh run will never start, putting back
// the status the brief had before BeginRefresh.
func (s *Service) AbandonRefresh(ctx context.Context, ticket *RefreshTicket, cause error) (*Brief, error) {
	id := ticket.Brief.ID
	fctx, cancel := finalizeContext(ctx)
	defer cancel()
	if err := s.store.RestoreStatus(fctx, id, ticket.PriorStatus, s.cfg.Now().UTC()); err != nil {
		return nil, err
	}
	s.log.Warn("brief refresh abandoned", "brief_id", id, "restored_status", ticket.PriorStatus, "error", cause)
	return s.store.GetBrief(fctx, id)
}

// execute runs search, normalization and analysis, then commits the result. With
// saveSearch the search report is stored as soon as the search returns; refresh runs
// leave the stored report alone until the success commit.
func (s *Service) execute(ctx context.Context, b *Brief, searchTerm string, saveSearch bool) error {
	ctx, span := s.tracer.Start(ctx, "brief.run", trace.WithAttributes(
		attribute.String("brief.id", b.ID),
		attribute.String("brief.search_term", searchTerm),
	))
	defer span.End()

	res, err := s.pipeline(ctx, b, searchTerm, saveSearch)
	if err == nil {
		if cerr := s.store.CompleteRun(ctx, b.ID, res, s.cfg.Now().UTC()); cerr != nil {
			err = &StageError{Stage: StagePersist, Err: cerr}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, StageNameFromError(err))
		return err
	}
	span.SetAttributes(attribute.Int("brief.trials", len(res.Trials)))
	return nil
}

func (s *Service) pipeline(ctx context.Context, b *Brief, searchTerm string, saveSearch bool) (RunResult, error) {
	studies, report, err := s.searcher.SearchWithReport(ctx, searchTerm, s.cfg.ReportSampleSize)
	if err != nil {
		return RunResult{}, &StageError{Stage: StageSearch, Err: err}
	}
	s.log.Info("studies fetched", "brief_id", b.ID, "count", len(studies))

	meta, err := json.Marshal(report)
	if err != nil {
		return RunResult{}, &StageError{Stage: StageSearch, Err: fmt.Errorf("encode search metadata: %w", err)}
	}
	if saveSearch {
		if err := s.store.SaveSearchMetadata(ctx, b.ID, meta, s.cfg.Now().UTC()); err != nil {
			return RunResult{}, &StageError{Stage: StagePersist, Err: err}
		}
	}

	trials, dropped := s.normalizer.NormalizeAll(studies)
	s.log.Info("trials normalized", "brief_id", b.ID, "kept", len(trials), "dropped", dropped)

	summary := NoTrialsSummary(b.Topic)
	if len(trials) > 0 {
		summary, err = s.analyzer.Analyze(ctx, b.Topic, trials)
		if err != nil {
			return RunResult{}, &StageError{Stage: StageAnalyze, Err: err}
		}
	}
	return RunResult{SearchMetadata: meta, Trials: trials, Summary: summary}, nil
}

// Get returns the brief when ownerID owns it.
func (s *Service) Get(ctx context.Context, id, ownerID string) (*Brief, error) {
	b, err := s.store.GetBrief(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		s.log.Warn("brief access denied", "brief_id", id, "owner", ownerID)
		return nil, ErrPermission
	}
	return b, nil
}

// List returns the caller's briefs and the total matching count before paging.
func (s *Service) List(ctx context.Context, ownerID string, f ListFilter) ([]Brief, int, error) {
	f.OwnerID = ownerID
	if f.ActiveOnly && f.Now.IsZero() {
		f.Now = s.cfg.Now()
	}
	return s.store.ListBriefs(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id, ownerID string) error {
	b, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBrief(ctx, id); err != nil {
		return err
	}
	s.log.Info("brief deleted", "brief_id", id, "topic", b.Topic, "owner", ownerID)
	return nil
}

func (s *Service) Status(ctx context.Context, id, ownerID string) (StatusReport, error) {
	b, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return StatusReport{}, err
	}
	n, err := s.store.CountTrials(ctx, id)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Status:      b.Status,
		IsCompleted: b.IsCompleted(),
		TrialCount:  n,
		UpdatedAt:   b.UpdatedAt,
		HasSummary:  b.IsCompleted() && b.Summary != "",
	}, nil
}

// Dashboard collects a brief, its ordered trials and the aggregate views over them.
func (s *Service) Dashboard(ctx context.Context, id, ownerID string) (*Dashboard, error) {
	b, err := s.Get(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	trials, err := s.store.ListTrials(ctx, id)
	if err != nil {
		return nil, err
	}
	sponsors := UniqueSponsors(trials)
	if len(sponsors) > maxDashboardSponsors {
		sponsors = sponsors[:maxDashboardSponsors]
	}
	return &Dashboard{
		Brief:    b,
		Trials:   trials,
		Stats:    ComputeStats(trials),
		Phases:   UniquePhases(trials),
		Statuses: UniqueStatuses(trials),
		Sponsors: sponsors,
	}, nil
}

// PurgeExpired deletes briefs past their expiry that are not mid-generation.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.cfg.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("expired briefs purged", "count", n)
	}
	return n, nil
}

func failureSummary(err error) string {
	cause := err
	var se *StageError
	if errors.As(err, &se) {
		cause = se.Err
	}
	return "Brief generation failed: " + cause.Error()
}

// finalizeContext outlives cancellation of the run so terminal status writes land.
func finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
