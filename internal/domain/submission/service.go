package submission

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/typeloader/typeloader/internal/platform/apperr"
	"github.com/typeloader/typeloader/internal/platform/blobstore"
	"github.com/typeloader/typeloader/internal/platform/descriptor"
	"github.com/typeloader/typeloader/internal/platform/dropbox"
	"github.com/typeloader/typeloader/internal/platform/embl"
	"github.com/typeloader/typeloader/internal/platform/packaging"
	"github.com/typeloader/typeloader/internal/platform/report"
	"github.com/typeloader/typeloader/internal/platform/telemetry"
	"github.com/typeloader/typeloader/internal/platform/webin"
)

// ErrUnreachable is returned when the drop box could not be contacted.
var ErrUnreachable = errors.New("could not reach ENA server, please check EMBL server connection")

// Config holds what the service needs besides its collaborators.
type Config struct {
	ProjectsDir string
	CenterName  string
	ToolName    string
	ToolVersion string
	Test        bool
}

// Service packages batches, runs them through the orchestrator and keeps
// their history. archive and drop box are optional.
type Service struct {
	cfg     Config
	repo    BatchRepository
	orch    *Orchestrator
	builder *packaging.Builder
	archive blobstore.Store
	dropbox *dropbox.Client
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithArchive copies batch files to store after every step.
func WithArchive(store blobstore.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithDropbox enables project registration.
func WithDropbox(c *dropbox.Client) Option {
	return func(s *Service) { s.dropbox = c }
}

// WithMetrics records artifacts and reply shapes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(cfg Config, repo BatchRepository, orch *Orchestrator, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		repo:    repo,
		orch:    orch,
		builder: packaging.NewBuilder(logger),
		logger:  logger.With().Str("component", "submission").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Screening --

// SampleCheck is the screening result of one per-sample file.
type SampleCheck struct {
	Sample string        `json:"sample"`
	Path   string        `json:"path"`
	Result apperr.Result `json:"result"`
}

// Screen parses every per-sample file and checks its completeness. A file
// that cannot be read fails the whole call; grammar violations are reported
// as fatal issues of that sample.
func (s *Service) Screen(paths []string) ([]SampleCheck, error) {
	checks := make([]SampleCheck, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read sample file: %w", err)
		}
		check := SampleCheck{Sample: packaging.SampleID(p), Path: p}
		rec, err := embl.ParseRecord(string(data))
		if err != nil {
			check.Result.Add(apperr.Fatal(err))
		} else {
			check.Result = embl.CheckCompleteness(rec)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// screenErr folds the checks into the error that blocks packaging, or nil.
// Recoverable issues block only when acceptIncomplete is false.
func screenErr(checks []SampleCheck, acceptIncomplete bool) error {
	var msgs []string
	var kind apperr.Kind
	for _, c := range checks {
		if c.Result.OK() || (c.Result.Recoverable() && acceptIncomplete) {
			continue
		}
		err := c.Result.Err()
		if kind == "" || c.Result.Fatal() {
			kind = apperr.KindOf(err)
		}
		msgs = append(msgs, fmt.Sprintf("%s: %v", c.Sample, err))
	}
	if len(msgs) == 0 {
		return nil
	}
	return apperr.New(kind, strings.Join(msgs, "\n"))
}

// -- Packaging --

// PrepareRequest describes a new batch.
type PrepareRequest struct {
	Alias            string
	Study            string
	Title            string
	Description      string
	Files            []string // per-sample flat files, in ordinal order
	AcceptIncomplete bool     // package samples with recoverable issues
}

// Prepare screens the sample files, builds the artifact with its line index,
// writes manifest and descriptors into a directory of its own under the alias
// (<projects>/<alias>/<batch-id>) and records the batch as Built. Retrying an
// alias therefore never touches the files of an earlier batch.
func (s *Service) Prepare(ctx context.Context, req PrepareRequest) (*Batch, error) {
	if req.Alias == "" {
		return nil, apperr.New(apperr.KindPackaging, "submission alias is required")
	}
	checks, err := s.Screen(req.Files)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "screen samples", err)
	}
	if err := screenErr(checks, req.AcceptIncomplete); err != nil {
		return nil, err
	}

	id := uuid.New()
	dir := filepath.Join(s.cfg.ProjectsDir, req.Alias, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "create project directory", err)
	}
	art, err := s.builder.Build(ctx, req.Files, filepath.Join(dir, webin.FlatfileName(req.Alias)))
	if err != nil {
		return nil, err
	}
	s.metrics.ArtifactBuilt(len(art.Samples))

	now := s.now()
	b := &Batch{
		ID:        id,
		Alias:     req.Alias,
		Study:     req.Study,
		Test:      s.cfg.Test,
		Artifact:  art.Path,
		Checksum:  art.Checksum,
		Samples:   art.Samples,
		Index:     art.Index,
		State:     StateBuilt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.writeControlFiles(b, req); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("record batch: %w", err)
	}
	s.archiveFiles(ctx, b, b.Artifact, b.ManifestPath(), AnalysisPath(b.Dir(), b.Alias), SubmissionPath(b.Dir(), b.Alias))

	s.logger.Info().
		Str("batch", b.ID.String()).
		Str("alias", b.Alias).
		Int("samples", len(b.Samples)).
		Bool("test", b.Test).
		Msg("batch prepared")
	return b, nil
}

func (s *Service) writeControlFiles(b *Batch, req PrepareRequest) error {
	err := packaging.WriteManifest(b.ManifestPath(), packaging.Manifest{
		Study:       b.Study,
		Name:        b.Alias,
		Flatfile:    b.Artifact,
		Tool:        s.cfg.ToolName,
		ToolVersion: s.cfg.ToolVersion,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindPackaging, "write manifest", err)
	}

	analysisFile := AnalysisPath(b.Dir(), b.Alias)
	analysis := descriptor.NewAnalysis(descriptor.AnalysisInfo{
		Alias:          b.Alias,
		CenterName:     s.cfg.CenterName,
		Title:          req.Title,
		Description:    req.Description,
		StudyAccession: b.Study,
		Checksum:       b.Checksum,
		Artifact:       b.Artifact,
	})
	if err := descriptor.WriteFile(analysisFile, analysis); err != nil {
		return apperr.Wrap(apperr.KindPackaging, "write analysis descriptor", err)
	}
	sub := descriptor.NewAnalysisSubmission(b.Alias, s.cfg.CenterName, analysisFile)
	if err := descriptor.WriteFile(SubmissionPath(b.Dir(), b.Alias), sub); err != nil {
		return apperr.Wrap(apperr.KindPackaging, "write submission descriptor", err)
	}
	return nil
}

// -- Validate / submit --

// Validate runs the validation phase of a Built batch.
func (s *Service) Validate(ctx context.Context, id uuid.UUID) (*Batch, *report.Outcome, error) {
	return s.run(ctx, id, s.orch.validate)
}

// Submit runs the submission phase of a Valid batch.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*Batch, *report.Outcome, error) {
	return s.run(ctx, id, s.orch.submit)
}

// ValidateAndSubmit validates a Built batch and submits it when validation
// passed. The returned outcome belongs to the last phase that ran.
func (s *Service) ValidateAndSubmit(ctx context.Context, id uuid.UUID) (*Batch, *report.Outcome, error) {
	b, outcome, err := s.Validate(ctx, id)
	if err != nil || b.State != StateValid {
		return b, outcome, err
	}
	return s.Submit(ctx, id)
}

type phaseRun func(context.Context, *Batch, Claim) (*report.Outcome, error)

// run executes one phase. The in-progress state is stored before the tool
// starts, so only one run at a time owns a batch; a second caller gets an
// InvalidTransitionError.
func (s *Service) run(ctx context.Context, id uuid.UUID, phase phaseRun) (*Batch, *report.Outcome, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var held State
	claim := func(ctx context.Context, b *Batch, from State) error {
		err := s.repo.Update(ctx, b, from)
		if errors.Is(err, ErrStateConflict) {
			current, getErr := s.repo.GetByID(ctx, b.ID)
			if getErr != nil {
				return fmt.Errorf("reload batch: %w", getErr)
			}
			return &InvalidTransitionError{From: current.State, To: b.State}
		}
		if err != nil {
			return fmt.Errorf("record batch: %w", err)
		}
		held = b.State
		return nil
	}

	outcome, runErr := phase(ctx, b, claim)
	if held == "" {
		return nil, nil, runErr
	}

	// State changes are stored even when the phase gave no verdict, so the
	// history shows the attempt. A cancelled ctx must not block that.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.repo.Update(saveCtx, b, held); err != nil {
		s.logger.Error().Err(err).Str("batch", b.ID.String()).Msg("update batch history")
		if runErr == nil {
			runErr = fmt.Errorf("record batch: %w", err)
		}
	}
	if outcome != nil && !outcome.Success {
		s.archiveFiles(saveCtx, b, b.ReportPath())
	}
	return b, outcome, runErr
}

// -- Project registration --

// ProjectRequest describes a project to register.
type ProjectRequest struct {
	Alias       string
	Title       string
	Description string
}

// RegisterProject writes the project descriptors, posts them to the drop box
// and correlates the reply. The outcome carries the project accession on
// success.
func (s *Service) RegisterProject(ctx context.Context, req ProjectRequest) (*report.Outcome, error) {
	if s.dropbox == nil {
		return nil, errors.New("project registration is not configured")
	}
	if req.Alias == "" {
		return nil, errors.New("project alias is required")
	}
	id := uuid.New()
	dir := filepath.Join(s.cfg.ProjectsDir, req.Alias, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	projectFile := filepath.Join(dir, req.Alias+"_project.xml")
	project, err := descriptor.Marshal(descriptor.NewProject(descriptor.ProjectInfo{
		Alias:       req.Alias,
		CenterName:  s.cfg.CenterName,
		Title:       req.Title,
		Description: req.Description,
	}))
	if err != nil {
		return nil, err
	}
	submissionFile := filepath.Join(dir, req.Alias+"_submission.xml")
	sub, err := descriptor.Marshal(descriptor.NewProjectSubmission(req.Alias, s.cfg.CenterName, projectFile))
	if err != nil {
		return nil, err
	}
	for path, data := range map[string][]byte{projectFile: project, submissionFile: sub} {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}

	reply, err := s.dropbox.Submit(ctx,
		dropbox.Document{Field: "SUBMISSION", FileName: filepath.Base(submissionFile), Content: sub},
		dropbox.Document{Field: "PROJECT", FileName: filepath.Base(projectFile), Content: project},
	)
	if err != nil {
		s.logger.Error().Err(err).Str("project", req.Alias).Msg("drop box unreachable")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	outcome := report.ParseReply(reply.Body, "PROJECT", nil)
	s.metrics.ReplyShape(string(outcome.Shape))
	if s.archive != nil {
		key := blobstore.Key("project-"+req.Alias, req.Alias+"_receipt.xml")
		if _, err := s.archive.Put(ctx, key, bytes.NewReader(reply.Body), "application/xml"); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("archive drop box reply")
		}
	}
	s.logger.Info().
		Str("project", req.Alias).
		Int("status", reply.StatusCode).
		Bool("success", outcome.Success).
		Str("accession", outcome.ExternalID).
		Msg("project registration answered")
	return outcome, nil
}

// -- History --

// Get returns one batch.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Batch, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns batches newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Batch, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// archiveFiles copies existing files of b to the archive. Failures are logged
// and never fail the step.
func (s *Service) archiveFiles(ctx context.Context, b *Batch, paths ...string) {
	if s.archive == nil {
		return
	}
	for _, p := range paths {
		f, err := os.Open(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("file", p).Msg("archive batch file")
			continue
		}
		key := blobstore.Key(b.ID.String(), p)
		_, err = s.archive.Put(ctx, key, f, contentType(p))
		f.Close()
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("archive batch file")
		}
	}
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(path, ".xml"):
		return "application/xml"
	default:
		return "text/plain"
	}
}
