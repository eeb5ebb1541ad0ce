package submission

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/typeloader/typeloader/internal/platform/report"
	"github.com/typeloader/typeloader/internal/platform/telemetry"
	"github.com/typeloader/typeloader/internal/platform/webin"
)

const (
	headlineValidate = "ERROR: ENA rejected your files (validation failed):"
	headlineSubmit   = "ERROR: ENA rejected your files (submission failed):"
	testNote         = "This was a TEST submission and no data was submitted."
)

// ToolConfig is the account and runtime setup of the external tool.
type ToolConfig struct {
	Java       string
	Jar        string
	User       string
	Password   string
	CenterName string
	Proxy      string // host:port, optional
	Timeout    time.Duration
}

// Orchestrator drives a batch through validate and submit. It does not retry:
// a rejected batch is corrected and rebuilt by the caller.
type Orchestrator struct {
	runner  webin.Runner
	base    webin.Command
	timeout time.Duration
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewOrchestrator creates an Orchestrator. A malformed proxy is logged and
// ignored. metrics may be nil.
func NewOrchestrator(runner webin.Runner, cfg ToolConfig, metrics *telemetry.Metrics, logger zerolog.Logger) *Orchestrator {
	logger = logger.With().Str("component", "orchestrator").Logger()
	base := webin.Command{
		Java:       cfg.Java,
		Jar:        cfg.Jar,
		User:       cfg.User,
		Password:   cfg.Password,
		CenterName: cfg.CenterName,
	}
	if err := base.SetProxy(cfg.Proxy); err != nil {
		logger.Warn().Err(err).Msg("proxy setting ignored, connecting without proxy")
	}
	return &Orchestrator{
		runner:  runner,
		base:    base,
		timeout: cfg.Timeout,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Command returns the tool invocation for b in mode m.
func (o *Orchestrator) Command(b *Batch, m webin.Mode) webin.Command {
	cmd := o.base.WithMode(m)
	cmd.Manifest = b.ManifestPath()
	cmd.InputDir = b.Dir()
	cmd.OutputDir = b.Dir()
	cmd.Test = b.Test
	return cmd
}

// Claim stores the in-progress state of b before the tool starts, on the
// condition that the stored batch is still in from. It fails when another
// caller moved the batch first; the tool is then not run.
type Claim func(ctx context.Context, b *Batch, from State) error

// Validate runs the tool in validation mode. The batch ends Valid or Invalid
// and the returned outcome says why. When the run yields no verdict (timeout,
// tool failure, cancellation) the batch is put back to Built and the error is
// returned without an outcome.
func (o *Orchestrator) Validate(ctx context.Context, b *Batch) (*report.Outcome, error) {
	return o.validate(ctx, b, nil)
}

// Submit runs the tool in submission mode on a Valid batch. The batch ends
// Submitted, carrying the id the archive assigned, or Rejected.
func (o *Orchestrator) Submit(ctx context.Context, b *Batch) (*report.Outcome, error) {
	return o.submit(ctx, b, nil)
}

func (o *Orchestrator) validate(ctx context.Context, b *Batch, claim Claim) (*report.Outcome, error) {
	if err := o.begin(ctx, b, StateValidating, claim); err != nil {
		return nil, err
	}
	if err := webin.CheckJava(ctx, o.runner, o.base.Java); err != nil {
		o.rollback(b, StateBuilt, webin.ModeValidate, err)
		return nil, err
	}

	out, elapsed, err := o.invoke(ctx, b, webin.ModeValidate)
	if err != nil {
		o.rollback(b, StateBuilt, webin.ModeValidate, err)
		return nil, err
	}

	var outcome *report.Outcome
	next := StateValid
	if ok, status := webin.ClassifyValidate(out.Combined()); ok {
		outcome = report.Succeeded("", status)
	} else {
		outcome = o.correlate(b, out, headlineValidate)
		next = StateInvalid
	}
	return o.finish(b, webin.ModeValidate, elapsed, next, outcome)
}

func (o *Orchestrator) submit(ctx context.Context, b *Batch, claim Claim) (*report.Outcome, error) {
	if err := o.begin(ctx, b, StateSubmitting, claim); err != nil {
		return nil, err
	}

	out, elapsed, err := o.invoke(ctx, b, webin.ModeSubmit)
	if err != nil {
		o.rollback(b, StateValid, webin.ModeSubmit, err)
		return nil, err
	}

	var outcome *report.Outcome
	next := StateSubmitted
	if ok, id, status := webin.ClassifySubmit(out.Combined()); ok {
		outcome = report.Succeeded(id, status)
		b.ExternalID = id
	} else {
		outcome = o.correlate(b, out, headlineSubmit)
		next = StateRejected
	}
	return o.finish(b, webin.ModeSubmit, elapsed, next, outcome)
}

func (o *Orchestrator) invoke(ctx context.Context, b *Batch, m webin.Mode) (webin.Output, time.Duration, error) {
	cmd := o.Command(b, m)
	log := o.logger.With().Str("batch", b.ID.String()).Str("mode", string(m)).Logger()
	log.Info().Str("command", cmd.Redacted()).Msg("running submission tool")

	// Only a report written by this run may be correlated.
	if err := os.Remove(b.ReportPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return webin.Output{}, 0, fmt.Errorf("remove previous tool report: %w", err)
	}

	start := time.Now()
	out, err := webin.Invoke(ctx, o.runner, cmd, o.timeout)
	elapsed := time.Since(start)
	if stderr := out.Stderr; stderr != "" {
		log.Debug().Str("stderr", stderr).Msg("submission tool stderr")
	}
	if err != nil {
		result := telemetry.ResultError
		var te *webin.TimeoutError
		if errors.As(err, &te) {
			result = telemetry.ResultTimeout
		}
		o.metrics.ObserveInvocation(string(m), result, elapsed)
		return out, elapsed, err
	}
	log.Debug().Int("exit_code", out.ExitCode).Dur("elapsed", elapsed).Msg("submission tool finished")
	return out, elapsed, nil
}

// correlate explains a rejected run: from the report file when the tool left
// one, from its own error lines otherwise.
func (o *Orchestrator) correlate(b *Batch, out webin.Output, headline string) *report.Outcome {
	var outcome *report.Outcome
	if path, ok := webin.FindReport(b.Dir(), b.Alias); ok {
		parsed, err := report.ParseReportFile(path, b.Index)
		if err != nil {
			o.logger.Warn().Err(err).Str("report", path).Msg("could not read tool report, using tool output")
		} else {
			outcome = parsed
		}
	}
	if outcome == nil {
		outcome = report.FromToolOutput(webin.ErrorLines(out.Combined()))
	}
	outcome.Headline = headline
	return outcome
}

func (o *Orchestrator) finish(b *Batch, m webin.Mode, elapsed time.Duration, next State, outcome *report.Outcome) (*report.Outcome, error) {
	result := telemetry.ResultRejected
	if outcome.Success {
		result = telemetry.ResultSuccess
		if b.Test {
			outcome.Notes = append(outcome.Notes, testNote)
		}
	}
	o.metrics.ObserveInvocation(string(m), result, elapsed)
	o.metrics.ReplyShape(string(outcome.Shape))

	b.Outcome = outcome
	if err := o.move(b, next); err != nil {
		return nil, err
	}
	o.logger.Info().
		Str("batch", b.ID.String()).
		Str("mode", string(m)).
		Str("state", string(b.State)).
		Ints("problem_samples", outcome.ProblemSamples()).
		Msg("submission tool run classified")
	return outcome, nil
}

func (o *Orchestrator) rollback(b *Batch, prior State, m webin.Mode, cause error) {
	o.logger.Error().Err(cause).
		Str("batch", b.ID.String()).
		Str("mode", string(m)).
		Msg("submission tool run gave no verdict, batch state restored")
	if err := o.move(b, prior); err != nil {
		o.logger.Error().Err(err).Str("batch", b.ID.String()).Msg("restore batch state")
	}
}

// begin moves b into an in-progress state and, with a claim, stores that move
// before anything else happens.
func (o *Orchestrator) begin(ctx context.Context, b *Batch, next State, claim Claim) error {
	from := b.State
	if err := b.Transition(next, o.now()); err != nil {
		return err
	}
	if claim != nil {
		if err := claim(ctx, b, from); err != nil {
			return err
		}
	}
	o.metrics.Transition(string(from), string(next))
	return nil
}

func (o *Orchestrator) move(b *Batch, next State) error {
	from := b.State
	if err := b.Transition(next, o.now()); err != nil {
		return err
	}
	o.metrics.Transition(string(from), string(next))
	return nil
}
