package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/typeloader/typeloader/internal/domain/submission"
	"github.com/typeloader/typeloader/internal/platform/db"
	"github.com/typeloader/typeloader/internal/platform/packaging"
	"github.com/typeloader/typeloader/internal/platform/report"
	"github.com/typeloader/typeloader/internal/platform/webin"
)

const hlaRecord = `ID   HLA00001; SV 1; standard; DNA; HUM; 30 BP.
XX
DE   HLA-A*01:01:01:01, Human MHC Class I sequence
XX
FT   5'UTR           1..5
FT   exon            6..12
FT                   /number="1"
FT   intron          13..18
FT                   /number="1"
FT   exon            19..25
FT                   /number="2"
FT   3'UTR           26..30
XX
SQ   Sequence 30 BP; 8 A; 10 C; 7 G; 10 T; 0 other;
     aaaaaccccc ccggggggtt tttttacgta                                   30
//
`

// scriptedRunner answers java -version and then replays one output per
// tool mode.
type scriptedRunner struct {
	outputs map[string]string
}

func (r *scriptedRunner) Run(_ context.Context, argv []string) (webin.Output, error) {
	if len(argv) == 2 && argv[1] == "-version" {
		return webin.Output{Stderr: "openjdk version \"21\""}, nil
	}
	return webin.Output{Stdout: r.outputs[argv[len(argv)-1]]}, nil
}

func TestMigrator_PostgresIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, db.Migrations, db.PostgresDir)

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected nothing left to apply, applied %d", n)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d (%s) not applied", s.Version, s.Name)
		}
	}
}

func TestPostgresHistory_Roundtrip(t *testing.T) {
	resetHistory(t)
	ctx := context.Background()
	repo := submission.NewPostgresRepo(globalPool)

	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	samples := []string{"A", "B"}
	b := &submission.Batch{
		Alias:    "DKMS_1_20261017",
		Study:    "PRJEB0001",
		Test:     true,
		Artifact: "/projects/DKMS_1_20261017/DKMS_1_flatfile.txt.gz",
		Samples:  samples,
		Index: packaging.RestoreLineIndex(samples, []packaging.Entry{
			{Line: 1, Origin: packaging.Origin{Ordinal: 1, Sample: "A"}},
			{Line: 3, Origin: packaging.Origin{Ordinal: 2, Sample: "B"}},
		}),
		State:     submission.StateBuilt,
		CreatedAt: start,
		UpdatedAt: start,
	}
	if err := repo.Create(ctx, b); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	for i, next := range []submission.State{submission.StateValidating, submission.StateInvalid} {
		from := b.State
		if err := b.Transition(next, start.Add(time.Duration(i+1)*time.Second)); err != nil {
			t.Fatal(err)
		}
		if err := repo.Update(ctx, b, from); err != nil {
			t.Fatalf("Update() error: %v", err)
		}
	}
	b.Outcome = report.Failed(report.ShapeRaw, "ERROR: Invalid feature location")
	if err := repo.Update(ctx, b, submission.StateInvalid); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.State != submission.StateInvalid || got.Checksum != "" || !got.Test {
		t.Errorf("unexpected batch %+v", got)
	}
	if len(got.Transitions) != 2 || got.Transitions[1].To != submission.StateInvalid {
		t.Errorf("unexpected transitions %+v", got.Transitions)
	}
	if ord, sample, ok := got.Index.Lookup(3); !ok || ord != 2 || sample != "B" {
		t.Errorf("Lookup(3) = %d %q %v", ord, sample, ok)
	}
	if _, _, ok := got.Index.Lookup(2); ok {
		t.Error("the separator line must not resolve")
	}
	if got.Outcome == nil || got.Outcome.Success || len(got.Outcome.General) != 1 {
		t.Errorf("unexpected outcome %+v", got.Outcome)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, submission.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Update(ctx, b, submission.StateBuilt); !errors.Is(err, submission.ErrStateConflict) {
		t.Errorf("a stale state must not overwrite, got %v", err)
	}
}

func TestPostgresHistory_ListNewestFirst(t *testing.T) {
	resetHistory(t)
	ctx := context.Background()
	repo := submission.NewPostgresRepo(globalPool)

	base := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	for i, alias := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Hour)
		b := &submission.Batch{Alias: alias, State: submission.StateBuilt, CreatedAt: at, UpdatedAt: at}
		if err := repo.Create(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	page, total, err := repo.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(page), total)
	}
	if page[0].Alias != "third" || page[1].Alias != "second" {
		t.Errorf("unexpected order %s, %s", page[0].Alias, page[1].Alias)
	}
}

func TestPostgresHistory_Pipeline(t *testing.T) {
	resetHistory(t)
	ctx := context.Background()
	repo := submission.NewPostgresRepo(globalPool)

	runner := &scriptedRunner{outputs: map[string]string{
		"-validate": "INFO : The submission has been validated successfully.\n",
		"-submit":   "INFO : The submission has been completed successfully. The following analysis accession was assigned to the submission: ERZ4242\n",
	}}
	orch := submission.NewOrchestrator(runner, submission.ToolConfig{
		Jar:        "/opt/webin/webin-cli.jar",
		User:       "Webin-1",
		Password:   "secret",
		CenterName: "DKMS LIFE SCIENCE LAB",
		Timeout:    time.Minute,
	}, nil, zerolog.Nop())
	svc := submission.NewService(submission.Config{
		ProjectsDir: t.TempDir(),
		CenterName:  "DKMS LIFE SCIENCE LAB",
		ToolName:    "TypeLoader",
		ToolVersion: "integration",
		Test:        true,
	}, repo, orch, zerolog.Nop())

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"A", "B"} {
		p := filepath.Join(dir, name+".txt")
		if err := os.WriteFile(p, []byte(hlaRecord), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, p)
	}

	b, err := svc.Prepare(ctx, submission.PrepareRequest{Alias: "DKMS_7_20261017", Study: "PRJEB0001", Files: files})
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}
	if _, outcome, err := svc.ValidateAndSubmit(ctx, b.ID); err != nil || !outcome.Success {
		t.Fatalf("ValidateAndSubmit() = %+v, %v", outcome, err)
	}

	stored, err := repo.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != submission.StateSubmitted || stored.ExternalID != "ERZ4242" {
		t.Errorf("unexpected stored batch %s %q", stored.State, stored.ExternalID)
	}
	var states []submission.State
	for _, tr := range stored.Transitions {
		states = append(states, tr.To)
	}
	want := []submission.State{submission.StateValidating, submission.StateValid, submission.StateSubmitting, submission.StateSubmitted}
	if !slices.Equal(states, want) {
		t.Errorf("transitions %v, want %v", states, want)
	}
	if len(stored.Checksum) != 32 {
		t.Errorf("checksum not stored: %q", stored.Checksum)
	}
}
