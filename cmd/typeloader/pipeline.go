package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/typeloader/typeloader/internal/domain/submission"
	"github.com/typeloader/typeloader/internal/platform/auth"
	"github.com/typeloader/typeloader/internal/platform/descriptor"
	"github.com/typeloader/typeloader/internal/platform/embl"
	"github.com/typeloader/typeloader/internal/platform/fasta"
	"github.com/typeloader/typeloader/internal/platform/report"
)

var errRejected = errors.New("the complete submission has been rejected")

// ---------------------------------------------------------------------------
// Offline checks
// ---------------------------------------------------------------------------

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <flatfile>",
		Short: "Parse one EMBL-style record and report its completeness",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			rec, err := embl.ParseRecord(string(data))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
				"record":       rec,
				"cds":          rec.CDS(),
				"completeness": embl.CheckCompleteness(rec),
			})
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <fasta>",
		Short: "Check a FASTA file for format and non-ATGC characters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return checkFASTA(f, cmd.OutOrStdout())
		},
	}
}

// checkFASTA prints one line per record and fails if any record has
// problems.
func checkFASTA(r io.Reader, w io.Writer) error {
	recs, err := fasta.ReadRecords(r)
	if err != nil {
		return err
	}
	var bad int
	for _, rec := range recs {
		name := fasta.ParseHeader(rec.Header()).Name
		if problems := fasta.CheckComposition(rec.Sequence); len(problems) > 0 {
			bad++
			fmt.Fprintf(w, "%s\t%d bp\t%d non-ATGC base(s), first at position %d\n",
				name, len(rec.Sequence), len(problems), problems[0].Pos+1)
			continue
		}
		fmt.Fprintf(w, "%s\t%d bp\tok\n", name, len(rec.Sequence))
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d sequences failed the check", bad, len(recs))
	}
	return nil
}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference <file.dat>",
		Short: "Build an alignment reference FASTA from an IPD .dat file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetString("target")
			out, _ := cmd.Flags().GetString("out")
			alleles, _ := cmd.Flags().GetStringSlice("allele")

			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			sum, err := embl.BuildReference(in, w, target, alleles)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "release %s: wrote %d reference sequences (%d with introns)\n",
				sum.Release, sum.Written, len(sum.FullSequence))
			return nil
		},
	}
	cmd.Flags().String("target", embl.TargetHLA, "Reference target: hla or KIR")
	cmd.Flags().String("out", "", "Output file (default stdout)")
	cmd.Flags().StringSlice("allele", nil, "Restrict the reference to these alleles")
	return cmd
}

// ---------------------------------------------------------------------------
// Submission pipeline
// ---------------------------------------------------------------------------

func packageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package <sample-file>...",
		Short: "Package per-sample flat files into a submission batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := submission.PrepareRequest{Files: args}
			req.Alias, _ = cmd.Flags().GetString("alias")
			req.Study, _ = cmd.Flags().GetString("study")
			req.Title, _ = cmd.Flags().GetString("title")
			req.Description, _ = cmd.Flags().GetString("description")
			req.AcceptIncomplete, _ = cmd.Flags().GetBool("accept-incomplete")

			if studyFile, _ := cmd.Flags().GetString("study-file"); studyFile != "" {
				if err := readStudy(studyFile, &req); err != nil {
					return err
				}
			}

			return withApp(func(ctx context.Context, a *app) error {
				b, err := a.svc.Prepare(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "batch %s built: %d sample(s) in %s (md5 %s)\n",
					b.ID, len(b.Samples), b.Artifact, b.Checksum)
				return nil
			})
		},
	}
	cmd.Flags().String("alias", "", "Submission alias, e.g. DKMS_1_20261017")
	cmd.Flags().String("study", "", "Study accession the analysis belongs to")
	cmd.Flags().String("title", "", "Analysis title")
	cmd.Flags().String("description", "", "Analysis description")
	cmd.Flags().String("study-file", "", "Study descriptor to take title and description from")
	cmd.Flags().Bool("accept-incomplete", false, "Package samples without introns or UTRs")
	_ = cmd.MarkFlagRequired("alias")
	return cmd
}

// readStudy fills empty title and description from a study descriptor.
func readStudy(path string, req *submission.PrepareRequest) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	title, desc, err := descriptor.ParseStudy(f)
	if err != nil {
		return err
	}
	if req.Title == "" {
		req.Title = title
	}
	if req.Description == "" {
		req.Description = desc
	}
	return nil
}

func submitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <batch-id>",
		Short: "Validate a built batch and submit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id %q", args[0])
			}
			validateOnly, _ := cmd.Flags().GetBool("validate-only")

			return withApp(func(ctx context.Context, a *app) error {
				run := a.svc.ValidateAndSubmit
				if validateOnly {
					run = a.svc.Validate
				}
				b, outcome, err := run(ctx, id)
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), b, outcome)
			})
		},
	}
	cmd.Flags().Bool("validate-only", false, "Stop after validation")
	return cmd
}

func printOutcome(w io.Writer, b *submission.Batch, outcome *report.Outcome) error {
	fmt.Fprintf(w, "batch %s: %s\n\n%s\n", b.ID, b.State, outcome.Render())
	if !outcome.Success {
		return errRejected
	}
	return nil
}

func registerProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-project",
		Short: "Register a new ENA project through the drop box",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req submission.ProjectRequest
			req.Alias, _ = cmd.Flags().GetString("alias")
			req.Title, _ = cmd.Flags().GetString("title")
			req.Description, _ = cmd.Flags().GetString("description")

			return withApp(func(ctx context.Context, a *app) error {
				outcome, err := a.svc.RegisterProject(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), outcome.Render())
				if !outcome.Success {
					return errRejected
				}
				fmt.Fprintf(cmd.OutOrStdout(), "project accession: %s\n", outcome.ExternalID)
				return nil
			})
		},
	}
	cmd.Flags().String("alias", "", "Project alias")
	cmd.Flags().String("title", "", "Project title")
	cmd.Flags().String("description", "", "Project description")
	_ = cmd.MarkFlagRequired("alias")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "List submission batches, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			return withApp(func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					id, err := uuid.Parse(args[0])
					if err != nil {
						return fmt.Errorf("invalid batch id %q", args[0])
					}
					b, err := a.svc.Get(ctx, id)
					if err != nil {
						return err
					}
					printBatch(cmd.OutOrStdout(), b)
					return nil
				}
				batches, total, err := a.svc.List(ctx, limit, offset)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), batches, total)
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "Number of batches to show")
	cmd.Flags().Int("offset", 0, "Number of batches to skip")
	return cmd
}

func printHistory(w io.Writer, batches []*submission.Batch, total int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tALIAS\tSTATE\tSAMPLES\tACCESSION\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			b.ID, b.Alias, b.State, len(b.Samples), b.ExternalID, b.CreatedAt.Format(time.DateTime))
	}
	tw.Flush()
	fmt.Fprintf(w, "%d of %d batch(es)\n", len(batches), total)
}

func printBatch(w io.Writer, b *submission.Batch) {
	fmt.Fprintf(w, "batch:     %s\n", b.ID)
	fmt.Fprintf(w, "alias:     %s\n", b.Alias)
	fmt.Fprintf(w, "study:     %s\n", b.Study)
	fmt.Fprintf(w, "state:     %s\n", b.State)
	fmt.Fprintf(w, "test:      %t\n", b.Test)
	fmt.Fprintf(w, "artifact:  %s (md5 %s)\n", b.Artifact, b.Checksum)
	fmt.Fprintf(w, "samples:   %s\n", strings.Join(b.Samples, ", "))
	if b.ExternalID != "" {
		fmt.Fprintf(w, "accession: %s\n", b.ExternalID)
	}
	for _, t := range b.Transitions {
		fmt.Fprintf(w, "  %s  %s -> %s\n", t.At.Format(time.DateTime), t.From, t.To)
	}
	if b.Outcome != nil {
		fmt.Fprintf(w, "\n%s\n", b.Outcome.Render())
	}
}

// ---------------------------------------------------------------------------
// API tokens
// ---------------------------------------------------------------------------

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with JWT_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken([]byte(cfg.JWTSigningKey), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject")
	cmd.Flags().StringSlice("role", []string{auth.RoleViewer}, "Roles granted by the token")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// withApp loads configuration and opens the app for the duration of fn. An
// interrupt cancels fn's context, which stops a running Webin-CLI.
func withApp(fn func(context.Context, *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
