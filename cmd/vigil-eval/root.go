package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/pipeline"
	"github.com/MikeSquared-Agency/vigil/internal/prompt"
	"github.com/MikeSquared-Agency/vigil/internal/provider"
	"github.com/MikeSquared-Agency/vigil/internal/transcript"
)

// newProvider is replaced in tests.
var newProvider = provider.New

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vigil-eval",
		Short:        "Prune and evaluate session transcripts offline",
		SilenceUsage: true,
	}
	root.AddCommand(newPruneCmd(), newEvaluateCmd())
	return root
}

type fileFlags struct {
	file   string
	budget int
	unit   string
}

func (f *fileFlags) register(cmd *cobra.Command, cfg config.Config) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "transcript JSON file (- for stdin)")
	cmd.Flags().IntVar(&f.budget, "budget", cfg.Budget, "pruning budget")
	cmd.Flags().StringVar(&f.unit, "unit", cfg.BudgetUnit, "budget unit: chars or tokens")
	_ = cmd.MarkFlagRequired("file")
}

func (f *fileFlags) read(cmd *cobra.Command) ([]byte, error) {
	if f.file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(f.file)
}

// options applies flag overrides on top of the environment configuration.
func (f *fileFlags) options(cfg config.Config) (pipeline.Options, error) {
	cfg.Budget = f.budget
	cfg.BudgetUnit = f.unit
	return pipeline.OptionsFromConfig(cfg)
}

func newPruneCmd() *cobra.Command {
	cfg := config.Load()
	var flags fileFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Score and prune a transcript and print what the evaluator would see",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.read(cmd)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			opts, err := flags.options(cfg)
			if err != nil {
				return err
			}
			p, err := pipeline.New(opts, pipeline.Deps{}, logger(cmd))
			if err != nil {
				return err
			}

			session, err := transcript.Parse(raw)
			if err != nil {
				return err
			}
			pruned, err := p.Prepare(cmd.Context(), session)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(pruned)
			}
			fmt.Fprint(out, prompt.RenderTranscript(pruned))
			fmt.Fprintf(out, "\nkept %d of %d turns, %d omitted in %d gap(s), %d/%d %s used\n",
				pruned.KeptTurnCount, pruned.OriginalTurnCount, pruned.OmittedTurnCount(),
				len(pruned.Gaps()), pruned.Used, pruned.Budget.Limit, pruned.Budget.Unit)
			return nil
		},
	}
	flags.register(cmd, cfg)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pruned session as JSON")
	return cmd
}

func newEvaluateCmd() *cobra.Command {
	cfg := config.Load()
	var flags fileFlags

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run the full pipeline against the configured provider and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := flags.read(cmd)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			opts, err := flags.options(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			prov, err := newProvider(ctx, cfg)
			if err != nil {
				return err
			}
			if c, ok := prov.(interface{ Close() error }); ok {
				defer c.Close()
			}

			log := logger(cmd)
			p, err := pipeline.New(opts, pipeline.Deps{Client: evaluator.NewClient(prov, cfg.EvalTimeout, log)}, log)
			if err != nil {
				return err
			}

			out, err := p.Evaluate(ctx, raw)
			if err != nil {
				return fmt.Errorf("%s: %w", pipeline.Kind(err), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"result":         out.Result,
				"is_safe":        out.IsSafe,
				"rubric_version": out.RubricVersion,
				"provider":       out.Provider,
				"model":          out.Model,
				"attempts":       out.Attempts,
				"kept_turns":     out.Pruned.KeptTurnCount,
				"original_turns": out.Pruned.OriginalTurnCount,
			})
		},
	}
	flags.register(cmd, cfg)
	return cmd
}

// logger writes to stderr so stdout stays machine-readable.
func logger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}
