package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-grouper/internal/config"
	"github.com/kozaktomas/photo-grouper/internal/database"
)

var runCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a saved grouping run",
	Long: `Show a grouping run saved with "group --save-run".
Requires DATABASE_URL.`,
	Args: cobra.ExactArgs(1),
	RunE: runShowRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("json", false, "Output as JSON")
}

func runShowRun(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", args[0], err)
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	store, err := openStorage(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.runs.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}

	if jsonOutput {
		return outputJSON(run)
	}
	printRun(os.Stdout, run)
	return nil
}

func printRun(out io.Writer, run *database.Run) {
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	fmt.Fprintf(out, "Directory:  %s\n", run.SourceDir)
	fmt.Fprintf(out, "Created:    %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Thresholds: %s, similarity > %g (%s)\n\n", run.TimeThreshold, run.SimilarityThreshold, run.DateTimeKey)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tGROUP\tTAKEN\tIMAGE")
	for _, a := range run.Assignments {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", a.Position, a.Group, a.TakenAt, a.ImageName)
	}
	w.Flush()
}
