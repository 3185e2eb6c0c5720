package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-grouper/internal/config"
	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/kozaktomas/photo-grouper/internal/export"
	"github.com/kozaktomas/photo-grouper/internal/fingerprint"
	"github.com/kozaktomas/photo-grouper/internal/grouping"
	"github.com/kozaktomas/photo-grouper/internal/processor"
)

var groupCmd = &cobra.Command{
	Use:   "group <directory>",
	Short: "Group similar photos taken close together",
	Long: `Group the photos of a directory. Two photos end up in the same group when
their feature vectors are more similar than the similarity threshold and
their EXIF capture times are within the time threshold.

Feature vectors come from the embedding service at EMBEDDING_URL and are
cached by file content, in PostgreSQL when DATABASE_URL is set.

Examples:
  # Group all JPEGs with the configured thresholds
  photo-grouper group ~/Pictures/trip

  # Tighter grouping, copy each group into its own folder
  photo-grouper group ~/Pictures/trip --similarity-threshold 0.9 --time-threshold 2m --export-dir ./grouped

  # Machine readable output plus a CSV manifest
  photo-grouper group ~/Pictures/trip --json --manifest groups.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runGroup,
}

func init() {
	rootCmd.AddCommand(groupCmd)
	addGroupFlags(groupCmd)
}

func addGroupFlags(cmd *cobra.Command) {
	cmd.Flags().String("ext", "", "Image file extension (default PROCESSOR_EXTENSION)")
	cmd.Flags().Duration("time-threshold", 0, "Maximum capture time difference within a group (default GROUPING_TIME_THRESHOLD)")
	cmd.Flags().Float64("similarity-threshold", 0, "Cosine similarity a pair must exceed, in [-1, 1] (default GROUPING_SIMILARITY_THRESHOLD)")
	cmd.Flags().String("datetime-key", "", "EXIF field holding the capture time (default GROUPING_DATETIME_KEY)")
	cmd.Flags().String("normalise", "", "Feature normalisation: minmax, standard or none (default PROCESSOR_NORMALISE)")
	cmd.Flags().String("sort-by", "", "Metadata field to order images by before grouping (default PROCESSOR_SORT_BY)")
	cmd.Flags().Int("concurrency", 0, "Number of images processed in parallel (default PROCESSOR_CONCURRENCY)")
	cmd.Flags().Int("workers", 0, "Goroutines computing the similarity matrix, 0 = all CPUs")
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().Bool("no-progress", false, "Disable the progress bar")
	cmd.Flags().String("export-dir", "", "Copy images into one folder per group under this directory")
	cmd.Flags().String("manifest", "", "Write a CSV manifest of the grouping to this file")
	cmd.Flags().Bool("save-run", false, "Save the grouping to PostgreSQL (requires DATABASE_URL)")
}

// groupSettings are the effective options of a group run: flags that were
// set explicitly win over config.
type groupSettings struct {
	options     grouping.Options
	ext         string
	normalise   string
	sortBy      string
	concurrency int
	jsonOutput  bool
	noProgress  bool
	exportDir   string
	manifest    string
	saveRun     bool
}

func resolveGroupSettings(cmd *cobra.Command, cfg *config.Config) (groupSettings, error) {
	s := groupSettings{
		options:     cfg.Grouping.Options(),
		ext:         cfg.Processor.Extension,
		normalise:   cfg.Processor.Normalise,
		sortBy:      cfg.Processor.SortBy,
		concurrency: cfg.Processor.Concurrency,
		jsonOutput:  mustGetBool(cmd, "json"),
		noProgress:  mustGetBool(cmd, "no-progress"),
		exportDir:   mustGetString(cmd, "export-dir"),
		manifest:    mustGetString(cmd, "manifest"),
		saveRun:     mustGetBool(cmd, "save-run"),
	}

	flags := cmd.Flags()
	if flags.Changed("time-threshold") {
		s.options.TimeThreshold = mustGetDuration(cmd, "time-threshold")
	}
	if flags.Changed("similarity-threshold") {
		s.options.SimilarityThreshold = mustGetFloat64(cmd, "similarity-threshold")
	}
	if flags.Changed("datetime-key") {
		s.options.DateTimeKey = mustGetString(cmd, "datetime-key")
	}
	if flags.Changed("workers") {
		s.options.Workers = mustGetInt(cmd, "workers")
	}
	if flags.Changed("ext") {
		s.ext = mustGetString(cmd, "ext")
	}
	if flags.Changed("normalise") {
		s.normalise = mustGetString(cmd, "normalise")
	}
	if flags.Changed("sort-by") {
		s.sortBy = mustGetString(cmd, "sort-by")
	}
	if flags.Changed("concurrency") {
		s.concurrency = mustGetInt(cmd, "concurrency")
	}

	if s.options.DateTimeKey == "" {
		s.options.DateTimeKey = grouping.DefaultDateTimeKey
	}
	if err := s.options.Validate(); err != nil {
		return s, err
	}
	if !processor.ValidNormalise(s.normalise) {
		return s, fmt.Errorf("invalid --normalise %q: must be minmax, standard or none", s.normalise)
	}
	if s.ext == "" {
		return s, errors.New("--ext must not be empty")
	}
	if s.concurrency < 1 {
		return s, fmt.Errorf("--concurrency must be at least 1, got %d", s.concurrency)
	}
	return s, nil
}

// groupOutput is the JSON output of the group command.
type groupOutput struct {
	Directory string                 `json:"directory"`
	Records   []grouping.ImageRecord `json:"records"`
	Groups    []export.Group         `json:"groups"`
	Skipped   []string               `json:"skipped,omitempty"`
	RunID     *uuid.UUID             `json:"run_id,omitempty"`
}

// splitUnparseable separates records whose timestamp under key cannot be parsed.
func splitUnparseable(records []grouping.ImageRecord, key string) ([]grouping.ImageRecord, []error) {
	kept := make([]grouping.ImageRecord, 0, len(records))
	var skipped []error
	for _, rec := range records {
		if _, err := grouping.ParseTimestamp(rec.Metadata[key]); err != nil {
			skipped = append(skipped, fmt.Errorf("%s: unparseable %s %q", rec.ID, key, rec.Metadata[key]))
			continue
		}
		kept = append(kept, rec)
	}
	return kept, skipped
}

func runGroup(cmd *cobra.Command, args []string) error {
	dir := args[0]
	cfg := config.Load()

	settings, err := resolveGroupSettings(cmd, cfg)
	if err != nil {
		return err
	}

	// Keep stdout clean for JSON output
	var status io.Writer = os.Stdout
	if settings.jsonOutput {
		status = os.Stderr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, status)
	if err != nil {
		return err
	}
	defer store.Close()

	if settings.saveRun && !store.persistent() {
		return errors.New("--save-run requires DATABASE_URL to be set")
	}

	grouper, err := grouping.NewGrouper(settings.options)
	if err != nil {
		return err
	}

	paths, err := processor.ListImages(dir, settings.ext)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(status, "No *.%s images found in %s\n", settings.ext, dir)
		return nil
	}
	fmt.Fprintf(status, "Found %d images in %s\n", len(paths), dir)

	var bar *progressbar.ProgressBar
	if !settings.jsonOutput && !settings.noProgress {
		bar = progressbar.NewOptions(len(paths),
			progressbar.OptionSetDescription("Processing images"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("images"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	proc := processor.New(fingerprint.NewClient(cfg.Embedding.URL, cfg.Embedding.Model), store.cache, cfg.Embedding.MaxSize, cfg.Embedding.Model)
	result, err := proc.ProcessDir(ctx, dir, processor.Options{
		Extension:   settings.ext,
		Normalise:   settings.normalise,
		SortBy:      settings.sortBy,
		RequireKey:  settings.options.DateTimeKey,
		Concurrency: settings.concurrency,
		OnProgress: func(info processor.ProgressInfo) {
			if bar != nil {
				bar.Add(1)
			}
		},
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("failed to process images: %w", err)
	}

	records, unparseable := splitUnparseable(result.Records, settings.options.DateTimeKey)
	skipped := append(result.Errors, unparseable...)
	for _, e := range skipped {
		fmt.Fprintf(status, "Skipped %v\n", e)
	}
	if result.Cached > 0 {
		fmt.Fprintf(status, "Reused %d cached embeddings\n", result.Cached)
	}

	records, err = grouper.Apply(ctx, records)
	if err != nil {
		return fmt.Errorf("failed to group images: %w", err)
	}
	groups := export.Summarize(records, settings.options.DateTimeKey)

	if settings.manifest != "" {
		if err := writeManifest(settings.manifest, records, settings.options.DateTimeKey); err != nil {
			return err
		}
		fmt.Fprintf(status, "Manifest written to %s\n", settings.manifest)
	}

	if settings.exportDir != "" {
		copied, err := export.CopyGroups(records, settings.exportDir)
		if err != nil {
			return fmt.Errorf("failed to export groups: %w", err)
		}
		fmt.Fprintf(status, "Copied %d images into %d group folders under %s\n", copied, len(groups), settings.exportDir)
	}

	var runID *uuid.UUID
	if settings.saveRun {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			absDir = dir
		}
		id, err := store.runs.SaveRun(ctx, database.NewRun(absDir, grouper.Options(), records))
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		runID = &id
		fmt.Fprintf(status, "Saved run %s\n", id)
	}

	if settings.jsonOutput {
		out := groupOutput{Directory: dir, Records: records, Groups: groups, RunID: runID}
		for _, e := range skipped {
			out.Skipped = append(out.Skipped, e.Error())
		}
		if out.Records == nil {
			out.Records = []grouping.ImageRecord{}
		}
		return outputJSON(out)
	}

	printGroups(os.Stdout, records, groups)
	return nil
}

func writeManifest(path string, records []grouping.ImageRecord, key string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	if err := export.WriteCSV(f, records, key); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// printGroups prints one line per group
func printGroups(out io.Writer, records []grouping.ImageRecord, groups []export.Group) {
	fmt.Fprintf(out, "Grouped %d images into %d groups\n\n", len(records), len(groups))
	if len(groups) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tSIZE\tSEED\tFROM\tTO")
	for _, g := range groups {
		from, to := "-", "-"
		if !g.Start.IsZero() {
			from = g.Start.Format("2006-01-02 15:04:05")
			to = g.End.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", g.ID, g.Size, g.Seed, from, to)
	}
	w.Flush()
}
