package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/export"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split <video-file>",
	Short: "Analyze a video and rank its best moments",
	Long: `Cut a video into windows, score one frame per window and print the
accepted segments ranked by score. With --export every accepted segment is
rendered into the given folder; with --edl an edit decision list is written
instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runSplit,
}

func init() {
	addSplitFlags(splitCmd)
	splitCmd.Flags().String("sort", "score", "Display and export order: score or time")
	splitCmd.Flags().String("export", "", "Render every accepted segment into this folder")
	splitCmd.Flags().String("edl", "", "Write a CMX3600 edit decision list into this folder")
	splitCmd.Flags().BoolP("interactive", "i", false, "Choose options with a form")
	splitCmd.Flags().String("log-level", "warn", "Log level for diagnostics on stderr")
}

// addSplitFlags registers the flags that override the split presets.
func addSplitFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("duration", "d", 0, "Clip length in seconds (15, 30, 60 or 90)")
	cmd.Flags().Float64P("overlap", "o", 0, "Seconds shared by consecutive clips")
	cmd.Flags().IntP("min-score", "m", 0, "Drop segments scoring below this (0-100)")
	cmd.Flags().StringP("aspect", "a", "", "Output framing: Original, 9:16, 16:9 or 1:1")
}

// applySplitFlags overlays the flags the user set on base.
func applySplitFlags(cmd *cobra.Command, base segment.SplitOptions) (segment.SplitOptions, error) {
	opts := base
	flags := cmd.Flags()
	if flags.Changed("duration") {
		opts.SegmentDuration, _ = flags.GetInt("duration")
	}
	if flags.Changed("overlap") {
		opts.Overlap, _ = flags.GetFloat64("overlap")
	}
	if flags.Changed("min-score") {
		opts.MinScore, _ = flags.GetInt("min-score")
	}
	if flags.Changed("aspect") {
		raw, _ := flags.GetString("aspect")
		aspect, err := segment.ParseAspectRatio(raw)
		if err != nil {
			return base, err
		}
		opts.AspectRatio = aspect
	}
	if err := opts.Validate(); err != nil {
		return base, err
	}
	return opts, nil
}

func runSplit(cmd *cobra.Command, args []string) error {
	videoPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	title := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	sortFlag, _ := cmd.Flags().GetString("sort")
	order, err := segment.ParseSortOrder(sortFlag)
	if err != nil {
		return err
	}
	exportDir, err := absFlag(cmd, "export")
	if err != nil {
		return err
	}
	edlDir, err := absFlag(cmd, "edl")
	if err != nil {
		return err
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := ensureDirs(cfg); err != nil {
		return err
	}
	level, _ := cmd.Flags().GetString("log-level")
	logger := logging.NewLoggerTo(os.Stderr, level)

	base, err := splitOptions(cfg.Presets().Split)
	if err != nil {
		return fmt.Errorf("invalid split presets: %w", err)
	}
	opts, err := applySplitFlags(cmd, base)
	if err != nil {
		return err
	}
	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		result := newOptionsFormResult(opts)
		if err := NewOptionsForm(filepath.Base(videoPath), result).Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if opts, err = result.Options(); err != nil {
			return err
		}
	}

	reporter := newProgressReporter(os.Stderr)
	eng, err := newEngine(cfg, reporter, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := eng.manager.Load(ctx, videoPath)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render(filepath.Base(videoPath)) + mutedStyle.Render(fmt.Sprintf("  %s  %dx%d  %s",
		formatClock(sess.Source.Duration), sess.Source.Width, sess.Source.Height, eng.analyzer.Name())))

	summary, err := eng.manager.Analyze(ctx, &opts)
	reporter.Finish()
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	segs, err := eng.manager.Segments(ctx, order)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(renderSegments(segs))
	fmt.Println()
	line := fmt.Sprintf("%d windows analyzed, %d accepted", summary.Planned, summary.Accepted)
	if summary.Degraded > 0 {
		line += fmt.Sprintf(", %d with fallback scores", summary.Degraded)
	}
	fmt.Println(mutedStyle.Render(line))

	if len(segs) == 0 {
		return nil
	}

	if edlDir != "" {
		if err := export.EnsureOutputDir(edlDir); err != nil {
			return err
		}
		path, err := eng.manager.ExportEDL(ctx, edlDir, title)
		if err != nil {
			return fmt.Errorf("EDL export failed: %w", err)
		}
		fmt.Println(okStyle.Render("✓") + " EDL written to " + path)
	}

	if exportDir != "" {
		if err := export.EnsureOutputDir(exportDir); err != nil {
			return err
		}
		sum, err := eng.manager.ExportAll(ctx, exportDir, order)
		reporter.Finish()
		for _, msg := range reporter.Failures() {
			fmt.Println(failStyle.Render("✗") + " " + msg)
		}
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("%s %d of %d clips exported to %s\n", okStyle.Render("✓"), sum.Exported, sum.Total, exportDir)
		if sum.Failed > 0 {
			return fmt.Errorf("%d clips failed to export", sum.Failed)
		}
	}
	return nil
}

func absFlag(cmd *cobra.Command, name string) (string, error) {
	v, _ := cmd.Flags().GetString(name)
	if v == "" {
		return "", nil
	}
	abs, err := filepath.Abs(v)
	if err != nil {
		return "", fmt.Errorf("invalid --%s: %w", name, err)
	}
	return abs, nil
}
