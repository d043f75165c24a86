package main

import (
	"context"
	"fmt"
	"time"

	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/segment"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan [video-file]",
	Short: "Print the windows a video would be cut into",
	Long: `Print the analysis windows for a video without scoring anything. The
video length is probed with ffprobe unless --length is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func init() {
	addSplitFlags(planCmd)
	planCmd.Flags().Float64("length", 0, "Video length in seconds instead of probing a file")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	base, err := splitOptions(cfg.Presets().Split)
	if err != nil {
		return fmt.Errorf("invalid split presets: %w", err)
	}
	opts, err := applySplitFlags(cmd, base)
	if err != nil {
		return err
	}

	total, _ := cmd.Flags().GetFloat64("length")
	if total <= 0 {
		if len(args) == 0 {
			return fmt.Errorf("either a video file or --length is required")
		}
		if total, err = probeDuration(args[0]); err != nil {
			return err
		}
	}

	limit := segment.MaxSegments(cfg.Privileged())
	windows, err := segment.Plan(total, float64(opts.SegmentDuration), opts.Overlap, limit)
	if err != nil {
		return err
	}

	fmt.Println(renderWindows(windows))
	fmt.Println()
	fmt.Println(mutedStyle.Render(planSummary(total, opts, len(windows), limit)))
	return nil
}

func planSummary(total float64, opts segment.SplitOptions, planned, limit int) string {
	line := fmt.Sprintf("%d windows of %ds over %s", planned, opts.SegmentDuration, formatClock(total))
	if opts.Overlap > 0 {
		line += fmt.Sprintf(", %.1fs overlap", opts.Overlap)
	}
	if est := segment.EstimateCount(total, float64(opts.SegmentDuration), opts.Overlap); planned == limit && est > limit {
		line += fmt.Sprintf(" (capped at %d)", limit)
	}
	return line
}

func probeDuration(path string) (float64, error) {
	exec, err := media.NewExecutor(logging.NewLogger("error"))
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	probe, err := exec.Probe(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	return probe.Metadata().Duration, nil
}
