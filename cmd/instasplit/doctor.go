package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/instasplit/instasplit-agent/internal/config"
	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/spf13/cobra"
)

const ffmpegInstallURL = "https://ffmpeg.org/download.html"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check system dependencies",
	Long:  `Check that ffmpeg and ffprobe are installed, which clip formats can be encoded and whether Gemini credentials are configured.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Checking dependencies...")
		fmt.Println()

		var caps *media.Capabilities
		exec, err := media.NewExecutor(logging.NewLogger("error"))
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			caps, err = exec.ProbeCapabilities(ctx)
			cancel()
		}

		checks := doctorChecks(caps, err, cfg.GeminiAPIKey() != "", cfg.OracleModel())
		allGood := true
		for _, c := range checks {
			fmt.Println(c.String())
			if c.State == checkFailed {
				allGood = false
			}
		}

		fmt.Println()
		if allGood {
			fmt.Println("All dependencies are installed!")
		} else {
			fmt.Println("Some dependencies are missing. Please install them to use all features.")
			os.Exit(1)
		}
		return nil
	},
}

type checkState int

const (
	checkOK checkState = iota
	checkWarn
	checkFailed
)

type check struct {
	Name   string
	State  checkState
	Detail string
	Hint   string
}

func (c check) String() string {
	var mark string
	switch c.State {
	case checkOK:
		mark = okStyle.Render("✓")
	case checkWarn:
		mark = warnStyle.Render("!")
	default:
		mark = failStyle.Render("✗")
	}
	s := fmt.Sprintf("%s %s: %s", mark, c.Name, c.Detail)
	if c.Hint != "" {
		s += "\n  " + mutedStyle.Render(c.Hint)
	}
	return s
}

// doctorChecks turns a capability probe into report lines. probeErr is the
// error from resolving or probing ffmpeg, if any.
func doctorChecks(caps *media.Capabilities, probeErr error, hasKey bool, model string) []check {
	var checks []check

	if probeErr != nil || caps == nil {
		checks = append(checks, check{
			Name:   "ffmpeg",
			State:  checkFailed,
			Detail: "NOT FOUND",
			Hint:   "Install from: " + ffmpegInstallURL,
		})
	} else {
		checks = append(checks,
			check{Name: "ffmpeg", State: checkOK, Detail: "OK (" + caps.FFmpegPath + ")"},
			check{Name: "ffprobe", State: checkOK, Detail: "OK (" + caps.FFprobePath + ")"},
		)
		if caps.CanRender() {
			checks = append(checks, check{Name: "clip formats", State: checkOK, Detail: strings.Join(caps.Formats, ", ")})
		} else {
			checks = append(checks, check{
				Name:   "clip formats",
				State:  checkFailed,
				Detail: "NONE",
				Hint:   "ffmpeg was built without libx264, mpeg4, libvpx-vp9 or their audio encoders",
			})
		}
	}

	if hasKey {
		checks = append(checks, check{Name: "analyzer", State: checkOK, Detail: "gemini:" + model})
	} else {
		checks = append(checks, check{
			Name:   "analyzer",
			State:  checkWarn,
			Detail: "heuristic (no API key)",
			Hint:   "Set " + config.EnvGeminiAPIKey + " for model scoring and generation",
		})
	}
	return checks
}
