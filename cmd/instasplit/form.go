package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/instasplit/instasplit-agent/internal/segment"
)

// optionsFormResult holds the raw values bound to the options form.
type optionsFormResult struct {
	Duration int
	Overlap  string
	MinScore string
	Aspect   string
}

func newOptionsFormResult(opts segment.SplitOptions) *optionsFormResult {
	return &optionsFormResult{
		Duration: opts.SegmentDuration,
		Overlap:  strconv.FormatFloat(opts.Overlap, 'f', -1, 64),
		MinScore: strconv.Itoa(opts.MinScore),
		Aspect:   string(opts.AspectRatio),
	}
}

// Options converts the form values, validating them as a whole.
func (r *optionsFormResult) Options() (segment.SplitOptions, error) {
	overlap, err := strconv.ParseFloat(strings.TrimSpace(r.Overlap), 64)
	if err != nil {
		return segment.SplitOptions{}, fmt.Errorf("overlap must be a number")
	}
	minScore, err := strconv.Atoi(strings.TrimSpace(r.MinScore))
	if err != nil {
		return segment.SplitOptions{}, fmt.Errorf("min score must be a whole number")
	}
	aspect, err := segment.ParseAspectRatio(r.Aspect)
	if err != nil {
		return segment.SplitOptions{}, err
	}
	opts := segment.SplitOptions{
		SegmentDuration: r.Duration,
		Overlap:         overlap,
		MinScore:        minScore,
		AspectRatio:     aspect,
	}
	return opts, opts.Validate()
}

// NewOptionsForm asks for the split options of one video. The result pointer
// is bound to the form fields and is populated on submit.
func NewOptionsForm(video string, result *optionsFormResult) *huh.Form {
	durations := make([]huh.Option[int], 0, len(segment.SegmentDurations))
	for _, d := range segment.SegmentDurations {
		durations = append(durations, huh.NewOption(fmt.Sprintf("%d seconds", d), d))
	}
	aspects := make([]huh.Option[string], 0, len(segment.AspectRatios))
	for _, a := range segment.AspectRatios {
		aspects = append(aspects, huh.NewOption(string(a), string(a)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().Title("Split "+video).Description("Choose how the video is cut and scored"),

			huh.NewSelect[int]().
				Title("Clip length").
				Options(durations...).
				Value(&result.Duration),

			huh.NewInput().
				Title("Overlap").
				Description("Seconds shared by consecutive clips").
				Value(&result.Overlap).
				Validate(func(s string) error {
					v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
					if err != nil || v < 0 {
						return fmt.Errorf("overlap must be a non-negative number")
					}
					if v >= float64(result.Duration) {
						return fmt.Errorf("overlap must be shorter than the clip")
					}
					return nil
				}),

			huh.NewInput().
				Title("Minimum score").
				Description("0 keeps everything, 100 keeps only perfect frames").
				Value(&result.MinScore).
				Validate(func(s string) error {
					v, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || v < 0 || v > 100 {
						return fmt.Errorf("min score must be between 0 and 100")
					}
					return nil
				}),

			huh.NewSelect[string]().
				Title("Aspect ratio").
				Options(aspects...).
				Value(&result.Aspect),
		),
	).WithTheme(formTheme())
}

func formTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.
		BorderStyle(lipgloss.ThickBorder()).
		BorderLeft(true).
		BorderForeground(Pink).
		PaddingLeft(1)

	t.Focused.Title = lipgloss.NewStyle().
		Foreground(Pink).
		Bold(true)

	t.Focused.Description = lipgloss.NewStyle().
		Foreground(Lavender)

	t.Focused.ErrorMessage = lipgloss.NewStyle().
		Foreground(Red)

	t.Focused.SelectSelector = lipgloss.NewStyle().
		SetString("▸ ").
		Foreground(Cyan)

	t.Focused.SelectedOption = lipgloss.NewStyle().
		Foreground(Cyan)

	t.Blurred.Base = t.Blurred.Base.
		BorderStyle(lipgloss.HiddenBorder()).
		BorderLeft(true).
		PaddingLeft(1)

	t.Blurred.Title = lipgloss.NewStyle().
		Foreground(Lavender)

	return t
}
