// Package export writes rendered clips and edit decision lists to disk. The
// batch coordinator renders one clip at a time with a cool-down between
// completions.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/instasplit/instasplit-agent/internal/logging"
	"github.com/instasplit/instasplit-agent/internal/media"
	"github.com/instasplit/instasplit-agent/internal/render"
)

const (
	DefaultCooldown = 1500 * time.Millisecond

	batchTitleRunes = 15
	maxNameLen      = 120
)

// ErrItemFailed wraps the cause of a batch item that was logged and skipped.
var ErrItemFailed = errors.New("export item failed")

// Renderer produces one clip. *render.Renderer satisfies it.
type Renderer interface {
	Render(ctx context.Context, req render.Request, onProgress render.ProgressFunc) (*media.Blob, error)
}

type Coordinator struct {
	renderer Renderer
	cooldown time.Duration
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator. A zero cooldown uses DefaultCooldown;
// a negative one disables it.
func NewCoordinator(r Renderer, cooldown time.Duration, logger *slog.Logger) *Coordinator {
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Coordinator{
		renderer: r,
		cooldown: cooldown,
		logger:   logging.WithComponent(logger, "export"),
	}
}

// ExportAll renders every segment of b in order, strictly one at a time.
// A failed item is logged and skipped. When ctx is cancelled the render in
// flight is torn down and the remaining items are reported as skipped.
func (c *Coordinator) ExportAll(ctx context.Context, b Batch, onItem func(ItemResult)) Summary {
	total := len(b.Segments)
	sum := Summary{Total: total, Files: []string{}}
	logger := c.logger.With("items", total, "aspect", string(b.Aspect))
	logger.Info("batch export started", "output_dir", logging.SanitizePath(b.OutputDir))

	for i, seg := range b.Segments {
		res := ItemResult{Position: i, SegmentIndex: seg.Index, Title: seg.Title, Total: total}

		if err := ctx.Err(); err != nil {
			res.Err, res.Skipped = err, true
			sum.Skipped++
			res.Completed = sum.Exported + sum.Failed
			emit(onItem, res)
			continue
		}

		blob, err := c.renderer.Render(ctx, render.Request{
			Source:     b.Source,
			Start:      seg.Start,
			End:        seg.End,
			Aspect:     b.Aspect,
			OutputPath: filepath.Join(b.OutputDir, BatchFilename(i, seg.Title)),
		}, nil)

		switch {
		case err == nil:
			sum.Exported++
			sum.Files = append(sum.Files, blob.Path)
			res.Path, res.Size = blob.Path, blob.Size
		case ctx.Err() != nil:
			res.Err, res.Skipped = ctx.Err(), true
			sum.Skipped++
		default:
			res.Err = fmt.Errorf("%w: segment %d: %w", ErrItemFailed, seg.Index, err)
			sum.Failed++
			logging.WithSegment(logger, seg.Index).Warn("export item failed, skipping", "error", err)
		}
		res.Completed = sum.Exported + sum.Failed
		emit(onItem, res)

		if i < total-1 && !res.Skipped {
			c.wait(ctx)
		}
	}

	logger.Info("batch export finished", "exported", sum.Exported, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum
}

func (c *Coordinator) wait(ctx context.Context) {
	if c.cooldown <= 0 {
		return
	}
	t := time.NewTimer(c.cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func emit(fn func(ItemResult), r ItemResult) {
	if fn != nil {
		fn(r)
	}
}

// BatchFilename names item i of a batch: whitespace runs in the title become
// dashes and the title is cut to 15 runes.
func BatchFilename(i int, title string) string {
	t := []rune(dashed(title))
	if len(t) > batchTitleRunes {
		t = t[:batchTitleRunes]
	}
	return SanitizeName(fmt.Sprintf("instasplit-%d-%s", i+1, string(t)), maxNameLen) + ".mp4"
}

// SingleFilename names a single downloaded clip. ext is the container
// extension of the recording, ".mp4" when empty.
func SingleFilename(title, ext string) string {
	if ext == "" {
		ext = ".mp4"
	}
	return SanitizeName("instasplit-"+strings.ToLower(dashed(title)), maxNameLen) + ext
}

// ShareText is the caption attached to shared clips.
func ShareText(title string) string {
	return title + " - Created with InstaSplit AI #instasplit #ai"
}

func dashed(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), "-")
}
