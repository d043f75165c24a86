package segment

import (
	"fmt"
	"iter"
	"math"
)

// Plan computes the ordered analysis windows for a video of total seconds.
//
// Windows start at 0 and advance by duration-overlap. The last window is
// clamped to total; a clamped tail shorter than MinTailSeconds ends the plan
// instead of being emitted. At most maxSegments windows are returned.
func Plan(total, duration, overlap float64, maxSegments int) ([]Window, error) {
	seq, err := Windows(total, duration, overlap, maxSegments)
	if err != nil {
		return nil, err
	}
	var out []Window
	for w := range seq {
		out = append(out, w)
	}
	return out, nil
}

// Windows is the lazy form of Plan. The returned sequence holds no state and
// can be ranged over any number of times.
func Windows(total, duration, overlap float64, maxSegments int) (iter.Seq[Window], error) {
	if err := checkPlanInputs(total, duration, overlap, maxSegments); err != nil {
		return nil, err
	}
	step := duration - overlap

	return func(yield func(Window) bool) {
		for i := 0; i < maxSegments; i++ {
			t := float64(i) * step
			if t >= total {
				return
			}
			end := t + duration
			if end > total {
				if total-t < MinTailSeconds {
					return
				}
				end = total
			}
			if !yield(Window{Index: i, Start: t, End: end}) {
				return
			}
		}
	}, nil
}

// EstimateCount is the upper bound ceil(total/step) used before a plan
// exists, e.g. to size progress displays.
func EstimateCount(total, duration, overlap float64) int {
	step := duration - overlap
	if step <= 0 || total <= 0 {
		return 0
	}
	return int(math.Ceil(total / step))
}

func checkPlanInputs(total, duration, overlap float64, maxSegments int) error {
	switch {
	case math.IsNaN(total) || math.IsInf(total, 0) || total <= 0:
		return fmt.Errorf("%w: total duration must be positive", ErrInvalidConfiguration)
	case math.IsNaN(duration) || duration <= 0:
		return fmt.Errorf("%w: segment duration must be positive", ErrInvalidConfiguration)
	case math.IsNaN(overlap) || overlap < 0:
		return fmt.Errorf("%w: overlap must not be negative", ErrInvalidConfiguration)
	case overlap >= duration:
		return fmt.Errorf("%w: overlap must be smaller than duration", ErrInvalidConfiguration)
	case maxSegments <= 0:
		return fmt.Errorf("%w: max segments must be positive", ErrInvalidConfiguration)
	}
	return nil
}
