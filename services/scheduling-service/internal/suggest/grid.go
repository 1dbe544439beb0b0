package suggest

import "github.com/md-rashed-zaman/studiobook/services/scheduling-service/internal/interval"

// Grid returns slot start minutes on a fixed step inside each window where a
// booking of length duration fits. Starts before notBefore are skipped.
func Grid(windows []interval.Interval, duration, step, notBefore int) []int {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var starts []int
	for _, w := range windows {
		if w.Start+duration > w.End {
			continue
		}
		for t := w.Start; t+duration <= w.End; t += step {
			if t < notBefore {
				continue
			}
			starts = append(starts, t)
		}
	}
	return starts
}
