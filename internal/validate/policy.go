package validate

import (
	"time"

	"github.com/sells-group/vose-cli/internal/model"
)

// Dedupe collapses each duplicate group to its highest-confidence record,
// keeping batch order. Ties go to the earlier record.
func Dedupe(batch []model.Showtime, window time.Duration) []model.Showtime {
	drop := make(map[int]bool)
	for _, group := range duplicateGroups(batch, window) {
		best := group[0]
		for _, idx := range group[1:] {
			if batch[idx].Confidence > batch[best].Confidence {
				best = idx
			}
		}
		for _, idx := range group {
			if idx != best {
				drop[idx] = true
			}
		}
	}

	out := make([]model.Showtime, 0, len(batch)-len(drop))
	for i := range batch {
		if !drop[i] {
			out = append(out, batch[i])
		}
	}
	return out
}

// ExpireStale returns a copy of batch with every record that started more
// than grace before now marked expired, and the number changed. Rejected
// records keep their status.
func ExpireStale(batch []model.Showtime, now time.Time, grace time.Duration) ([]model.Showtime, int) {
	out := make([]model.Showtime, len(batch))
	copy(out, batch)
	cutoff := now.Add(-grace)

	var n int
	for i := range out {
		st := &out[i]
		if st.VerificationStatus == model.StatusRejected || st.VerificationStatus == model.StatusExpired {
			continue
		}
		if validInstant(st.StartTime) && st.StartTime.Before(cutoff) {
			st.VerificationStatus = model.StatusExpired
			n++
		}
	}
	return out, n
}
