package syncer

import (
	"fmt"
	"time"

	"github.com/garnizeh/cftrack/pkg/codeforces"
	"github.com/garnizeh/cftrack/pkg/models"
)

// ProblemID is the composite key of a solved problem, e.g. "1850-A".
func ProblemID(p codeforces.Problem) string {
	return fmt.Sprintf("%d-%s", p.ContestID, p.Index)
}

// DedupSolved keeps one record per accepted problem. The first accepted
// submission in feed order wins, whatever its timestamp.
func DedupSolved(subs []codeforces.Submission) []models.SolvedProblem {
	seen := make(map[string]struct{})
	out := []models.SolvedProblem{}
	for _, s := range subs {
		if !s.Accepted() {
			continue
		}
		id := ProblemID(s.Problem)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, models.SolvedProblem{
			ProblemID:   id,
			ProblemName: s.Problem.Name,
			Rating:      s.Problem.Rating,
			SolvedDate:  codeforces.EpochTime(s.CreationTimeSeconds),
		})
	}
	return out
}

// LastActivity returns the time of the first submission in the feed, which
// the API orders newest first. It is nil for an empty feed.
func LastActivity(subs []codeforces.Submission) *time.Time {
	if len(subs) == 0 {
		return nil
	}
	t := codeforces.EpochTime(subs[0].CreationTimeSeconds)
	return &t
}
