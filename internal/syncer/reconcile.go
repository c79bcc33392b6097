package syncer

import (
	"github.com/garnizeh/cftrack/pkg/codeforces"
	"github.com/garnizeh/cftrack/pkg/models"
)

// ReconcileContests maps the rating history to contest records and fills in
// how many distinct problems of each contest were attempted but never
// accepted. Submissions outside a contest are ignored. The result does not
// depend on submission order.
func ReconcileContests(history []codeforces.RatingChange, subs []codeforces.Submission) []models.ContestRecord {
	attempted := make(map[int]map[string]struct{})
	solved := make(map[int]map[string]struct{})
	for _, s := range subs {
		if s.ContestID == 0 {
			continue
		}
		addIndex(attempted, s.ContestID, s.Problem.Index)
		if s.Accepted() {
			addIndex(solved, s.ContestID, s.Problem.Index)
		}
	}

	out := make([]models.ContestRecord, 0, len(history))
	for _, c := range history {
		out = append(out, models.ContestRecord{
			ContestID:        c.ContestID,
			ContestName:      c.ContestName,
			ContestDate:      codeforces.EpochTime(c.RatingUpdateTimeSeconds),
			Rank:             c.Rank,
			OldRating:        c.OldRating,
			NewRating:        c.NewRating,
			ProblemsUnsolved: len(attempted[c.ContestID]) - len(solved[c.ContestID]),
		})
	}
	return out
}

func addIndex(m map[int]map[string]struct{}, contestID int, index string) {
	set, ok := m[contestID]
	if !ok {
		set = make(map[string]struct{})
		m[contestID] = set
	}
	set[index] = struct{}{}
}
