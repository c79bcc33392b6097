// Package stats derives read-only progress views from a student's synced
// contests and solved problems.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/garnizeh/cftrack/pkg/models"
	"github.com/garnizeh/cftrack/pkg/repository"
)

const (
	DefaultProblemRangeDays = 30
	DefaultContestRangeDays = 90
)

var ErrStudentNotFound = errors.New("student not found")

type HardestProblem struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
	Link   string `json:"link"`
}

type HeatmapDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type ProblemStats struct {
	MostDifficultProblem  *HardestProblem `json:"mostDifficultProblem"`
	TotalSolved           int             `json:"totalSolved"`
	AverageRating         int             `json:"averageRating"`
	AveragePerDay         float64         `json:"averagePerDay"`
	SolvedPerRatingBucket map[int]int     `json:"solvedPerRatingBucket"`
	SubmissionHeatmap     []HeatmapDay    `json:"submissionHeatmap"`
}

type RatingPoint struct {
	ContestName string `json:"contestName"`
	Rating      int    `json:"rating"`
}

type Progress struct {
	RatingHistory     []RatingPoint `json:"ratingHistory"`
	SubmissionHistory []HeatmapDay  `json:"submissionHistory"`
}

// ProblemLink turns a "1850-A" problem id into its problemset URL.
func ProblemLink(problemID string) string {
	contest, index, _ := strings.Cut(problemID, "-")
	return fmt.Sprintf("https://codeforces.com/problemset/problem/%s/%s", contest, index)
}

func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// ProblemSolving summarizes problems solved in the last days days.
func ProblemSolving(solved []models.SolvedProblem, days int, now time.Time) ProblemStats {
	if days <= 0 {
		days = DefaultProblemRangeDays
	}
	from := cutoff(now, days)

	out := ProblemStats{
		SolvedPerRatingBucket: map[int]int{},
		SubmissionHeatmap:     []HeatmapDay{},
	}
	var (
		hardest *models.SolvedProblem
		sum     int
		recent  []models.SolvedProblem
	)
	for i := range solved {
		p := solved[i]
		if p.SolvedDate.Before(from) {
			continue
		}
		recent = append(recent, p)
		sum += p.Rating
		out.SolvedPerRatingBucket[p.Rating/100*100]++
		if hardest == nil || p.Rating > hardest.Rating {
			hardest = &solved[i]
		}
	}
	if len(recent) == 0 {
		return out
	}

	out.TotalSolved = len(recent)
	out.AverageRating = int(math.Round(float64(sum) / float64(len(recent))))
	out.AveragePerDay = math.Round(float64(len(recent))/float64(days)*100) / 100
	out.MostDifficultProblem = &HardestProblem{
		Name:   hardest.ProblemName,
		Rating: hardest.Rating,
		Link:   ProblemLink(hardest.ProblemID),
	}
	out.SubmissionHeatmap = heatmap(recent)
	return out
}

// ContestsWithin returns the contests dated in the last days days, in
// stored order.
func ContestsWithin(contests []models.ContestRecord, days int, now time.Time) []models.ContestRecord {
	if days <= 0 {
		days = DefaultContestRangeDays
	}
	from := cutoff(now, days)
	out := []models.ContestRecord{}
	for _, c := range contests {
		if !c.ContestDate.Before(from) {
			out = append(out, c)
		}
	}
	return out
}

// ProgressOf builds the rating timeline and the all-time solve heatmap.
func ProgressOf(st *models.Student) Progress {
	p := Progress{RatingHistory: make([]RatingPoint, 0, len(st.Contests))}
	for _, c := range st.Contests {
		p.RatingHistory = append(p.RatingHistory, RatingPoint{ContestName: c.ContestName, Rating: c.NewRating})
	}
	p.SubmissionHistory = heatmap(st.SolvedProblems)
	return p
}

// heatmap counts solves per UTC day, oldest day first.
func heatmap(solved []models.SolvedProblem) []HeatmapDay {
	counts := map[string]int{}
	for _, p := range solved {
		counts[p.SolvedDate.UTC().Format(time.DateOnly)]++
	}
	out := make([]HeatmapDay, 0, len(counts))
	for d, n := range counts {
		out = append(out, HeatmapDay{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Service resolves students by handle and computes their views.
type Service struct {
	repo repository.StudentRepo
	now  func() time.Time
}

func NewService(repo repository.StudentRepo) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) student(ctx context.Context, handle string) (*models.Student, error) {
	st, err := s.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrStudentNotFound, handle)
	}
	return st, nil
}

func (s *Service) ProblemStats(ctx context.Context, handle string, days int) (ProblemStats, error) {
	st, err := s.student(ctx, handle)
	if err != nil {
		return ProblemStats{}, err
	}
	return ProblemSolving(st.SolvedProblems, days, s.now()), nil
}

func (s *Service) ContestHistory(ctx context.Context, handle string, days int) ([]models.ContestRecord, error) {
	st, err := s.student(ctx, handle)
	if err != nil {
		return nil, err
	}
	return ContestsWithin(st.Contests, days, s.now()), nil
}

func (s *Service) Progress(ctx context.Context, handle string) (Progress, error) {
	st, err := s.student(ctx, handle)
	if err != nil {
		return Progress{}, err
	}
	return ProgressOf(st), nil
}

// Student returns the stored student with its synced state.
func (s *Service) Student(ctx context.Context, handle string) (*models.Student, error) {
	return s.student(ctx, handle)
}
