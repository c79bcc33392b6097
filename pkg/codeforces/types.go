package codeforces

import "time"

// VerdictOK marks an accepted submission.
const VerdictOK = "OK"

// User is the subset of the user.info result the tracker stores. Rating
// fields are absent for users who never took part in a rated contest.
type User struct {
	Handle    string `json:"handle"`
	Rating    *int   `json:"rating,omitempty"`
	MaxRating *int   `json:"maxRating,omitempty"`
	Rank      string `json:"rank,omitempty"`
	MaxRank   string `json:"maxRank,omitempty"`
}

// RatingChange is one entry of user.rating, in the order the API returns them.
type RatingChange struct {
	ContestID               int    `json:"contestId"`
	ContestName             string `json:"contestName"`
	Handle                  string `json:"handle"`
	Rank                    int    `json:"rank"`
	RatingUpdateTimeSeconds int64  `json:"ratingUpdateTimeSeconds"`
	OldRating               int    `json:"oldRating"`
	NewRating               int    `json:"newRating"`
}

type Problem struct {
	ContestID      int      `json:"contestId,omitempty"`
	ProblemsetName string   `json:"problemsetName,omitempty"`
	Index          string   `json:"index"`
	Name           string   `json:"name"`
	Rating         int      `json:"rating,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// Submission is one entry of user.status. ContestID is zero for submissions
// made outside a contest.
type Submission struct {
	ID                  int64   `json:"id"`
	ContestID           int     `json:"contestId,omitempty"`
	CreationTimeSeconds int64   `json:"creationTimeSeconds"`
	Problem             Problem `json:"problem"`
	Verdict             string  `json:"verdict,omitempty"`
}

func (s Submission) Accepted() bool {
	return s.Verdict == VerdictOK
}

// Bundle is everything fetched for one handle. It is only ever returned whole.
type Bundle struct {
	User          User
	RatingChanges []RatingChange
	Submissions   []Submission
}

// EpochTime converts API epoch seconds to a millisecond-resolution UTC instant.
func EpochTime(sec int64) time.Time {
	return time.UnixMilli(sec * 1000).UTC()
}
