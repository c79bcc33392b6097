package models

import "time"

// Domain models matching the database schema in db/migrations.

// Student is a tracked Codeforces user. Identity and reminder fields are
// managed outside the sync pipeline; SyncState is owned by it.
type Student struct {
	ID                  int64  `json:"id" db:"id"`
	Handle              string `json:"cfHandle" db:"handle" yaml:"handle"`
	Name                string `json:"name" db:"name" yaml:"name"`
	Email               string `json:"email" db:"email" yaml:"email"`
	Phone               string `json:"phone,omitempty" db:"phone" yaml:"phone"`
	RemindersSent       int    `json:"remindersSent" db:"reminders_sent" yaml:"-"`
	AutoReminderEnabled bool   `json:"autoReminderEnabled" db:"auto_reminder" yaml:"auto_reminder"`
	Created             int64  `json:"created" db:"created" yaml:"-"`

	SyncState `yaml:"-"`
}

// SyncState holds every field a sync run overwrites. It is written as a unit.
type SyncState struct {
	CurrentRating    *int            `json:"currentRating,omitempty"`
	MaxRating        *int            `json:"maxRating,omitempty"`
	Contests         []ContestRecord `json:"contests"`
	SolvedProblems   []SolvedProblem `json:"solvedProblems"`
	LastActivityDate *time.Time      `json:"lastActivityDate,omitempty"`
	LastUpdated      *time.Time      `json:"lastUpdated,omitempty"`
	LastSynced       *time.Time      `json:"lastSynced,omitempty"`
}

type ContestRecord struct {
	ContestID        int       `json:"contestId"`
	ContestName      string    `json:"contestName"`
	ContestDate      time.Time `json:"contestDate"`
	Rank             int       `json:"rank"`
	OldRating        int       `json:"oldRating"`
	NewRating        int       `json:"newRating"`
	ProblemsUnsolved int       `json:"problemsUnsolved"`
}

type SolvedProblem struct {
	ProblemID   string    `json:"problemId"`
	ProblemName string    `json:"problemName"`
	Rating      int       `json:"rating"`
	SolvedDate  time.Time `json:"solvedDate"`
}

// SyncSchedule is the singleton recurring-sync setting.
type SyncSchedule struct {
	ID       string `json:"id" db:"id"`
	CronTime string `json:"cronTime" db:"cron_time"`
	Updated  int64  `json:"updated" db:"updated"`
}
