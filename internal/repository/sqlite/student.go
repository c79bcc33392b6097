package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/garnizeh/cftrack/pkg/models"
)

const studentColumns = `id, handle, name, email, phone, current_rating, max_rating, last_activity, last_updated, last_synced, reminders_sent, auto_reminder, created`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStudent(row rowScanner) (*models.Student, error) {
	var (
		s                                     models.Student
		phone                                 sql.NullString
		current, maxRating                    sql.NullInt64
		lastActivity, lastUpdated, lastSynced sql.NullInt64
		autoReminder                          int64
	)
	if err := row.Scan(&s.ID, &s.Handle, &s.Name, &s.Email, &phone, &current, &maxRating, &lastActivity, &lastUpdated, &lastSynced, &s.RemindersSent, &autoReminder, &s.Created); err != nil {
		return nil, err
	}
	if phone.Valid {
		s.Phone = phone.String
	}
	s.CurrentRating = intPtr(current)
	s.MaxRating = intPtr(maxRating)
	s.LastActivityDate = timePtr(lastActivity)
	s.LastUpdated = timePtr(lastUpdated)
	s.LastSynced = timePtr(lastSynced)
	s.AutoReminderEnabled = autoReminder != 0
	return &s, nil
}

func (r *SQLiteRepo) GetByHandle(ctx context.Context, handle string) (*models.Student, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+studentColumns+` FROM students WHERE handle = ?`, handle)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get student %q: %w", handle, err)
	}

	if err := r.loadSynced(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// ListStudents returns every student in insertion order.
func (r *SQLiteRepo) ListStudents(ctx context.Context) ([]models.Student, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+studentColumns+` FROM students ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	var out []models.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	// the pool holds a single connection; release it before the child queries
	rows.Close()

	for i := range out {
		if err := r.loadSynced(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *SQLiteRepo) loadSynced(ctx context.Context, s *models.Student) error {
	contests, err := r.listContests(ctx, s.ID)
	if err != nil {
		return err
	}
	solved, err := r.listSolved(ctx, s.ID)
	if err != nil {
		return err
	}
	s.Contests = contests
	s.SolvedProblems = solved
	return nil
}

func (r *SQLiteRepo) listContests(ctx context.Context, studentID int64) ([]models.ContestRecord, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT contest_id, contest_name, contest_date, rank, old_rating, new_rating, problems_unsolved FROM student_contests WHERE student_id = ? ORDER BY position`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list contests: %w", err)
	}
	defer rows.Close()

	out := []models.ContestRecord{}
	for rows.Next() {
		var (
			c    models.ContestRecord
			date int64
		)
		if err := rows.Scan(&c.ContestID, &c.ContestName, &date, &c.Rank, &c.OldRating, &c.NewRating, &c.ProblemsUnsolved); err != nil {
			return nil, fmt.Errorf("scan contest: %w", err)
		}
		c.ContestDate = fromMillis(date)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) listSolved(ctx context.Context, studentID int64) ([]models.SolvedProblem, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT problem_id, problem_name, rating, solved_date FROM student_solved_problems WHERE student_id = ? ORDER BY position`, studentID)
	if err != nil {
		return nil, fmt.Errorf("list solved problems: %w", err)
	}
	defer rows.Close()

	out := []models.SolvedProblem{}
	for rows.Next() {
		var (
			p    models.SolvedProblem
			date int64
		)
		if err := rows.Scan(&p.ProblemID, &p.ProblemName, &p.Rating, &date); err != nil {
			return nil, fmt.Errorf("scan solved problem: %w", err)
		}
		p.SolvedDate = fromMillis(date)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveSyncState overwrites the student's synced columns and replaces its
// contest and solved-problem rows in a single transaction.
func (r *SQLiteRepo) SaveSyncState(ctx context.Context, studentID int64, st *models.SyncState) error {
	if st == nil {
		return fmt.Errorf("sync state is nil")
	}

	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE students SET current_rating = ?, max_rating = ?, last_activity = ?, last_updated = ?, last_synced = ? WHERE id = ?`,
			nullInt(st.CurrentRating), nullInt(st.MaxRating), nullTime(st.LastActivityDate), nullTime(st.LastUpdated), nullTime(st.LastSynced), studentID)
		if err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: id %d", ErrStudentNotFound, studentID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM student_contests WHERE student_id = ?`, studentID); err != nil {
			return fmt.Errorf("clear contests: %w", err)
		}
		for i, c := range st.Contests {
			if _, err := tx.ExecContext(ctx, `INSERT INTO student_contests (student_id, position, contest_id, contest_name, contest_date, rank, old_rating, new_rating, problems_unsolved) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				studentID, i, c.ContestID, c.ContestName, toMillis(c.ContestDate), c.Rank, c.OldRating, c.NewRating, c.ProblemsUnsolved); err != nil {
				return fmt.Errorf("insert contest %d: %w", c.ContestID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM student_solved_problems WHERE student_id = ?`, studentID); err != nil {
			return fmt.Errorf("clear solved problems: %w", err)
		}
		for i, p := range st.SolvedProblems {
			if _, err := tx.ExecContext(ctx, `INSERT INTO student_solved_problems (student_id, position, problem_id, problem_name, rating, solved_date) VALUES (?, ?, ?, ?, ?, ?)`,
				studentID, i, p.ProblemID, p.ProblemName, p.Rating, toMillis(p.SolvedDate)); err != nil {
				return fmt.Errorf("insert solved problem %s: %w", p.ProblemID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("sync state saved", slog.Int64("student_id", studentID), slog.Int("contests", len(st.Contests)), slog.Int("solved", len(st.SolvedProblems)))
	return nil
}

// UpsertStudent inserts a student or refreshes the contact fields of the
// existing row with the same handle. Synced state and the reminder counter
// are left untouched.
func (r *SQLiteRepo) UpsertStudent(ctx context.Context, s *models.Student) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("student is nil")
	}
	if s.Handle == "" {
		return 0, fmt.Errorf("student handle is required")
	}

	autoReminder := 0
	if s.AutoReminderEnabled {
		autoReminder = 1
	}

	var id int64
	err := r.conn.QueryRow(ctx, `INSERT INTO students (handle, name, email, phone, auto_reminder, created) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET name = excluded.name, email = excluded.email, phone = excluded.phone, auto_reminder = excluded.auto_reminder
		RETURNING id`, s.Handle, s.Name, s.Email, s.Phone, autoReminder, now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert student %q: %w", s.Handle, err)
	}
	return id, nil
}
