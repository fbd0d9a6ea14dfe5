package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/studysync/studysync-go/internal/model"
)

const mysqlSchema = `CREATE TABLE IF NOT EXISTS users (
	id              CHAR(24)     NOT NULL PRIMARY KEY,
	name            VARCHAR(255) NOT NULL,
	email           VARCHAR(255) NOT NULL,
	password        VARCHAR(255) NOT NULL,
	is_verified     BOOLEAN      NOT NULL DEFAULT FALSE,
	notes_uploaded  INT          NOT NULL DEFAULT 0,
	conversations   INT          NOT NULL DEFAULT 0,
	quizzes_taken   INT          NOT NULL DEFAULT 0,
	voice_notes     INT          NOT NULL DEFAULT 0,
	study_streak    INT          NOT NULL DEFAULT 0,
	total_questions INT          NOT NULL DEFAULT 0,
	correct_answers INT          NOT NULL DEFAULT 0,
	created_at      DATETIME(3)  NOT NULL,
	last_login      DATETIME(3)  NULL,
	UNIQUE KEY users_email_unique (email)
)`

const userColumns = `id, name, email, password, is_verified,
	notes_uploaded, conversations, quizzes_taken, voice_notes, study_streak,
	total_questions, correct_answers, created_at, last_login`

var statColumns = map[string]string{
	model.StatNotesUploaded:  "notes_uploaded",
	model.StatConversations:  "conversations",
	model.StatQuizzesTaken:   "quizzes_taken",
	model.StatVoiceNotes:     "voice_notes",
	model.StatStudyStreak:    "study_streak",
	model.StatTotalQuestions: "total_questions",
	model.StatCorrectAnswers: "correct_answers",
}

// MySQLUserStore stores users in a MySQL "users" table.
type MySQLUserStore struct {
	db *sql.DB
}

// NewMySQLUserStore returns a store on db.
func NewMySQLUserStore(db *sql.DB) *MySQLUserStore {
	return &MySQLUserStore{db: db}
}

func (r *MySQLUserStore) Name() string { return "mysql" }

func (r *MySQLUserStore) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate creates the users table when it does not exist.
func (r *MySQLUserStore) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, mysqlSchema); err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}
	return nil
}

func (r *MySQLUserStore) InsertIfAbsent(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = NormalizeEmail(u.Email)

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.PasswordHash, u.IsVerified,
		u.Stats.NotesUploaded, u.Stats.Conversations, u.Stats.QuizzesTaken, u.Stats.VoiceNotes,
		u.Stats.StudyStreak, u.Stats.TotalQuestions, u.Stats.CorrectAnswers,
		u.CreatedAt, nullTime(u.LastLogin),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (r *MySQLUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email))
}

func (r *MySQLUserStore) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, ErrUserNotFound
	}
	return r.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *MySQLUserStore) UpdateStats(ctx context.Context, id string, delta map[string]int) error {
	if !validID(id) {
		return ErrUserNotFound
	}
	delta = knownStats(delta)
	if len(delta) == 0 {
		_, err := r.FindByID(ctx, id)
		return err
	}

	names := make([]string, 0, len(delta))
	for name := range delta {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]any, 0, len(names)+1)
	for _, name := range names {
		col := statColumns[name]
		sets = append(sets, col+" = "+col+" + ?")
		args = append(args, delta[name])
	}
	args = append(args, id)

	return r.exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

func (r *MySQLUserStore) UpdateVerification(ctx context.Context, email string) error {
	return r.exec(ctx, `UPDATE users SET is_verified = TRUE WHERE email = ?`, NormalizeEmail(email))
}

func (r *MySQLUserStore) UpdateLastLogin(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrUserNotFound
	}
	return r.exec(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, time.Now().UTC(), id)
}

// exec runs an update and maps zero matched rows to ErrUserNotFound. The
// connection is opened with clientFoundRows so matched rows are reported
// even when nothing changed.
func (r *MySQLUserStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *MySQLUserStore) queryOne(ctx context.Context, query string, arg any) (*model.User, error) {
	var (
		u         model.User
		lastLogin sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsVerified,
		&u.Stats.NotesUploaded, &u.Stats.Conversations, &u.Stats.QuizzesTaken, &u.Stats.VoiceNotes,
		&u.Stats.StudyStreak, &u.Stats.TotalQuestions, &u.Stats.CorrectAnswers,
		&u.CreatedAt, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time
	}
	return &u, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// isDuplicateEntryError reports whether err is MySQL error 1062.
func isDuplicateEntryError(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}
