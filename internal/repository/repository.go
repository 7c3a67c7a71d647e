package repository

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jhonttt/serena-api/internal/model"
)

// Store is the sole reader/writer of persisted identity state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uniqueViolation = "23505"

// translateErr maps driver errors to domain errors: missing rows to
// model.ErrNotFound and unique violations to DuplicateEntityError so
// callers never see pgx details.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		entity, field := constraintTarget(pgErr.ConstraintName)
		return &model.DuplicateEntityError{Entity: entity, Field: field}
	}
	return err
}

func constraintTarget(constraint string) (string, string) {
	switch constraint {
	case "users_email_key":
		return "user", "email"
	case "student_first_name_last_name_key":
		return "student", "name"
	case "student_user_id_key":
		return "student", "user_id"
	case "tutor_full_name_key":
		return "tutor", "full_name"
	case "tutor_email_tutor_key":
		return "tutor", "email_tutor"
	case "refresh_tokens_token_hash_key":
		return "refresh_token", "token_hash"
	case "user_preferences_user_id_key":
		return "user_preferences", "user_id"
	case "roles_name_key":
		return "role", "name"
	default:
		entity := constraint
		if i := strings.Index(constraint, "_"); i > 0 {
			entity = constraint[:i]
		}
		return entity, "unique"
	}
}

func (s *Store) RoleByName(ctx context.Context, name string) (model.Role, error) {
	var role model.Role
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM roles WHERE name = $1`, name)
	err := row.Scan(&role.ID, &role.Name)
	return role, translateErr(err)
}

func (s *Store) RoleByID(ctx context.Context, id int) (model.Role, error) {
	var role model.Role
	row := s.pool.QueryRow(ctx, `SELECT id, name FROM roles WHERE id = $1`, id)
	err := row.Scan(&role.ID, &role.Name)
	return role, translateErr(err)
}

// EnsureRole inserts a role when missing. Used only by seeding.
func (s *Store) EnsureRole(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO roles (name) VALUES ($1)
		ON CONFLICT (name) DO NOTHING
	`, name)
	return translateErr(err)
}

const userColumns = `id, email, password_hash, role_id, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.RoleID,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, translateErr(err)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) EmailInUse(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	return exists, translateErr(err)
}

const studentColumns = `id_student, user_id, first_name, last_name, birth_day, is_adult, education_level, psychological_issue_hash, created_at, updated_at`

func scanStudent(row pgx.Row) (model.Student, error) {
	var st model.Student
	err := row.Scan(
		&st.ID,
		&st.UserID,
		&st.FirstName,
		&st.LastName,
		&st.BirthDay,
		&st.IsAdult,
		&st.EducationLevel,
		&st.PsychologicalIssueHash,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	return st, translateErr(err)
}

func (s *Store) FindStudentByName(ctx context.Context, firstName, lastName string) (model.Student, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+studentColumns+` FROM student
		WHERE first_name = $1 AND last_name = $2
	`, firstName, lastName)
	return scanStudent(row)
}

func (s *Store) FindStudentByUser(ctx context.Context, userID string) (model.Student, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+studentColumns+` FROM student WHERE user_id = $1`, userID)
	return scanStudent(row)
}

func (s *Store) FindTutorByName(ctx context.Context, fullName string) (model.Tutor, error) {
	var tutor model.Tutor
	row := s.pool.QueryRow(ctx, `
		SELECT id_tutor, full_name, email_tutor, phone, relationship, created_at, updated_at
		FROM tutor WHERE full_name = $1
	`, fullName)
	err := row.Scan(&tutor.ID, &tutor.FullName, &tutor.Email, &tutor.Phone, &tutor.Relationship, &tutor.CreatedAt, &tutor.UpdatedAt)
	return tutor, translateErr(err)
}

// TutorsForStudent returns a student's guardians with the is_primary
// flag from the join row.
func (s *Store) TutorsForStudent(ctx context.Context, studentID string) ([]model.TutorLink, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id_tutor, t.full_name, t.email_tutor, t.phone, t.relationship, t.created_at, t.updated_at, st.is_primary
		FROM tutor t
		JOIN student_tutor st ON st.tutor_id = t.id_tutor
		WHERE st.student_id = $1
		ORDER BY st.is_primary DESC, t.full_name
	`, studentID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var links []model.TutorLink
	for rows.Next() {
		var link model.TutorLink
		if err := rows.Scan(&link.ID, &link.FullName, &link.Email, &link.Phone, &link.Relationship, &link.CreatedAt, &link.UpdatedAt, &link.IsPrimary); err != nil {
			return nil, translateErr(err)
		}
		links = append(links, link)
	}
	return links, translateErr(rows.Err())
}

func (s *Store) ProgressForStudent(ctx context.Context, studentID string) (model.StudentProgress, error) {
	var p model.StudentProgress
	row := s.pool.QueryRow(ctx, `
		SELECT id, student_id, breathing_done, breathing_total, diary_done, diary_total,
		       meditation_done, meditation_total, streak_days, sessions_completed, total_progress
		FROM student_progress WHERE student_id = $1
	`, studentID)
	err := row.Scan(
		&p.ID,
		&p.StudentID,
		&p.BreathingDone,
		&p.BreathingTotal,
		&p.DiaryDone,
		&p.DiaryTotal,
		&p.MeditationDone,
		&p.MeditationTotal,
		&p.StreakDays,
		&p.SessionsCompleted,
		&p.TotalProgress,
	)
	return p, translateErr(err)
}

// CreateUser inserts a bare account row with no student profile. Used
// for staff accounts; registrations go through CreateRegistration.
func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.PasswordHash, user.RoleID, user.IsActive, user.CreatedAt, user.UpdatedAt)
	return translateErr(err)
}

// CreateRegistration persists a full registration in one transaction:
// user, student, optional tutor with its primary link, and the initial
// progress row. Any failure, including a unique violation raced in by
// a concurrent registration, rolls back every write.
func (s *Store) CreateRegistration(ctx context.Context, reg model.Registration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, reg.User.ID, reg.User.Email, reg.User.PasswordHash, reg.User.RoleID, reg.User.IsActive, reg.User.CreatedAt, reg.User.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student (id_student, user_id, first_name, last_name, birth_day, is_adult, education_level, psychological_issue_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, reg.Student.ID, reg.Student.UserID, reg.Student.FirstName, reg.Student.LastName, reg.Student.BirthDay,
		reg.Student.IsAdult, reg.Student.EducationLevel, reg.Student.PsychologicalIssueHash, reg.Student.CreatedAt, reg.Student.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}

	if reg.Tutor != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO tutor (id_tutor, full_name, email_tutor, phone, relationship, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, reg.Tutor.ID, reg.Tutor.FullName, reg.Tutor.Email, reg.Tutor.Phone, reg.Tutor.Relationship, reg.Tutor.CreatedAt, reg.Tutor.UpdatedAt)
		if err != nil {
			return translateErr(err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO student_tutor (id, student_id, tutor_id, is_primary)
			VALUES (gen_random_uuid(), $1, $2, true)
		`, reg.Student.ID, reg.Tutor.ID)
		if err != nil {
			return translateErr(err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO student_progress (id, student_id, breathing_done, breathing_total, diary_done, diary_total,
		                              meditation_done, meditation_total, streak_days, sessions_completed, total_progress)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, reg.Progress.StudentID, reg.Progress.BreathingDone, reg.Progress.BreathingTotal, reg.Progress.DiaryDone,
		reg.Progress.DiaryTotal, reg.Progress.MeditationDone, reg.Progress.MeditationTotal, reg.Progress.StreakDays,
		reg.Progress.SessionsCompleted, reg.Progress.TotalProgress)
	if err != nil {
		return translateErr(err)
	}

	return translateErr(tx.Commit(ctx))
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update model.UserUpdate) (model.User, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{userID}

	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if update.Email != nil {
		appendSet("email", *update.Email)
	}
	if update.PasswordHash != nil {
		appendSet("password_hash", *update.PasswordHash)
	}
	if update.IsActive != nil {
		appendSet("is_active", *update.IsActive)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE users SET `+strings.Join(sets, ", ")+`
		WHERE id = $1
		RETURNING `+userColumns, args...)
	return scanUser(row)
}

func (s *Store) UpdateStudent(ctx context.Context, userID string, update model.StudentUpdate) (model.Student, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{userID}

	appendSet := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}
	if update.FirstName != nil {
		appendSet("first_name", *update.FirstName)
	}
	if update.LastName != nil {
		appendSet("last_name", *update.LastName)
	}
	if update.BirthDay != nil {
		appendSet("birth_day", *update.BirthDay)
	}
	if update.EducationLevel != nil {
		appendSet("education_level", *update.EducationLevel)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE student SET `+strings.Join(sets, ", ")+`
		WHERE user_id = $1
		RETURNING `+studentColumns, args...)
	return scanStudent(row)
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2
	`, passwordHash, userID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) DeactivateUser(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_active = false, updated_at = now() WHERE id = $1
	`, userID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, token model.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.RevokedAt)
	return translateErr(err)
}

func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (model.RefreshToken, error) {
	var token model.RefreshToken
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_tokens WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt, &token.RevokedAt)
	return token, translateErr(err)
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL
	`, revokedAt, id)
	return translateErr(err)
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL
	`, revokedAt, userID)
	return translateErr(err)
}

func (s *Store) PreferencesForUser(ctx context.Context, userID string) (model.UserPreferences, error) {
	var prefs model.UserPreferences
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, notifications_email, notifications_push, language, theme
		FROM user_preferences WHERE user_id = $1
	`, userID)
	err := row.Scan(&prefs.ID, &prefs.UserID, &prefs.NotificationsEmail, &prefs.NotificationsPush, &prefs.Language, &prefs.Theme)
	return prefs, translateErr(err)
}

// UpsertPreferences creates the row with defaults on first write, then
// applies the non-nil fields.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, update model.PreferencesUpdate) (model.UserPreferences, error) {
	defaults := model.DefaultPreferences(userID)
	if update.NotificationsEmail != nil {
		defaults.NotificationsEmail = *update.NotificationsEmail
	}
	if update.NotificationsPush != nil {
		defaults.NotificationsPush = *update.NotificationsPush
	}
	if update.Language != nil {
		defaults.Language = *update.Language
	}
	if update.Theme != nil {
		defaults.Theme = *update.Theme
	}

	var prefs model.UserPreferences
	row := s.pool.QueryRow(ctx, `
		INSERT INTO user_preferences (id, user_id, notifications_email, notifications_push, language, theme)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			notifications_email = COALESCE($6, user_preferences.notifications_email),
			notifications_push  = COALESCE($7, user_preferences.notifications_push),
			language            = COALESCE($8, user_preferences.language),
			theme               = COALESCE($9, user_preferences.theme)
		RETURNING id, user_id, notifications_email, notifications_push, language, theme
	`, userID, defaults.NotificationsEmail, defaults.NotificationsPush, defaults.Language, defaults.Theme,
		update.NotificationsEmail, update.NotificationsPush, update.Language, update.Theme)
	err := row.Scan(&prefs.ID, &prefs.UserID, &prefs.NotificationsEmail, &prefs.NotificationsPush, &prefs.Language, &prefs.Theme)
	return prefs, translateErr(err)
}
