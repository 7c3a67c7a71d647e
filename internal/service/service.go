package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Jhonttt/serena-api/internal/auth"
	"github.com/Jhonttt/serena-api/internal/crypto"
	"github.com/Jhonttt/serena-api/internal/model"
	"github.com/Jhonttt/serena-api/internal/validate"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// deactivated accounts alike. The message is deliberately generic
	// so callers cannot probe which accounts exist or are active.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidRefreshToken covers unknown, revoked and expired
	// refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// Registry is the persistence surface the authentication service
// composes. The pgx store implements it; tests use the in-memory fake.
type Registry interface {
	RoleByName(ctx context.Context, name string) (model.Role, error)
	RoleByID(ctx context.Context, id int) (model.Role, error)

	FindUserByEmail(ctx context.Context, email string) (model.User, error)
	FindUserByID(ctx context.Context, id string) (model.User, error)
	EmailInUse(ctx context.Context, email string) (bool, error)

	FindStudentByName(ctx context.Context, firstName, lastName string) (model.Student, error)
	FindStudentByUser(ctx context.Context, userID string) (model.Student, error)
	FindTutorByName(ctx context.Context, fullName string) (model.Tutor, error)
	TutorsForStudent(ctx context.Context, studentID string) ([]model.TutorLink, error)
	ProgressForStudent(ctx context.Context, studentID string) (model.StudentProgress, error)

	CreateRegistration(ctx context.Context, reg model.Registration) error
	UpdateUser(ctx context.Context, userID string, update model.UserUpdate) (model.User, error)
	UpdateStudent(ctx context.Context, userID string, update model.StudentUpdate) (model.Student, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	DeactivateUser(ctx context.Context, userID string) error

	CreateRefreshToken(ctx context.Context, token model.RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (model.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time) error

	PreferencesForUser(ctx context.Context, userID string) (model.UserPreferences, error)
	UpsertPreferences(ctx context.Context, userID string, update model.PreferencesUpdate) (model.UserPreferences, error)
}

// Config carries the token-signing parameters. Secrets are injected
// here, never read from the environment inside the service.
type Config struct {
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type Auth struct {
	store Registry
	cfg   Config
}

func New(store Registry, cfg Config) *Auth {
	return &Auth{store: store, cfg: cfg}
}

// UserSummary is the denormalized account view returned by auth flows.
type UserSummary struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	RoleID    int     `json:"role_id"`
	RoleName  string  `json:"role_name"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

// AuthResult is the outcome of register, login and refresh.
type AuthResult struct {
	User         UserSummary
	AccessToken  string
	RefreshToken string
}

// Register runs the full registration flow. All entity creation
// happens in one registry transaction; a failure at any step leaves no
// partial state behind.
func (a *Auth) Register(ctx context.Context, in validate.RegisterInput) (AuthResult, error) {
	now := time.Now().UTC()

	fields, errs := validate.Register(in, now)
	if errs != nil {
		return AuthResult{}, errs
	}

	inUse, err := a.store.EmailInUse(ctx, fields.Email)
	if err != nil {
		return AuthResult{}, fmt.Errorf("check email: %w", err)
	}
	if inUse {
		return AuthResult{}, &model.DuplicateEntityError{Entity: "user", Field: "email"}
	}

	if _, err := a.store.FindStudentByName(ctx, fields.FirstName, fields.LastName); err == nil {
		return AuthResult{}, &model.DuplicateEntityError{Entity: "student", Field: "name"}
	} else if !errors.Is(err, model.ErrNotFound) {
		return AuthResult{}, fmt.Errorf("check student name: %w", err)
	}

	role, err := a.store.RoleByName(ctx, model.RoleStudent)
	if err != nil {
		return AuthResult{}, fmt.Errorf("student role: %w", err)
	}

	hash, err := crypto.HashPassword(fields.Password)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		ID:           uuid.NewString(),
		Email:        fields.Email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	student := model.Student{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		FirstName:      fields.FirstName,
		LastName:       fields.LastName,
		BirthDay:       fields.BirthDay,
		IsAdult:        fields.IsAdult,
		EducationLevel: fields.EducationLevel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if fields.PsychologicalIssue != "" {
		digest := crypto.HashNote(fields.PsychologicalIssue)
		student.PsychologicalIssueHash = &digest
	}

	reg := model.Registration{
		User:     user,
		Student:  student,
		Progress: model.NewStudentProgress(student.ID),
	}

	if !fields.IsAdult {
		if _, err := a.store.FindTutorByName(ctx, fields.TutorFullName); err == nil {
			return AuthResult{}, &model.DuplicateEntityError{Entity: "tutor", Field: "full_name"}
		} else if !errors.Is(err, model.ErrNotFound) {
			return AuthResult{}, fmt.Errorf("check tutor name: %w", err)
		}

		tutor := model.Tutor{
			ID:           uuid.NewString(),
			FullName:     fields.TutorFullName,
			Phone:        fields.TutorPhone,
			Relationship: fields.Relationship,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if fields.TutorEmail != "" {
			email := fields.TutorEmail
			tutor.Email = &email
		}
		reg.Tutor = &tutor
	}

	if err := a.store.CreateRegistration(ctx, reg); err != nil {
		return AuthResult{}, err
	}

	return a.issueTokens(ctx, user, role, &student)
}

// Login authenticates an email/password pair. Every failure along the
// lookup and verification path yields the same ErrInvalidCredentials.
func (a *Auth) Login(ctx context.Context, in validate.LoginInput) (AuthResult, error) {
	if errs := validate.Login(in); errs != nil {
		return AuthResult{}, errs
	}

	user, err := a.store.FindUserByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return AuthResult{}, ErrInvalidCredentials
	}
	if err := crypto.CheckPassword(user.PasswordHash, in.Password); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}

	role, err := a.store.RoleByID(ctx, user.RoleID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("role lookup: %w", err)
	}

	student := a.studentForUser(ctx, user.ID)
	return a.issueTokens(ctx, user, role, student)
}

// Refresh rotates a durable refresh token: the presented token is
// revoked and a fresh pair is issued. Unknown, revoked and expired
// tokens are indistinguishable to the caller.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if refreshToken == "" {
		return AuthResult{}, ErrInvalidRefreshToken
	}

	stored, err := a.store.FindRefreshToken(ctx, crypto.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return AuthResult{}, ErrInvalidRefreshToken
		}
		return AuthResult{}, fmt.Errorf("find refresh token: %w", err)
	}

	now := time.Now().UTC()
	if stored.RevokedAt != nil || stored.ExpiresAt.Before(now) {
		return AuthResult{}, ErrInvalidRefreshToken
	}

	user, err := a.store.FindUserByID(ctx, stored.UserID)
	if err != nil || !user.IsActive {
		return AuthResult{}, ErrInvalidRefreshToken
	}

	role, err := a.store.RoleByID(ctx, user.RoleID)
	if err != nil {
		return AuthResult{}, fmt.Errorf("role lookup: %w", err)
	}

	if err := a.store.RevokeRefreshToken(ctx, stored.ID, now); err != nil {
		return AuthResult{}, fmt.Errorf("revoke refresh token: %w", err)
	}

	student := a.studentForUser(ctx, user.ID)
	return a.issueTokens(ctx, user, role, student)
}

// Logout revokes every live refresh token of the user. The access
// token is not tracked server-side and simply ages out.
func (a *Auth) Logout(ctx context.Context, userID string) error {
	return a.store.RevokeUserRefreshTokens(ctx, userID, time.Now().UTC())
}

// ProfileView is the denormalized profile returned to the client.
type ProfileView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	RoleID    int       `json:"role_id"`
	RoleName  string    `json:"role_name"`
	FirstName *string   `json:"first_name"`
	LastName  *string   `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Auth) Profile(ctx context.Context, userID string) (ProfileView, error) {
	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	role, err := a.store.RoleByID(ctx, user.RoleID)
	if err != nil {
		return ProfileView{}, fmt.Errorf("role lookup: %w", err)
	}

	view := ProfileView{
		ID:        user.ID,
		Email:     user.Email,
		RoleID:    role.ID,
		RoleName:  role.Name,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}
	if student := a.studentForUser(ctx, user.ID); student != nil {
		view.FirstName = &student.FirstName
		view.LastName = &student.LastName
	}
	return view, nil
}

// TutorView is a guardian as shown inside a student profile.
type TutorView struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	Email        *string `json:"email_tutor"`
	Phone        string  `json:"phone"`
	Relationship string  `json:"relationship"`
	IsPrimary    bool    `json:"is_primary"`
}

// StudentView is the full student profile with linked guardians.
type StudentView struct {
	ID             string      `json:"id_student"`
	UserID         string      `json:"user_id"`
	FirstName      string      `json:"first_name"`
	LastName       string      `json:"last_name"`
	FullName       string      `json:"full_name"`
	BirthDay       string      `json:"birth_day"`
	IsAdult        bool        `json:"is_adult"`
	EducationLevel string      `json:"education_level"`
	Email          string      `json:"email"`
	IsActive       bool        `json:"is_active"`
	Tutors         []TutorView `json:"tutors"`
}

func (a *Auth) StudentProfile(ctx context.Context, userID string) (StudentView, error) {
	student, err := a.store.FindStudentByUser(ctx, userID)
	if err != nil {
		return StudentView{}, err
	}
	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return StudentView{}, err
	}
	links, err := a.store.TutorsForStudent(ctx, student.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return StudentView{}, fmt.Errorf("tutors lookup: %w", err)
	}

	view := StudentView{
		ID:             student.ID,
		UserID:         student.UserID,
		FirstName:      student.FirstName,
		LastName:       student.LastName,
		FullName:       student.FirstName + " " + student.LastName,
		BirthDay:       student.BirthDay.Format("2006-01-02"),
		IsAdult:        student.IsAdult,
		EducationLevel: student.EducationLevel,
		Email:          user.Email,
		IsActive:       user.IsActive,
		Tutors:         make([]TutorView, 0, len(links)),
	}
	for _, link := range links {
		view.Tutors = append(view.Tutors, TutorView{
			ID:           link.ID,
			FullName:     link.FullName,
			Email:        link.Email,
			Phone:        link.Phone,
			Relationship: link.Relationship,
			IsPrimary:    link.IsPrimary,
		})
	}
	return view, nil
}

// Home returns the student's progress counters.
func (a *Auth) Home(ctx context.Context, userID string) (model.StudentProgress, error) {
	student, err := a.store.FindStudentByUser(ctx, userID)
	if err != nil {
		return model.StudentProgress{}, err
	}
	return a.store.ProgressForStudent(ctx, student.ID)
}

// UpdatePersonalInfo applies a partial profile update. Email changes
// are re-checked for uniqueness; name/birth-date/education changes are
// applied only for student accounts. is_adult is never recomputed.
func (a *Auth) UpdatePersonalInfo(ctx context.Context, userID string, in validate.PersonalInfoInput) (ProfileView, error) {
	now := time.Now().UTC()

	fields, errs := validate.PersonalInfo(in, now)
	if errs != nil {
		return ProfileView{}, errs
	}

	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	role, err := a.store.RoleByID(ctx, user.RoleID)
	if err != nil {
		return ProfileView{}, fmt.Errorf("role lookup: %w", err)
	}

	if fields.Email != "" && fields.Email != user.Email {
		inUse, err := a.store.EmailInUse(ctx, fields.Email)
		if err != nil {
			return ProfileView{}, fmt.Errorf("check email: %w", err)
		}
		if inUse {
			return ProfileView{}, &model.DuplicateEntityError{Entity: "user", Field: "email"}
		}
		update := model.UserUpdate{Email: &fields.Email}
		if _, err := a.store.UpdateUser(ctx, userID, update); err != nil {
			return ProfileView{}, err
		}
	}

	if role.Name == model.RoleStudent {
		update := model.StudentUpdate{}
		touched := false
		if fields.FirstName != "" {
			update.FirstName = &fields.FirstName
			touched = true
		}
		if fields.LastName != "" {
			update.LastName = &fields.LastName
			touched = true
		}
		if fields.BirthDay != "" {
			// Validated upstream, so reparsing cannot fail.
			birth, _ := time.Parse("2006-01-02", fields.BirthDay)
			update.BirthDay = &birth
			touched = true
		}
		if fields.EducationLevel != "" {
			update.EducationLevel = &fields.EducationLevel
			touched = true
		}
		if touched {
			if _, err := a.store.UpdateStudent(ctx, userID, update); err != nil {
				return ProfileView{}, err
			}
		}
	}

	return a.Profile(ctx, userID)
}

// ChangePassword verifies the current password before storing the new
// hash. Other sessions are ended by revoking the refresh tokens.
func (a *Auth) ChangePassword(ctx context.Context, userID string, in validate.ChangePasswordInput) error {
	if errs := validate.ChangePassword(in); errs != nil {
		return errs
	}

	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := crypto.CheckPassword(user.PasswordHash, in.CurrentPassword); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := crypto.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := a.store.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	return a.store.RevokeUserRefreshTokens(ctx, userID, time.Now().UTC())
}

func (a *Auth) Preferences(ctx context.Context, userID string) (model.UserPreferences, error) {
	prefs, err := a.store.PreferencesForUser(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.DefaultPreferences(userID), nil
	}
	return prefs, err
}

func (a *Auth) UpdatePreferences(ctx context.Context, userID string, update model.PreferencesUpdate) (model.UserPreferences, error) {
	if _, err := a.store.FindUserByID(ctx, userID); err != nil {
		return model.UserPreferences{}, err
	}
	return a.store.UpsertPreferences(ctx, userID, update)
}

// Deactivate soft-deletes the account and ends its sessions. The row
// is kept; later logins fail with the generic credential error.
func (a *Auth) Deactivate(ctx context.Context, userID string) error {
	if err := a.store.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	return a.store.RevokeUserRefreshTokens(ctx, userID, time.Now().UTC())
}

// AdminView is the admin's own account summary.
type AdminView struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	RoleID      int       `json:"role_id"`
	RoleName    string    `json:"role_name"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayName string    `json:"display_name"`
}

func (a *Auth) Admin(ctx context.Context, userID string) (AdminView, error) {
	user, err := a.store.FindUserByID(ctx, userID)
	if err != nil {
		return AdminView{}, err
	}
	role, err := a.store.RoleByID(ctx, user.RoleID)
	if err != nil {
		return AdminView{}, fmt.Errorf("role lookup: %w", err)
	}
	display := user.Email
	if i := strings.Index(display, "@"); i > 0 {
		display = display[:i]
	}
	return AdminView{
		UserID:      user.ID,
		Email:       user.Email,
		RoleID:      role.ID,
		RoleName:    role.Name,
		IsActive:    user.IsActive,
		CreatedAt:   user.CreatedAt,
		DisplayName: display,
	}, nil
}

func (a *Auth) studentForUser(ctx context.Context, userID string) *model.Student {
	student, err := a.store.FindStudentByUser(ctx, userID)
	if err != nil {
		return nil
	}
	return &student
}

func (a *Auth) issueTokens(ctx context.Context, user model.User, role model.Role, student *model.Student) (AuthResult, error) {
	accessToken, err := auth.NewAccessToken(a.cfg.JWTSecret, a.cfg.JWTIssuer, a.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   role.Name,
	})
	if err != nil {
		return AuthResult{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return AuthResult{}, fmt.Errorf("refresh token: %w", err)
	}

	now := time.Now().UTC()
	if err := a.store.CreateRefreshToken(ctx, model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: crypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(a.cfg.RefreshTokenTTL),
	}); err != nil {
		return AuthResult{}, fmt.Errorf("store refresh token: %w", err)
	}

	result := AuthResult{
		User: UserSummary{
			ID:       user.ID,
			Email:    user.Email,
			RoleID:   role.ID,
			RoleName: role.Name,
		},
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	if student != nil {
		result.User.FirstName = &student.FirstName
		result.User.LastName = &student.LastName
	}
	return result, nil
}
