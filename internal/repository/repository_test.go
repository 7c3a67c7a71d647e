package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jhonttt/serena-api/internal/db"
	"github.com/Jhonttt/serena-api/internal/model"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("SERENA_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("SERENA_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

func testRegistration(t *testing.T, store *Store) model.Registration {
	t.Helper()
	ctx := context.Background()

	role, err := store.RoleByName(ctx, model.RoleStudent)
	if err != nil {
		t.Fatalf("student role: %v", err)
	}

	suffix := uuid.NewString()[:8]
	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        "it-" + suffix + "@example.com",
		PasswordHash: "x",
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	student := model.Student{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		FirstName:      "It" + suffix,
		LastName:       "Case" + suffix,
		BirthDay:       time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC),
		IsAdult:        false,
		EducationLevel: "secundaria",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tutor := &model.Tutor{
		ID:           uuid.NewString(),
		FullName:     "Tutor " + suffix,
		Phone:        "+34612345678",
		Relationship: "madre",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return model.Registration{
		User:     user,
		Student:  student,
		Tutor:    tutor,
		Progress: model.NewStudentProgress(student.ID),
	}
}

func TestCreateRegistrationRoundTrip(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := NewStore(pool)
	ctx := context.Background()
	for _, role := range []string{model.RoleAdmin, model.RolePsychologist, model.RoleStudent} {
		if err := store.EnsureRole(ctx, role); err != nil {
			t.Fatalf("ensure role: %v", err)
		}
	}

	reg := testRegistration(t, store)
	if err := store.CreateRegistration(ctx, reg); err != nil {
		t.Fatalf("create registration: %v", err)
	}

	user, err := store.FindUserByEmail(ctx, reg.User.Email)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	student, err := store.FindStudentByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("find student: %v", err)
	}
	if student.FirstName != reg.Student.FirstName || student.IsAdult {
		t.Fatalf("unexpected student: %+v", student)
	}

	links, err := store.TutorsForStudent(ctx, student.ID)
	if err != nil || len(links) != 1 || !links[0].IsPrimary {
		t.Fatalf("tutor link not persisted: %v %+v", err, links)
	}

	progress, err := store.ProgressForStudent(ctx, student.ID)
	if err != nil || progress.BreathingTotal != 10 {
		t.Fatalf("progress not persisted: %v %+v", err, progress)
	}
}

func TestCreateRegistrationDuplicateEmailRollsBack(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := NewStore(pool)
	ctx := context.Background()
	if err := store.EnsureRole(ctx, model.RoleStudent); err != nil {
		t.Fatalf("ensure role: %v", err)
	}

	first := testRegistration(t, store)
	if err := store.CreateRegistration(ctx, first); err != nil {
		t.Fatalf("first registration: %v", err)
	}

	second := testRegistration(t, store)
	second.User.Email = first.User.Email
	err := store.CreateRegistration(ctx, second)
	if !model.IsDuplicate(err) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// The student insert from the failed transaction must not survive.
	if _, err := store.FindStudentByName(ctx, second.Student.FirstName, second.Student.LastName); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("partial student row survived the rollback: %v", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := NewStore(pool)
	ctx := context.Background()
	if err := store.EnsureRole(ctx, model.RoleStudent); err != nil {
		t.Fatalf("ensure role: %v", err)
	}

	reg := testRegistration(t, store)
	if err := store.CreateRegistration(ctx, reg); err != nil {
		t.Fatalf("registration: %v", err)
	}

	now := time.Now().UTC()
	token := model.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    reg.User.ID,
		TokenHash: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := store.CreateRefreshToken(ctx, token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	found, err := store.FindRefreshToken(ctx, token.TokenHash)
	if err != nil || found.ID != token.ID || found.RevokedAt != nil {
		t.Fatalf("token not found live: %v %+v", err, found)
	}

	if err := store.RevokeUserRefreshTokens(ctx, reg.User.ID, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	found, err = store.FindRefreshToken(ctx, token.TokenHash)
	if err != nil || found.RevokedAt == nil {
		t.Fatalf("token not revoked: %v %+v", err, found)
	}
}
