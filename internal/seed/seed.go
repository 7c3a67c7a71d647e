package seed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jhonttt/serena-api/internal/crypto"
	"github.com/Jhonttt/serena-api/internal/model"
	"github.com/Jhonttt/serena-api/internal/repository"
)

// Run provisions the fixed roles and the demo accounts. It is
// idempotent: rows that already exist are left alone, so it is safe to
// run on every deploy.
func Run(ctx context.Context, store *repository.Store, logger *zap.Logger) error {
	for _, role := range []string{model.RoleAdmin, model.RolePsychologist, model.RoleStudent} {
		if err := store.EnsureRole(ctx, role); err != nil {
			return err
		}
	}

	if err := seedAdmin(ctx, store, logger); err != nil {
		return err
	}
	if err := seedAdultStudent(ctx, store, logger); err != nil {
		return err
	}
	return seedMinorStudent(ctx, store, logger)
}

func seedAdmin(ctx context.Context, store *repository.Store, logger *zap.Logger) error {
	const email = "admin@serena.test"

	if _, err := store.FindUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	role, err := store.RoleByName(ctx, model.RoleAdmin)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword("Admin1234!")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := store.CreateUser(ctx, model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return err
	}
	logger.Info("seeded admin account", zap.String("email", email))
	return nil
}

func seedAdultStudent(ctx context.Context, store *repository.Store, logger *zap.Logger) error {
	const email = "student@serena.test"

	if _, err := store.FindUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	role, err := store.RoleByName(ctx, model.RoleStudent)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword("Student1234!")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	student := model.Student{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		FirstName:      "Juan",
		LastName:       "Pérez",
		BirthDay:       time.Date(2002, time.May, 15, 0, 0, 0, 0, time.UTC),
		IsAdult:        true,
		EducationLevel: "universidad",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	progress := model.StudentProgress{
		StudentID:         student.ID,
		BreathingDone:     9,
		BreathingTotal:    10,
		DiaryDone:         14,
		DiaryTotal:        20,
		MeditationDone:    17,
		MeditationTotal:   20,
		StreakDays:        5,
		SessionsCompleted: 12,
		TotalProgress:     82,
	}

	if err := store.CreateRegistration(ctx, model.Registration{
		User:     user,
		Student:  student,
		Progress: progress,
	}); err != nil {
		return err
	}
	logger.Info("seeded adult student", zap.String("email", email))
	return nil
}

func seedMinorStudent(ctx context.Context, store *repository.Store, logger *zap.Logger) error {
	const email = "minor@serena.test"

	if _, err := store.FindUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	role, err := store.RoleByName(ctx, model.RoleStudent)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword("Minor1234!")
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		RoleID:       role.ID,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	student := model.Student{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		FirstName:      "María",
		LastName:       "González",
		BirthDay:       time.Date(2010, time.August, 20, 0, 0, 0, 0, time.UTC),
		IsAdult:        false,
		EducationLevel: "secundaria",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tutorEmail := "carmen@serena.test"
	tutor := &model.Tutor{
		ID:           uuid.NewString(),
		FullName:     "Carmen González",
		Email:        &tutorEmail,
		Phone:        "+34612345679",
		Relationship: "madre",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := store.CreateRegistration(ctx, model.Registration{
		User:     user,
		Student:  student,
		Tutor:    tutor,
		Progress: model.NewStudentProgress(student.ID),
	}); err != nil {
		return err
	}
	logger.Info("seeded minor student", zap.String("email", email))
	return nil
}
