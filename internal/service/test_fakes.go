package service

import (
	"context"
	"sync"
	"time"

	"github.com/Jhonttt/serena-api/internal/model"
)

// FakeRegistry is an in-memory Registry used by the service and HTTP
// tests. It mirrors the relational backstops of the real store: unique
// email, unique student name, unique tutor name. Errs lets a test
// inject a failure for a single method by name.
type FakeRegistry struct {
	mu sync.Mutex

	Roles       map[int]model.Role
	Users       map[string]model.User
	Students    map[string]model.Student
	Tutors      map[string]model.Tutor
	Links       []model.StudentTutor
	Progress    map[string]model.StudentProgress
	Tokens      map[string]model.RefreshToken
	Preferences map[string]model.UserPreferences

	Errs map[string]error
}

// NewFakeRegistry returns an empty fake with the three fixed roles
// already present.
func NewFakeRegistry() *FakeRegistry {
	return &FakeRegistry{
		Roles: map[int]model.Role{
			1: {ID: 1, Name: model.RoleAdmin},
			2: {ID: 2, Name: model.RolePsychologist},
			3: {ID: 3, Name: model.RoleStudent},
		},
		Users:       map[string]model.User{},
		Students:    map[string]model.Student{},
		Tutors:      map[string]model.Tutor{},
		Progress:    map[string]model.StudentProgress{},
		Tokens:      map[string]model.RefreshToken{},
		Preferences: map[string]model.UserPreferences{},
		Errs:        map[string]error{},
	}
}

func (f *FakeRegistry) fail(method string) error {
	if err, ok := f.Errs[method]; ok {
		return err
	}
	return nil
}

func (f *FakeRegistry) RoleByName(_ context.Context, name string) (model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RoleByName"); err != nil {
		return model.Role{}, err
	}
	for _, role := range f.Roles {
		if role.Name == name {
			return role, nil
		}
	}
	return model.Role{}, model.ErrNotFound
}

func (f *FakeRegistry) RoleByID(_ context.Context, id int) (model.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RoleByID"); err != nil {
		return model.Role{}, err
	}
	role, ok := f.Roles[id]
	if !ok {
		return model.Role{}, model.ErrNotFound
	}
	return role, nil
}

func (f *FakeRegistry) FindUserByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindUserByEmail"); err != nil {
		return model.User{}, err
	}
	for _, user := range f.Users {
		if user.Email == email {
			return user, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

func (f *FakeRegistry) FindUserByID(_ context.Context, id string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindUserByID"); err != nil {
		return model.User{}, err
	}
	user, ok := f.Users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return user, nil
}

func (f *FakeRegistry) EmailInUse(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("EmailInUse"); err != nil {
		return false, err
	}
	for _, user := range f.Users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *FakeRegistry) FindStudentByName(_ context.Context, firstName, lastName string) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindStudentByName"); err != nil {
		return model.Student{}, err
	}
	for _, student := range f.Students {
		if student.FirstName == firstName && student.LastName == lastName {
			return student, nil
		}
	}
	return model.Student{}, model.ErrNotFound
}

func (f *FakeRegistry) FindStudentByUser(_ context.Context, userID string) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindStudentByUser"); err != nil {
		return model.Student{}, err
	}
	for _, student := range f.Students {
		if student.UserID == userID {
			return student, nil
		}
	}
	return model.Student{}, model.ErrNotFound
}

func (f *FakeRegistry) FindTutorByName(_ context.Context, fullName string) (model.Tutor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindTutorByName"); err != nil {
		return model.Tutor{}, err
	}
	for _, tutor := range f.Tutors {
		if tutor.FullName == fullName {
			return tutor, nil
		}
	}
	return model.Tutor{}, model.ErrNotFound
}

func (f *FakeRegistry) TutorsForStudent(_ context.Context, studentID string) ([]model.TutorLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("TutorsForStudent"); err != nil {
		return nil, err
	}
	var links []model.TutorLink
	for _, link := range f.Links {
		if link.StudentID == studentID {
			links = append(links, model.TutorLink{Tutor: f.Tutors[link.TutorID], IsPrimary: link.IsPrimary})
		}
	}
	return links, nil
}

func (f *FakeRegistry) ProgressForStudent(_ context.Context, studentID string) (model.StudentProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ProgressForStudent"); err != nil {
		return model.StudentProgress{}, err
	}
	progress, ok := f.Progress[studentID]
	if !ok {
		return model.StudentProgress{}, model.ErrNotFound
	}
	return progress, nil
}

// CreateRegistration enforces the same unique constraints the database
// does and applies all-or-nothing: on conflict nothing is stored.
func (f *FakeRegistry) CreateRegistration(_ context.Context, reg model.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateRegistration"); err != nil {
		return err
	}
	for _, user := range f.Users {
		if user.Email == reg.User.Email {
			return &model.DuplicateEntityError{Entity: "user", Field: "email"}
		}
	}
	for _, student := range f.Students {
		if student.FirstName == reg.Student.FirstName && student.LastName == reg.Student.LastName {
			return &model.DuplicateEntityError{Entity: "student", Field: "name"}
		}
	}
	if reg.Tutor != nil {
		for _, tutor := range f.Tutors {
			if tutor.FullName == reg.Tutor.FullName {
				return &model.DuplicateEntityError{Entity: "tutor", Field: "full_name"}
			}
		}
	}

	f.Users[reg.User.ID] = reg.User
	f.Students[reg.Student.ID] = reg.Student
	f.Progress[reg.Student.ID] = reg.Progress
	if reg.Tutor != nil {
		f.Tutors[reg.Tutor.ID] = *reg.Tutor
		f.Links = append(f.Links, model.StudentTutor{
			StudentID: reg.Student.ID,
			TutorID:   reg.Tutor.ID,
			IsPrimary: true,
		})
	}
	return nil
}

func (f *FakeRegistry) UpdateUser(_ context.Context, userID string, update model.UserUpdate) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateUser"); err != nil {
		return model.User{}, err
	}
	user, ok := f.Users[userID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.PasswordHash != nil {
		user.PasswordHash = *update.PasswordHash
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}
	user.UpdatedAt = time.Now().UTC()
	f.Users[userID] = user
	return user, nil
}

func (f *FakeRegistry) UpdateStudent(_ context.Context, userID string, update model.StudentUpdate) (model.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateStudent"); err != nil {
		return model.Student{}, err
	}
	for id, student := range f.Students {
		if student.UserID != userID {
			continue
		}
		if update.FirstName != nil {
			student.FirstName = *update.FirstName
		}
		if update.LastName != nil {
			student.LastName = *update.LastName
		}
		if update.BirthDay != nil {
			student.BirthDay = *update.BirthDay
		}
		if update.EducationLevel != nil {
			student.EducationLevel = *update.EducationLevel
		}
		student.UpdatedAt = time.Now().UTC()
		f.Students[id] = student
		return student, nil
	}
	return model.Student{}, model.ErrNotFound
}

func (f *FakeRegistry) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdatePassword"); err != nil {
		return err
	}
	user, ok := f.Users[userID]
	if !ok {
		return model.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = time.Now().UTC()
	f.Users[userID] = user
	return nil
}

func (f *FakeRegistry) DeactivateUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeactivateUser"); err != nil {
		return err
	}
	user, ok := f.Users[userID]
	if !ok {
		return model.ErrNotFound
	}
	user.IsActive = false
	user.UpdatedAt = time.Now().UTC()
	f.Users[userID] = user
	return nil
}

func (f *FakeRegistry) CreateRefreshToken(_ context.Context, token model.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateRefreshToken"); err != nil {
		return err
	}
	f.Tokens[token.ID] = token
	return nil
}

func (f *FakeRegistry) FindRefreshToken(_ context.Context, tokenHash string) (model.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FindRefreshToken"); err != nil {
		return model.RefreshToken{}, err
	}
	for _, token := range f.Tokens {
		if token.TokenHash == tokenHash {
			return token, nil
		}
	}
	return model.RefreshToken{}, model.ErrNotFound
}

func (f *FakeRegistry) RevokeRefreshToken(_ context.Context, id string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RevokeRefreshToken"); err != nil {
		return err
	}
	token, ok := f.Tokens[id]
	if !ok {
		return model.ErrNotFound
	}
	token.RevokedAt = &revokedAt
	f.Tokens[id] = token
	return nil
}

func (f *FakeRegistry) RevokeUserRefreshTokens(_ context.Context, userID string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RevokeUserRefreshTokens"); err != nil {
		return err
	}
	for id, token := range f.Tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			token.RevokedAt = &revokedAt
			f.Tokens[id] = token
		}
	}
	return nil
}

func (f *FakeRegistry) PreferencesForUser(_ context.Context, userID string) (model.UserPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("PreferencesForUser"); err != nil {
		return model.UserPreferences{}, err
	}
	prefs, ok := f.Preferences[userID]
	if !ok {
		return model.UserPreferences{}, model.ErrNotFound
	}
	return prefs, nil
}

func (f *FakeRegistry) UpsertPreferences(_ context.Context, userID string, update model.PreferencesUpdate) (model.UserPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpsertPreferences"); err != nil {
		return model.UserPreferences{}, err
	}
	prefs, ok := f.Preferences[userID]
	if !ok {
		prefs = model.DefaultPreferences(userID)
	}
	if update.NotificationsEmail != nil {
		prefs.NotificationsEmail = *update.NotificationsEmail
	}
	if update.NotificationsPush != nil {
		prefs.NotificationsPush = *update.NotificationsPush
	}
	if update.Language != nil {
		prefs.Language = *update.Language
	}
	if update.Theme != nil {
		prefs.Theme = *update.Theme
	}
	f.Preferences[userID] = prefs
	return prefs, nil
}

// LiveTokenCount reports how many refresh tokens of the user are not
// yet revoked.
func (f *FakeRegistry) LiveTokenCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, token := range f.Tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			n++
		}
	}
	return n
}
