package model

import "time"

// Role names seeded at install time. The three rows always exist.
const (
	RoleAdmin        = "admin"
	RolePsychologist = "psychologist"
	RoleStudent      = "student"
)

type Role struct {
	ID   int
	Name string
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	RoleID       int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Student struct {
	ID                     string
	UserID                 string
	FirstName              string
	LastName               string
	BirthDay               time.Time
	IsAdult                bool
	EducationLevel         string
	PsychologicalIssueHash *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

type Tutor struct {
	ID           string
	FullName     string
	Email        *string
	Phone        string
	Relationship string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type StudentTutor struct {
	ID        string
	StudentID string
	TutorID   string
	IsPrimary bool
}

// TutorLink is a tutor row joined with its student_tutor flag, as
// returned when reading a student's guardians.
type TutorLink struct {
	Tutor
	IsPrimary bool
}

type StudentProgress struct {
	ID                string
	StudentID         string
	BreathingDone     int
	BreathingTotal    int
	DiaryDone         int
	DiaryTotal        int
	MeditationDone    int
	MeditationTotal   int
	StreakDays        int
	SessionsCompleted int
	TotalProgress     int
}

// NewStudentProgress returns the zeroed counters a freshly registered
// student starts with.
func NewStudentProgress(studentID string) StudentProgress {
	return StudentProgress{
		StudentID:       studentID,
		BreathingTotal:  10,
		DiaryTotal:      20,
		MeditationTotal: 20,
	}
}

type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

type UserPreferences struct {
	ID                 string
	UserID             string
	NotificationsEmail bool
	NotificationsPush  bool
	Language           string
	Theme              string
}

func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:             userID,
		NotificationsEmail: true,
		Language:           "es",
		Theme:              "light",
	}
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	IsActive     *bool
}

// StudentUpdate is a partial update keyed by the owning user id.
// IsAdult is deliberately absent: it is computed once at registration.
type StudentUpdate struct {
	FirstName      *string
	LastName       *string
	BirthDay       *time.Time
	EducationLevel *string
}

type PreferencesUpdate struct {
	NotificationsEmail *bool
	NotificationsPush  *bool
	Language           *string
	Theme              *string
}

// Registration is the full entity set created atomically when an
// account is registered. Tutor is nil for adults.
type Registration struct {
	User     User
	Student  Student
	Tutor    *Tutor
	Progress StudentProgress
}
