package validate

import (
	"regexp"
	"strings"
	"time"

	"github.com/Jhonttt/serena-api/internal/age"
)

// FieldError tags a single violated rule with its field path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Errors collects every violated rule found in one pass so a caller
// can render them all at once.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, 0, len(e))
	for _, fe := range e {
		parts = append(parts, fe.Path+": "+fe.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *Errors) add(path, message string) {
	*e = append(*e, FieldError{Path: path, Message: message})
}

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Spanish mobile numbers, optionally prefixed with +34.
	phoneRe = regexp.MustCompile(`^(\+34)?[6789]\d{8}$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

var educationLevels = map[string]bool{
	"primaria":     true,
	"secundaria":   true,
	"bachillerato": true,
	"universidad":  true,
	"otro":         true,
}

var relationships = map[string]bool{
	"padre":         true,
	"madre":         true,
	"tutor_legal":   true,
	"abuelo":        true,
	"hermano_mayor": true,
	"otro":          true,
}

// RegisterInput is the registration payload. Guardian fields are only
// consulted when the computed age is under 18.
type RegisterInput struct {
	Email              string `json:"email"`
	Password           string `json:"password"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	BirthDay           string `json:"birth_day"`
	EducationLevel     string `json:"education_level"`
	FullNameTutor      string `json:"full_name_tutor"`
	PhoneTutor         string `json:"phone_tutor"`
	EmailTutor         string `json:"email_tutor"`
	Relationship       string `json:"relationship"`
	PsychologicalIssue string `json:"psychological_issue"`
}

// Registration is the validated, normalized form of RegisterInput.
type Registration struct {
	Email              string
	Password           string
	FirstName          string
	LastName           string
	BirthDay           time.Time
	Age                int
	IsAdult            bool
	EducationLevel     string
	TutorFullName      string
	TutorPhone         string
	TutorEmail         string
	Relationship       string
	PsychologicalIssue string
}

// Register validates a registration payload, collecting every
// violation rather than failing fast. The minimum age is 12; under 18
// the guardian block becomes mandatory.
func Register(in RegisterInput, now time.Time) (Registration, Errors) {
	var errs Errors

	out := Registration{
		Email:              strings.TrimSpace(in.Email),
		Password:           in.Password,
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		EducationLevel:     in.EducationLevel,
		PsychologicalIssue: strings.TrimSpace(in.PsychologicalIssue),
	}

	if out.Email == "" {
		errs.add("email", "Email is required")
	} else if !emailRe.MatchString(out.Email) {
		errs.add("email", "Email inválido")
	}

	if in.Password == "" {
		errs.add("password", "Password is required")
	} else if len(in.Password) < 8 {
		errs.add("password", "La contraseña debe tener al menos 8 caracteres")
	}

	if out.FirstName == "" {
		errs.add("first_name", "First name cannot be empty")
	}
	if out.LastName == "" {
		errs.add("last_name", "Last name cannot be empty")
	}

	minor := false
	if strings.TrimSpace(in.BirthDay) == "" {
		errs.add("birth_day", "Birth date is required")
	} else if birth, err := age.Parse(strings.TrimSpace(in.BirthDay)); err != nil {
		errs.add("birth_day", "Fecha de nacimiento inválida")
	} else {
		out.BirthDay = birth
		out.Age = age.At(birth, now)
		out.IsAdult = out.Age >= 18
		minor = !out.IsAdult
		if out.Age < 12 {
			errs.add("birth_day", "La edad mínima es 12 años")
		}
	}

	if !educationLevels[in.EducationLevel] {
		errs.add("education_level", "Education level is required")
	}

	if len(out.PsychologicalIssue) > 150 {
		errs.add("psychological_issue", "Máximo 150 caracteres")
	}

	if minor {
		fullName := strings.TrimSpace(in.FullNameTutor)
		if fullName == "" {
			errs.add("full_name_tutor", "Nombre del tutor es obligatorio")
		} else if !strings.Contains(fullName, " ") {
			errs.add("full_name_tutor", "Nombre completo del tutor")
		} else {
			out.TutorFullName = fullName
		}

		phone := spaceRe.ReplaceAllString(in.PhoneTutor, "")
		if phone == "" {
			errs.add("phone_tutor", "Teléfono es obligatorio")
		} else if !phoneRe.MatchString(phone) {
			errs.add("phone_tutor", "Teléfono inválido")
		} else {
			out.TutorPhone = phone
		}

		if in.Relationship == "" {
			errs.add("relationship", "Relationship is required")
		} else if !relationships[in.Relationship] {
			errs.add("relationship", "Relationship is required")
		} else {
			out.Relationship = in.Relationship
		}

		tutorEmail := strings.TrimSpace(in.EmailTutor)
		if tutorEmail != "" {
			if !emailRe.MatchString(tutorEmail) {
				errs.add("email_tutor", "Email inválido")
			} else {
				out.TutorEmail = tutorEmail
			}
		}
	}

	if len(errs) > 0 {
		return Registration{}, errs
	}
	return out, nil
}

// LoginInput is the login payload.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the structural shape of a login payload only; the
// credentials themselves are verified by the authentication service.
func Login(in LoginInput) Errors {
	var errs Errors
	email := strings.TrimSpace(in.Email)
	if email == "" {
		errs.add("email", "Email is required")
	} else if !emailRe.MatchString(email) {
		errs.add("email", "Email inválido")
	}
	if in.Password == "" {
		errs.add("password", "Password is required")
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// PersonalInfoInput is the partial profile update payload. Empty
// strings are treated as absent, matching the original form behavior.
type PersonalInfoInput struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	BirthDay       string `json:"birth_day"`
	EducationLevel string `json:"education_level"`
}

// PersonalInfo validates the optional fields of an update payload.
func PersonalInfo(in PersonalInfoInput, now time.Time) (PersonalInfoInput, Errors) {
	var errs Errors

	out := PersonalInfoInput{
		Email:          strings.TrimSpace(in.Email),
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		BirthDay:       strings.TrimSpace(in.BirthDay),
		EducationLevel: in.EducationLevel,
	}

	if out.Email != "" && !emailRe.MatchString(out.Email) {
		errs.add("email", "Email inválido")
	}
	if out.FirstName != "" && (len(out.FirstName) < 2 || len(out.FirstName) > 50) {
		errs.add("first_name", "El nombre debe tener entre 2 y 50 caracteres")
	}
	if out.LastName != "" && (len(out.LastName) < 2 || len(out.LastName) > 50) {
		errs.add("last_name", "El apellido debe tener entre 2 y 50 caracteres")
	}
	if out.BirthDay != "" {
		if birth, err := age.Parse(out.BirthDay); err != nil {
			errs.add("birth_day", "Fecha de nacimiento inválida")
		} else {
			years := age.At(birth, now)
			if years < 5 || years > 120 {
				errs.add("birth_day", "La edad mínima es 12 años")
			}
			if birth.After(now) {
				errs.add("birth_day", "La fecha no puede ser futura")
			}
		}
	}
	if out.EducationLevel != "" && !educationLevels[out.EducationLevel] {
		errs.add("education_level", "Education level is required")
	}

	if len(errs) > 0 {
		return PersonalInfoInput{}, errs
	}
	return out, nil
}

// ChangePasswordInput is the change-password payload.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword validates the shape of a change-password request. The
// new password needs length 8 plus an upper, a lower and a digit.
func ChangePassword(in ChangePasswordInput) Errors {
	var errs Errors
	if in.CurrentPassword == "" {
		errs.add("current_password", "La contraseña actual es obligatoria")
	}
	if in.NewPassword == "" {
		errs.add("new_password", "La nueva contraseña es obligatoria")
	} else {
		if len(in.NewPassword) < 8 {
			errs.add("new_password", "La contraseña debe tener al menos 8 caracteres")
		}
		if !strings.ContainsAny(in.NewPassword, "abcdefghijklmnopqrstuvwxyz") ||
			!strings.ContainsAny(in.NewPassword, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") ||
			!strings.ContainsAny(in.NewPassword, "0123456789") {
			errs.add("new_password", "Debe incluir mayúsculas, minúsculas y números")
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
