package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Jhonttt/serena-api/internal/auth"
	"github.com/Jhonttt/serena-api/internal/config"
	"github.com/Jhonttt/serena-api/internal/model"
	"github.com/Jhonttt/serena-api/internal/service"
	"github.com/Jhonttt/serena-api/internal/validate"
)

var (
	registrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "serena_registrations_total",
		Help: "Accounts created since process start.",
	})
	loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "serena_logins_total",
		Help: "Login attempts since process start.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(registrationsTotal, loginsTotal)
}

type Server struct {
	cfg    config.Config
	svc    *service.Auth
	logger *zap.Logger
}

func NewServer(cfg config.Config, svc *service.Auth, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)
	r.With(s.authMiddleware).Post("/logout", s.handleLogout)

	r.With(s.authMiddleware).Get("/profile", s.handleProfile)
	r.With(s.authMiddleware).Get("/verify", s.handleVerify)
	r.With(s.authMiddleware, s.requireRoles(model.RoleStudent)).Get("/home", s.handleHome)
	r.With(s.authMiddleware, s.requireRoles(model.RoleStudent)).Get("/student", s.handleStudent)
	r.With(s.authMiddleware, s.requireRoles(model.RoleAdmin)).Get("/admin", s.handleAdmin)

	r.Route("/user", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Put("/update-personal", s.handleUpdatePersonal)
		r.Put("/change-password", s.handleChangePassword)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Put("/deactivate", s.handleDeactivate)
	})

	return r
}

type authResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	User         service.UserSummary `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req validate.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.svc.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	registrationsTotal.Inc()
	writeJSON(w, http.StatusCreated, authResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req validate.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.svc.Login(r.Context(), req)
	if err != nil {
		loginsTotal.WithLabelValues("failure").Inc()
		s.writeServiceError(w, err)
		return
	}

	loginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := s.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         res.User,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.svc.Logout(r.Context(), claims.UserID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	view, err := s.svc.Profile(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"user_id": claims.UserID,
		"role":    claims.Role,
	})
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	progress, err := s.svc.Home(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse(progress))
}

func (s *Server) handleStudent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	view, err := s.svc.StudentProfile(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	view, err := s.svc.Admin(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdatePersonal(w http.ResponseWriter, r *http.Request) {
	var req validate.PersonalInfoInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims := claimsFromContext(r.Context())
	view, err := s.svc.UpdatePersonalInfo(r.Context(), claims.UserID, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req validate.ChangePasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	claims := claimsFromContext(r.Context())
	if err := s.svc.ChangePassword(r.Context(), claims.UserID, req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

type preferencesRequest struct {
	NotificationsEmail *bool   `json:"notifications_email"`
	NotificationsPush  *bool   `json:"notifications_push"`
	Language           *string `json:"language"`
	Theme              *string `json:"theme"`
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	prefs, err := s.svc.Preferences(r.Context(), claims.UserID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesResponse(prefs))
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	var errs validate.Errors
	if req.Language != nil && *req.Language != "es" && *req.Language != "en" {
		errs = append(errs, validate.FieldError{Path: "language", Message: "Idioma no soportado"})
	}
	if req.Theme != nil && *req.Theme != "light" && *req.Theme != "dark" {
		errs = append(errs, validate.FieldError{Path: "theme", Message: "Tema no soportado"})
	}
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}

	claims := claimsFromContext(r.Context())
	prefs, err := s.svc.UpdatePreferences(r.Context(), claims.UserID, model.PreferencesUpdate{
		NotificationsEmail: req.NotificationsEmail,
		NotificationsPush:  req.NotificationsPush,
		Language:           req.Language,
		Theme:              req.Theme,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preferencesResponse(prefs))
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.svc.Deactivate(r.Context(), claims.UserID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "account deactivated"})
}

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles gates a route to an allow-list of role names. It runs
// after authMiddleware so the claims are always present.
func (s *Server) requireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || !allowed[claims.Role] {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// writeServiceError maps domain errors onto the HTTP surface. Field
// validation failures render as an array of {path, message}; all other
// errors render as {"error": code}.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var fieldErrs validate.Errors
	if errors.As(err, &fieldErrs) {
		writeJSON(w, http.StatusBadRequest, fieldErrs)
		return
	}

	var dup *model.DuplicateEntityError
	if errors.As(err, &dup) {
		writeError(w, http.StatusConflict, "duplicate_"+dup.Entity)
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, service.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func progressResponse(p model.StudentProgress) map[string]interface{} {
	return map[string]interface{}{
		"breathing":          map[string]int{"done": p.BreathingDone, "total": p.BreathingTotal},
		"diary":              map[string]int{"done": p.DiaryDone, "total": p.DiaryTotal},
		"meditation":         map[string]int{"done": p.MeditationDone, "total": p.MeditationTotal},
		"streak_days":        p.StreakDays,
		"sessions_completed": p.SessionsCompleted,
		"total_progress":     p.TotalProgress,
	}
}

func preferencesResponse(p model.UserPreferences) map[string]interface{} {
	return map[string]interface{}{
		"notifications_email": p.NotificationsEmail,
		"notifications_push":  p.NotificationsPush,
		"language":            p.Language,
		"theme":               p.Theme,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}
