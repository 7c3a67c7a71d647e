package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Jhonttt/serena-api/internal/auth"
	"github.com/Jhonttt/serena-api/internal/config"
	"github.com/Jhonttt/serena-api/internal/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.FakeRegistry, config.Config) {
	t.Helper()

	cfg := config.Config{
		HTTPAddr:        ":0",
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	store := service.NewFakeRegistry()
	svc := service.New(store, service.Config{
		JWTSecret:       cfg.JWTSecret,
		JWTIssuer:       cfg.JWTIssuer,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})
	server := NewServer(cfg, svc, zap.NewNop())
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, store, cfg
}

func doReq(t *testing.T, method, url, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}

func birthDayYearsAgo(years int) string {
	return time.Now().UTC().AddDate(-years, 0, -1).Format("2006-01-02")
}

func minorPayload() map[string]string {
	return map[string]string{
		"email":           "a@b.com",
		"password":        "password1",
		"first_name":      "Ana",
		"last_name":       "Lopez",
		"birth_day":       birthDayYearsAgo(14),
		"education_level": "secundaria",
		"full_name_tutor": "Maria Lopez",
		"phone_tutor":     "+34612345678",
		"relationship":    "madre",
	}
}

func TestRegisterMinorEndToEnd(t *testing.T) {
	app, store, _ := newTestServer(t)

	payload := minorPayload()
	payload["birth_day"] = birthDayYearsAgo(14)

	resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body authResponse
	decodeBody(t, resp, &body)
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Fatalf("expected token pair in response")
	}
	if body.User.RoleName != "student" {
		t.Fatalf("expected student role, got %q", body.User.RoleName)
	}
	if len(store.Tutors) != 1 || len(store.Links) != 1 {
		t.Fatalf("tutor not linked: tutors=%d links=%d", len(store.Tutors), len(store.Links))
	}

	// The student endpoints open up right away with the issued token.
	resp = doReq(t, http.MethodGet, app.URL+"/home", body.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home: expected 200, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodGet, app.URL+"/student", body.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("student: expected 200, got %d", resp.StatusCode)
	}

	var view service.StudentView
	decodeBody(t, resp, &view)
	if len(view.Tutors) != 1 || view.Tutors[0].FullName != "Maria Lopez" {
		t.Fatalf("tutor missing from student view: %+v", view)
	}
}

func TestRegisterValidationErrorShape(t *testing.T) {
	app, _, _ := newTestServer(t)

	payload := minorPayload()
	payload["birth_day"] = birthDayYearsAgo(14)
	payload["full_name_tutor"] = ""
	payload["phone_tutor"] = "12345"

	resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var fields []struct {
		Path    string `json:"path"`
		Message string `json:"message"`
	}
	decodeBody(t, resp, &fields)
	paths := map[string]bool{}
	for _, fe := range fields {
		paths[fe.Path] = true
	}
	if !paths["full_name_tutor"] || !paths["phone_tutor"] {
		t.Fatalf("expected guardian field errors, got %v", fields)
	}
}

func TestRegisterDuplicateConflict(t *testing.T) {
	app, _, _ := newTestServer(t)

	payload := minorPayload()
	payload["birth_day"] = birthDayYearsAgo(14)

	if resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first register: expected 201, got %d", resp.StatusCode)
	}
	resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("resubmission: expected 409, got %d", resp.StatusCode)
	}
}

func TestLoginAndRefreshFlow(t *testing.T) {
	app, _, _ := newTestServer(t)

	payload := minorPayload()
	payload["birth_day"] = birthDayYearsAgo(20)
	delete(payload, "full_name_tutor")
	delete(payload, "phone_tutor")
	delete(payload, "relationship")
	payload["education_level"] = "universidad"

	if resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}

	resp := doReq(t, http.MethodPost, app.URL+"/login", "", map[string]string{
		"email":    "a@b.com",
		"password": "password1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var body authResponse
	decodeBody(t, resp, &body)

	resp = doReq(t, http.MethodPost, app.URL+"/refresh", "", map[string]string{
		"refresh_token": body.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}

	// The presented refresh token was rotated out.
	resp = doReq(t, http.MethodPost, app.URL+"/refresh", "", map[string]string{
		"refresh_token": body.RefreshToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh: expected 401, got %d", resp.StatusCode)
	}

	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]string{
		"email":    "a@b.com",
		"password": "wrong-pass",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: expected 401, got %d", resp.StatusCode)
	}
}

func TestRoleGates(t *testing.T) {
	app, _, cfg := newTestServer(t)

	adminToken := mustToken(t, cfg, "admin-id", "admin")
	studentToken := mustToken(t, cfg, "student-id", "student")

	// Admin cannot use student-only routes.
	if resp := doReq(t, http.MethodGet, app.URL+"/home", adminToken, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("home as admin: expected 403, got %d", resp.StatusCode)
	}
	// Students cannot use the admin route.
	if resp := doReq(t, http.MethodGet, app.URL+"/admin", studentToken, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin as student: expected 403, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	app, _, cfg := newTestServer(t)

	if resp := doReq(t, http.MethodGet, app.URL+"/profile", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", resp.StatusCode)
	}
	if resp := doReq(t, http.MethodGet, app.URL+"/profile", "garbage", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", resp.StatusCode)
	}

	expired, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, -time.Minute, auth.Claims{
		UserID: "user-id",
		Role:   "student",
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	resp := doReq(t, http.MethodGet, app.URL+"/profile", expired, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "token_expired" {
		t.Fatalf("expected token_expired code, got %q", body["error"])
	}
}

func TestVerify(t *testing.T) {
	app, _, cfg := newTestServer(t)

	token := mustToken(t, cfg, "user-id", "student")
	resp := doReq(t, http.MethodGet, app.URL+"/verify", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeBody(t, resp, &body)
	if body["valid"] != true || body["user_id"] != "user-id" || body["role"] != "student" {
		t.Fatalf("unexpected verify body: %v", body)
	}
}

func TestUserRoutes(t *testing.T) {
	app, store, _ := newTestServer(t)

	payload := minorPayload()
	payload["birth_day"] = birthDayYearsAgo(20)
	delete(payload, "full_name_tutor")
	delete(payload, "phone_tutor")
	delete(payload, "relationship")
	payload["education_level"] = "universidad"

	resp := doReq(t, http.MethodPost, app.URL+"/register", "", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var body authResponse
	decodeBody(t, resp, &body)
	token := body.AccessToken

	// Partial profile update.
	resp = doReq(t, http.MethodPut, app.URL+"/user/update-personal", token, map[string]string{
		"first_name": "Anita",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update-personal: expected 200, got %d", resp.StatusCode)
	}
	var profile service.ProfileView
	decodeBody(t, resp, &profile)
	if profile.FirstName == nil || *profile.FirstName != "Anita" {
		t.Fatalf("first name not updated: %+v", profile)
	}

	// Preferences default, then partial update.
	resp = doReq(t, http.MethodGet, app.URL+"/user/preferences", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get preferences: expected 200, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPut, app.URL+"/user/preferences", token, map[string]string{
		"theme": "dark",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put preferences: expected 200, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPut, app.URL+"/user/preferences", token, map[string]string{
		"theme": "solarized",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad theme: expected 400, got %d", resp.StatusCode)
	}

	// Change password with wrong current value.
	resp = doReq(t, http.MethodPut, app.URL+"/user/change-password", token, map[string]string{
		"current_password": "wrong-pass",
		"new_password":     "Newpass12",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong current password: expected 401, got %d", resp.StatusCode)
	}
	resp = doReq(t, http.MethodPut, app.URL+"/user/change-password", token, map[string]string{
		"current_password": "password1",
		"new_password":     "Newpass12",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d", resp.StatusCode)
	}

	// Deactivate ends the account; later logins look like bad creds.
	resp = doReq(t, http.MethodPut, app.URL+"/user/deactivate", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", resp.StatusCode)
	}
	if n := store.LiveTokenCount(body.User.ID); n != 0 {
		t.Fatalf("live tokens after deactivate = %d, want 0", n)
	}
	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]string{
		"email":    "a@b.com",
		"password": "Newpass12",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("login after deactivate: expected 401, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app, _, _ := newTestServer(t)
	resp, err := http.Get(app.URL + "/health")
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func mustToken(t *testing.T, cfg config.Config, userID, role string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 10*time.Minute, auth.Claims{
		UserID: userID,
		Role:   role,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}
