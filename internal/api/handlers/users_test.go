package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"contracthub/internal/auth"
	"contracthub/internal/core"
	"contracthub/internal/types"
)

// mockAccountService implements AccountService for testing.
type mockAccountService struct {
	signupFn        func(ctx context.Context, p auth.SignupParams) (*types.User, error)
	loginFn         func(ctx context.Context, email, password string) (string, *types.User, error)
	setupPasswordFn func(ctx context.Context, email, password string) (*types.User, error)
	checkEmailFn    func(ctx context.Context, email string) (auth.EmailStatus, error)
	logoutFn        func(ctx context.Context, credential string) error

	logoutCalls []string
}

func (m *mockAccountService) Signup(ctx context.Context, p auth.SignupParams) (*types.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, p)
	}
	return &types.User{ID: "user-1", Email: p.Email, Name: p.Name}, nil
}

func (m *mockAccountService) Login(ctx context.Context, email, password string) (string, *types.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return "sess_tok", &types.User{ID: "user-1", Email: email}, nil
}

func (m *mockAccountService) SetupPassword(ctx context.Context, email, password string) (*types.User, error) {
	if m.setupPasswordFn != nil {
		return m.setupPasswordFn(ctx, email, password)
	}
	return &types.User{ID: "user-1", Email: email}, nil
}

func (m *mockAccountService) CheckEmail(ctx context.Context, email string) (auth.EmailStatus, error) {
	if m.checkEmailFn != nil {
		return m.checkEmailFn(ctx, email)
	}
	return auth.EmailStatus{}, nil
}

func (m *mockAccountService) Logout(ctx context.Context, credential string) error {
	m.logoutCalls = append(m.logoutCalls, credential)
	if m.logoutFn != nil {
		return m.logoutFn(ctx, credential)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newUserRouter(accounts *mockAccountService) chi.Router {
	h := NewUserHandler(accounts, testLogger(), core.NewValidator())
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var envelope core.APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return envelope.Error
}

func TestHandleSignup_IssuesSession(t *testing.T) {
	accounts := &mockAccountService{}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/signup", SignupRequest{
		Email:         "hana@example.com",
		Name:          "Hana Sato",
		ApplicantType: "individual",
		Password:      "correct horse",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeData[SessionResponse](t, w)
	if resp.Token != "sess_tok" {
		t.Errorf("token = %q", resp.Token)
	}
	if resp.User == nil || resp.User.Email != "hana@example.com" {
		t.Errorf("user = %+v", resp.User)
	}
}

func TestHandleSignup_ValidationFailure(t *testing.T) {
	router := newUserRouter(&mockAccountService{})

	w := postJSON(t, router, "/signup", SignupRequest{
		Name:          "Hana Sato",
		ApplicantType: "individual",
		Password:      "correct horse",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	detail := decodeError(t, w)
	if detail.Code != string(types.ErrCodeValidationMissingField) {
		t.Errorf("code = %q", detail.Code)
	}
}

func TestHandleSignup_DuplicateEmail(t *testing.T) {
	accounts := &mockAccountService{
		signupFn: func(_ context.Context, _ auth.SignupParams) (*types.User, error) {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "email already registered", nil)
		},
	}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/signup", SignupRequest{
		Email:         "hana@example.com",
		Name:          "Hana Sato",
		ApplicantType: "individual",
		Password:      "correct horse",
	})

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestHandleLogin_MasksCredentialFailures(t *testing.T) {
	accounts := &mockAccountService{
		loginFn: func(_ context.Context, _, _ string) (string, *types.User, error) {
			return "", nil, types.NewAppError(types.ErrCodeAuthUserNotFound, "no such user", nil)
		},
	}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/login", LoginRequest{Email: "ghost@example.com", Password: "whatever"})

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	detail := decodeError(t, w)
	if detail.Code != string(types.ErrCodeAuthInvalidCreds) {
		t.Errorf("code = %q, want masked invalid-credentials code", detail.Code)
	}
	if detail.Message != "invalid email or password" {
		t.Errorf("message = %q", detail.Message)
	}
}

func TestHandleCheckEmail(t *testing.T) {
	accounts := &mockAccountService{
		checkEmailFn: func(_ context.Context, email string) (auth.EmailStatus, error) {
			return auth.EmailStatus{Exists: true, PasswordSetupRequired: true}, nil
		},
	}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/check-email", CheckEmailRequest{Email: "hana@example.com"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	status := decodeData[auth.EmailStatus](t, w)
	if !status.Exists || !status.PasswordSetupRequired {
		t.Errorf("status = %+v", status)
	}
}

func TestHandleSetupPassword_ReturnsFreshSession(t *testing.T) {
	accounts := &mockAccountService{}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/setup-password", SetupPasswordRequest{
		Email:    "hana@example.com",
		Password: "correct horse",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeData[SessionResponse](t, w)
	if resp.Token == "" {
		t.Error("expected a session token")
	}
}

func TestHandleLogout(t *testing.T) {
	accounts := &mockAccountService{}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/logout", struct{}{}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer sess_tok")
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(accounts.logoutCalls) != 1 || accounts.logoutCalls[0] != "sess_tok" {
		t.Errorf("logout calls = %v", accounts.logoutCalls)
	}
}

func TestHandleLogout_WithoutCredential(t *testing.T) {
	accounts := &mockAccountService{}
	router := newUserRouter(accounts)

	w := postJSON(t, router, "/logout", struct{}{})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(accounts.logoutCalls) != 0 {
		t.Errorf("logout calls = %v, want none", accounts.logoutCalls)
	}
}
