package account_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nichotieno/vspt/internal/account"
	"github.com/nichotieno/vspt/internal/model"
	"github.com/nichotieno/vspt/internal/store"
)

func newTestEnv(t *testing.T) (*account.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := account.NewService(ms)

	r := chi.NewRouter()
	r.Post("/api/v1/signup", svc.Signup)
	r.Post("/api/v1/login", svc.Login)
	return svc, ms, r
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSignup_GrantsStartingCash(t *testing.T) {
	_, ms, router := newTestEnv(t)

	w := postJSON(t, router, "/api/v1/signup", account.SignupRequest{
		Email: "jane@example.com", Name: "Jane", Password: "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	if u.ID == "" {
		t.Error("expected non-empty user id")
	}
	if !u.Cash.Equal(model.StartingCash) {
		t.Errorf("expected cash=%s, got %s", model.StartingCash, u.Cash)
	}

	stored, err := ms.GetUserByEmail(context.Background(), "jane@example.com")
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if stored.PasswordHash == "" || stored.PasswordHash == "hunter22" {
		t.Error("password must be stored hashed")
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := account.SignupRequest{Email: "jane@example.com", Name: "Jane", Password: "hunter22"}
	if w := postJSON(t, router, "/api/v1/signup", req); w.Code != http.StatusCreated {
		t.Fatalf("first signup: expected 201, got %d", w.Code)
	}
	w := postJSON(t, router, "/api/v1/signup", req)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSignup_EmailNormalized(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "  Jane@Example.COM ", "Jane", "hunter22"); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := svc.Create(ctx, "jane@example.com", "Jane 2", "hunter22"); err != account.ErrDuplicateEmail {
		t.Errorf("expected ErrDuplicateEmail for normalized duplicate, got %v", err)
	}
}

func TestSignup_Validation(t *testing.T) {
	_, _, router := newTestEnv(t)

	cases := []struct {
		name string
		req  account.SignupRequest
	}{
		{"missing email", account.SignupRequest{Name: "Jane", Password: "pw"}},
		{"malformed email", account.SignupRequest{Email: "nope", Name: "Jane", Password: "pw"}},
		{"missing name", account.SignupRequest{Email: "a@b.com", Password: "pw"}},
		{"missing password", account.SignupRequest{Email: "a@b.com", Name: "Jane"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := postJSON(t, router, "/api/v1/signup", tc.req); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestLogin_Success(t *testing.T) {
	_, _, router := newTestEnv(t)

	postJSON(t, router, "/api/v1/signup", account.SignupRequest{
		Email: "jane@example.com", Name: "Jane", Password: "hunter22",
	})
	w := postJSON(t, router, "/api/v1/login", account.LoginRequest{
		Email: "jane@example.com", Password: "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var u model.User
	json.Unmarshal(w.Body.Bytes(), &u)
	if u.Email != "jane@example.com" {
		t.Errorf("unexpected email: %s", u.Email)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password_hash")) {
		t.Error("password hash must not be serialized")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	_, _, router := newTestEnv(t)

	postJSON(t, router, "/api/v1/signup", account.SignupRequest{
		Email: "jane@example.com", Name: "Jane", Password: "hunter22",
	})

	// Wrong password and unknown email must be indistinguishable.
	wrongPw := postJSON(t, router, "/api/v1/login", account.LoginRequest{
		Email: "jane@example.com", Password: "wrong",
	})
	unknown := postJSON(t, router, "/api/v1/login", account.LoginRequest{
		Email: "ghost@example.com", Password: "hunter22",
	})

	if wrongPw.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPw.Code, unknown.Code)
	}
	if wrongPw.Body.String() != unknown.Body.String() {
		t.Error("error bodies should not reveal which credential was wrong")
	}
}
