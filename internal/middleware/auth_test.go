package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func authedHandler(t *testing.T, tokenHash string) (http.Handler, *string) {
	t.Helper()
	var gotUser string
	h := Auth(tokenHash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &gotUser
}

func TestAuthAcceptsValidToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("service-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	handler, gotUser := authedHandler(t, string(hash))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer service-token")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *gotUser != "user-1" {
		t.Errorf("user = %q, want user-1", *gotUser)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("service-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	handler, _ := authedHandler(t, string(hash))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer wrong")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthRequiresUserID(t *testing.T) {
	handler, _ := authedHandler(t, "")

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthEmptyHashSkipsTokenCheck(t *testing.T) {
	handler, gotUser := authedHandler(t, "")

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-User-ID", "user-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *gotUser != "user-9" {
		t.Errorf("user = %q, want user-9", *gotUser)
	}
}
