package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string, method jwt.SigningMethod) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func doBearer(t *testing.T, url, token, header string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if header != "" {
		req.Header.Set(ActorHeader, header)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestBearerTokenActor(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetTokenSecret("test-secret")
	url := srv.URL + "/api/v1/users/u1/checkin"

	tests := []struct {
		name       string
		token      string
		header     string
		wantStatus int
	}{
		{name: "valid token", token: signToken(t, "test-secret", "u1", jwt.SigningMethodHS256), wantStatus: http.StatusOK},
		{name: "token for other user", token: signToken(t, "test-secret", "u2", jwt.SigningMethodHS256), wantStatus: http.StatusForbidden},
		{name: "wrong secret", token: signToken(t, "other", "u1", jwt.SigningMethodHS256), wantStatus: http.StatusUnauthorized},
		{name: "wrong algorithm", token: signToken(t, "test-secret", "u1", jwt.SigningMethodHS512), wantStatus: http.StatusUnauthorized},
		{name: "header ignored", header: "u1", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status := doBearer(t, url, tt.token, tt.header); status != tt.wantStatus {
				t.Fatalf("status=%d want=%d", status, tt.wantStatus)
			}
		})
	}
}

func TestCreditRequiresPlatformCaller(t *testing.T) {
	srv, h := newTestServer(t)
	h.SetTokenSecret("s3cret")
	url := "/api/v1/users/alice/wallet/credit"
	body := map[string]interface{}{"amount": 500}

	platformToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             RolePlatform,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "billing"},
	}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
	}{
		{name: "no credentials", headers: map[string]string{}, wantStatus: http.StatusForbidden},
		{name: "user token", headers: map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", "bob", jwt.SigningMethodHS256)}, wantStatus: http.StatusForbidden},
		{name: "own user token", headers: map[string]string{"Authorization": "Bearer " + signToken(t, "s3cret", "alice", jwt.SigningMethodHS256)}, wantStatus: http.StatusForbidden},
		{name: "platform token", headers: map[string]string{"Authorization": "Bearer " + platformToken}, wantStatus: http.StatusOK},
		{name: "platform key", headers: map[string]string{PlatformKeyHeader: testPlatformKey}, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doWith(t, srv, http.MethodPost, url, tt.headers, body)
			if status != tt.wantStatus {
				t.Fatalf("status=%d want=%d resp=%+v", status, tt.wantStatus, resp)
			}
		})
	}
}
