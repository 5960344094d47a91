package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	RegisterURL       = "/api/auth/register"
	LoginURL          = "/api/auth/login"
	RefreshURL        = "/api/auth/refresh-token"
	LogoutURL         = "/api/auth/logout"
	MeURL             = "/api/auth/me"
	ForgotPasswordURL = "/api/auth/forgot-password"
	ResetPasswordURL  = "/api/auth/reset-password/"
)

type tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type response struct {
	Status int
	Header http.Header
	Body   string
}

func (r response) decode(t *testing.T, v any) {
	require.NoErrorf(t, json.Unmarshal([]byte(r.Body), v), "body: %s", r.Body)
}

// Post json from client ip, bearer is set if not empty
func post(t *testing.T, url string, data string, ip string, bearer string) response {
	return do(t, http.MethodPost, url, data, ip, bearer)
}

func do(t *testing.T, method string, url string, data string, ip string, bearer string) response {
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return response{Status: resp.StatusCode, Header: resp.Header, Body: string(body)}
}
