package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nkiryanov/storefront/internal/apperrors"
	"github.com/nkiryanov/storefront/internal/logger"
)

const DefaultGoogleEndpoint = "https://oauth2.googleapis.com/tokeninfo"

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// Identity asserted by external provider
type Identity struct {
	Provider      string
	ExternalID    string
	Email         string
	Name          string
	AvatarURL     string
	EmailVerified bool
}

// Google returns booleans in tokeninfo either as JSON bool or as string
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseBool(s)
		*b = flexBool(v)
		return err
	}

	var v bool
	err := json.Unmarshal(data, &v)
	*b = flexBool(v)
	return err
}

type tokenInfo struct {
	Issuer        string   `json:"iss"`
	Audience      string   `json:"aud"`
	Subject       string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
	Picture       string   `json:"picture"`
}

// Verifies Google ID tokens with tokeninfo endpoint
type GoogleVerifier struct {
	ClientID string
	Endpoint string

	client *http.Client
	logger logger.Logger
}

func NewGoogleVerifier(clientID string, endpoint string, log logger.Logger) *GoogleVerifier {
	if endpoint == "" {
		endpoint = DefaultGoogleEndpoint
	}

	return &GoogleVerifier{
		ClientID: clientID,
		Endpoint: endpoint,
		client:   &http.Client{},
		logger:   log.With("component", "google-verifier"),
	}
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	var identity Identity
	if v.ClientID == "" {
		return identity, apperrors.ErrProviderDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.Endpoint+"?"+url.Values{"id_token": {idToken}}.Encode(), nil)
	if err != nil {
		return identity, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return identity, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		v.logger.Info("ID token rejected", "status_code", resp.StatusCode)
		return identity, apperrors.ErrProviderRejected
	default:
		v.logger.Warn("Failed to verify id token", "status_code", resp.StatusCode)
		return identity, fmt.Errorf("unknown status code %d from tokeninfo", resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity, fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case info.Audience != v.ClientID:
		v.logger.Warn("ID token issued for other client", "aud", info.Audience)
		return identity, fmt.Errorf("%w: audience mismatch", apperrors.ErrProviderRejected)
	case !googleIssuers[info.Issuer]:
		return identity, fmt.Errorf("%w: unexpected issuer %q", apperrors.ErrProviderRejected, info.Issuer)
	case info.Subject == "" || info.Email == "":
		return identity, fmt.Errorf("%w: subject or email missing", apperrors.ErrProviderRejected)
	}

	return Identity{
		Provider:      "google",
		ExternalID:    info.Subject,
		Email:         info.Email,
		Name:          info.Name,
		AvatarURL:     info.Picture,
		EmailVerified: bool(info.EmailVerified),
	}, nil
}
