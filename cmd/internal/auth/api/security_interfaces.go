package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrGoogleNotConfigured indicates Google sign-in is disabled.
	ErrGoogleNotConfigured = errors.New("google sign-in not configured")
	// ErrGoogleTokenInvalid indicates the ID token failed verification.
	ErrGoogleTokenInvalid = errors.New("google id token invalid")
)

// OTPMessage carries a signup verification code.
type OTPMessage struct {
	Email string
	Name  string
	OTP   string
	TTL   time.Duration
}

// ResetMessage carries a password-reset link.
type ResetMessage struct {
	Email    string
	Name     string
	ResetURL string
	TTL      time.Duration
}

// LoginAlertMessage notifies the account owner about a new sign-in.
type LoginAlertMessage struct {
	Email      string
	Name       string
	DeviceName string
	OS         string
	Browser    string
	Location   string
	IP         string
	At         time.Time
}

// EmailSender delivers transactional auth email. OTP and reset delivery
// are on the critical path; login alerts are best effort.
type EmailSender interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
	SendPasswordReset(ctx context.Context, msg ResetMessage) error
	SendLoginAlert(ctx context.Context, msg LoginAlertMessage) error
}

// NoopEmailSender is the default sender for environments without an
// email provider.
type NoopEmailSender struct{}

func (NoopEmailSender) SendOTP(context.Context, OTPMessage) error               { return nil }
func (NoopEmailSender) SendPasswordReset(context.Context, ResetMessage) error   { return nil }
func (NoopEmailSender) SendLoginAlert(context.Context, LoginAlertMessage) error { return nil }

// LogEmailSender writes auth email to the log instead of delivering it.
// Local development only: it leaks OTPs and reset links into log output.
type LogEmailSender struct {
	Log *slog.Logger
}

func (s LogEmailSender) SendOTP(_ context.Context, msg OTPMessage) error {
	s.Log.Info("email.otp", "to", msg.Email, "otp", msg.OTP, "ttl", msg.TTL.String())
	return nil
}

func (s LogEmailSender) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	s.Log.Info("email.password_reset", "to", msg.Email, "url", msg.ResetURL, "ttl", msg.TTL.String())
	return nil
}

func (s LogEmailSender) SendLoginAlert(_ context.Context, msg LoginAlertMessage) error {
	s.Log.Info("email.login_alert", "to", msg.Email, "device", msg.DeviceName, "ip", msg.IP)
	return nil
}

// GoogleProfile is the subset of ID token claims the signup flow needs.
type GoogleProfile struct {
	Email         string
	EmailVerified bool
	Name          string
	Picture       *string
}

// GoogleVerifier verifies a Google ID token and extracts its profile.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (GoogleProfile, error)
}

// NoopGoogleVerifier rejects every token. Used when no client id is configured.
type NoopGoogleVerifier struct{}

func (NoopGoogleVerifier) Verify(context.Context, string) (GoogleProfile, error) {
	return GoogleProfile{}, ErrGoogleNotConfigured
}

// TokeninfoGoogleVerifier verifies ID tokens against Google's tokeninfo
// endpoint and checks the audience against the configured OAuth client id.
type TokeninfoGoogleVerifier struct {
	ClientID string
	Endpoint string
	Client   *http.Client
}

const googleTokeninfoEndpoint = "https://oauth2.googleapis.com/tokeninfo"

// NewGoogleVerifierFromEnv returns a tokeninfo verifier when
// STREAMX_GOOGLE_CLIENT_ID is set, or the rejecting no-op otherwise.
func NewGoogleVerifierFromEnv() GoogleVerifier {
	clientID := strings.TrimSpace(os.Getenv("STREAMX_GOOGLE_CLIENT_ID"))
	if clientID == "" {
		return NoopGoogleVerifier{}
	}
	return &TokeninfoGoogleVerifier{
		ClientID: clientID,
		Endpoint: googleTokeninfoEndpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type tokeninfoResponse struct {
	Aud           string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	Exp           string `json:"exp"`
}

// Verify checks the token with Google and validates audience and expiry.
func (v *TokeninfoGoogleVerifier) Verify(ctx context.Context, idToken string) (GoogleProfile, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	if v == nil || strings.TrimSpace(v.ClientID) == "" {
		return GoogleProfile{}, ErrGoogleNotConfigured
	}

	endpoint := v.Endpoint
	if endpoint == "" {
		endpoint = googleTokeninfoEndpoint
	}
	client := v.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	u := endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return GoogleProfile{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("google tokeninfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}

	var ti tokeninfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&ti); err != nil {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}

	return profileFromTokeninfo(ti, v.ClientID, time.Now().UTC())
}

func profileFromTokeninfo(ti tokeninfoResponse, clientID string, now time.Time) (GoogleProfile, error) {
	if ti.Aud != clientID {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	if strings.TrimSpace(ti.Email) == "" {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}
	if exp, err := strconv.ParseInt(strings.TrimSpace(ti.Exp), 10, 64); err != nil || now.Unix() >= exp {
		return GoogleProfile{}, ErrGoogleTokenInvalid
	}

	p := GoogleProfile{
		Email:         strings.TrimSpace(ti.Email),
		EmailVerified: ti.EmailVerified == "true",
		Name:          strings.TrimSpace(ti.Name),
	}
	if pic := strings.TrimSpace(ti.Picture); pic != "" {
		p.Picture = &pic
	}
	if p.Name == "" {
		p.Name = p.Email
	}
	return p, nil
}
