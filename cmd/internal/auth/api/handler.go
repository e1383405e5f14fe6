package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamx/cmd/identity"
	"streamx/cmd/internal/auth/session"
	"streamx/cmd/internal/realtime"
	"streamx/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Handler wires the HTTP auth surface to the credential store, the
// session service and the revocation broadcaster.
type Handler struct {
	log *slog.Logger
	cfg Config

	pool *pgxpool.Pool

	identity  identity.Store
	sessions  *session.Service
	sessCfg   session.Config
	passwords password.Config

	registry    *realtime.Registry
	emailSender EmailSender
	google      GoogleVerifier

	dummyHash string
	now       func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithPool enables audit logging and login throttling against the
// audit_log table.
func WithPool(pool *pgxpool.Pool) HandlerOption {
	return func(h *Handler) {
		if h == nil || pool == nil {
			return
		}
		h.pool = pool
	}
}

// WithRegistry wires the revocation broadcaster.
func WithRegistry(registry *realtime.Registry) HandlerOption {
	return func(h *Handler) {
		if h == nil || registry == nil {
			return
		}
		h.registry = registry
	}
}

// WithEmailSender overrides the default no-op email sender.
func WithEmailSender(sender EmailSender) HandlerOption {
	return func(h *Handler) {
		if h == nil || sender == nil {
			return
		}
		h.emailSender = sender
	}
}

// WithGoogleVerifier overrides the default rejecting Google verifier.
func WithGoogleVerifier(verifier GoogleVerifier) HandlerOption {
	return func(h *Handler) {
		if h == nil || verifier == nil {
			return
		}
		h.google = verifier
	}
}

// WithPasswordConfig overrides the default argon2id parameters and policy.
func WithPasswordConfig(cfg password.Config) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.passwords = cfg
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessCfg session.Config, store identity.Store, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}

	h := &Handler{
		log:         log,
		cfg:         cfg,
		identity:    store,
		sessions:    sessions,
		sessCfg:     sessCfg,
		passwords:   password.DefaultConfig(),
		emailSender: NoopEmailSender{},
		google:      NoopGoogleVerifier{},
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := h.passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth and profile routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/auth-google", h.handleGoogleLogin)
	mux.HandleFunc("/api/auth/signup-request", h.handleSignupRequest)
	mux.HandleFunc("/api/auth/verify-otp", h.handleVerifyOTP)
	mux.HandleFunc("/api/auth/resend-otp", h.handleResendOTP)
	mux.HandleFunc("/api/auth/refresh-token", h.handleRefresh)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/logout-device", h.handleLogoutDevice)
	mux.HandleFunc("/api/auth/devices", h.handleDevices)
	mux.HandleFunc("/api/auth/forgot-password", h.handleForgotPassword)
	mux.HandleFunc("/api/auth/reset-password", h.handleResetPassword)
	mux.HandleFunc("/api/auth/change-password", h.handleChangePassword)
	mux.HandleFunc("/api/profile", h.handleProfile)
	mux.HandleFunc("/api/profile/{id}", h.handleProfileDelete)
}

// SessionService returns the underlying session service.
func (h *Handler) SessionService() *session.Service {
	if h == nil {
		return nil
	}
	return h.sessions
}

// Authenticate authorizes a websocket upgrade with the same two-phase
// check the HTTP gate applies: verify the token, then confirm the
// device still holds a live session row.
func (h *Handler) Authenticate(ctx context.Context, accessToken, deviceID string, now time.Time) (string, error) {
	claims, err := h.sessions.VerifyAccessToken(accessToken, now)
	if err != nil {
		return "", err
	}
	if err := h.sessions.CheckDevice(ctx, now, claims.UserID, deviceID); err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// ---- request gate ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, string, bool) {
	token := h.accessTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
		return session.AccessClaims{}, "", false
	}
	deviceID := strings.TrimSpace(r.Header.Get("X-Device-Id"))
	if deviceID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing device id")
		return session.AccessClaims{}, "", false
	}

	now := h.now()
	claims, err := h.sessions.VerifyAccessToken(token, now)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, "", false
	}
	if err := h.sessions.CheckDevice(r.Context(), now, claims.UserID, deviceID); err != nil {
		if errors.Is(err, session.ErrSessionRevoked) {
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
			return session.AccessClaims{}, "", false
		}
		h.log.Error("auth.gate.check_device.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return session.AccessClaims{}, "", false
	}
	return claims, deviceID, true
}

// ---- credential login ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	pw := req.Password
	if email == "" || pw == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}
	if strings.TrimSpace(req.Device.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device.deviceId is required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identifier := identity.NormalizeEmail(email)

	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, ip, now); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, nil, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter, err := h.checkLoginIdentifierThrottle(ctx, identifier, now); err != nil {
		h.log.Error("auth.login.throttle_identifier.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.auditLoginRateLimited(ctx, nil, ip, ua, identifier, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	user, err := h.identity.GetByEmail(ctx, email)
	if err != nil {
		// Timing resistance: run a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, pw)
		}
		h.auditLoginFailed(ctx, nil, ip, ua, identifier, "not_found")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if !user.HasPassword() {
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, pw)
		}
		h.auditLoginFailed(ctx, &user.ID, ip, ua, identifier, "no_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	okPw, err := h.passwords.Verify(*user.PasswordHash, pw)
	if err != nil || !okPw {
		h.auditLoginFailed(ctx, &user.ID, ip, ua, identifier, "bad_password")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	h.finishLogin(w, r, http.StatusOK, now, user, req.Device, "password")
}

// finishLogin issues the token pair, stores the device session and
// writes the login response. Shared by password, Google and OTP signup;
// signup completion responds 201 because it also created the account.
func (h *Handler) finishLogin(w http.ResponseWriter, r *http.Request, status int, now time.Time, user identity.User, devPayload devicePayload, method string) {
	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	dev := toDevice(devPayload, ip)

	issued, err := h.sessions.IssueSession(ctx, now, user.ID, user.Email, dev)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, user.ID, dev.DeviceID, ip, ua, method)
	h.sendLoginAlert(user, dev, now)

	h.setSessionCookies(w, issued)
	writeJSON(w, status, loginResponse{
		User:    toUserResponse(user),
		Session: toSessionResponse(issued),
	})
}

// sendLoginAlert notifies the account owner about the new sign-in.
// Delivery failures never fail the login.
func (h *Handler) sendLoginAlert(user identity.User, dev session.Device, now time.Time) {
	sender := h.emailSender
	if sender == nil {
		return
	}
	msg := LoginAlertMessage{
		Email:      user.Email,
		Name:       user.Name,
		DeviceName: dev.Name,
		OS:         dev.OS,
		Browser:    dev.Browser,
		Location:   dev.Location,
		At:         now,
	}
	if dev.IP != nil {
		msg.IP = dev.IP.String()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sender.SendLoginAlert(ctx, msg); err != nil {
			h.log.Error("auth.login_alert.send.fail", "err", err, "user_id", user.ID)
		}
	}()
}

// ---- google login ----

func (h *Handler) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req googleLoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "idToken is required")
		return
	}
	if strings.TrimSpace(req.Device.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device.deviceId is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	profile, err := h.google.Verify(ctx, req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrGoogleNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "google_unavailable", "google sign-in not configured")
		case errors.Is(err, ErrGoogleTokenInvalid):
			writeError(w, http.StatusUnauthorized, "invalid_external_token", "google token verification failed")
		default:
			h.log.Error("auth.google.verify.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return
	}
	if !profile.EmailVerified {
		writeError(w, http.StatusUnauthorized, "invalid_external_token", "google email not verified")
		return
	}

	user, err := h.identity.UpsertGoogleUser(ctx, identity.GoogleUserInput{
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
		Now:     now,
	})
	if err != nil {
		h.log.Error("auth.google.upsert.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.finishLogin(w, r, http.StatusOK, now, user, req.Device, "google")
}

// ---- OTP signup ----

func (h *Handler) handleSignupRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name and email are required")
		return
	}
	if err := h.passwords.Validate(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	ctx := r.Context()
	now := h.now()

	if _, err := h.identity.GetByEmail(ctx, email); err == nil {
		writeError(w, http.StatusConflict, "email_exists", "an account with this email already exists")
		return
	} else if !identity.IsNotFound(err) {
		h.log.Error("auth.signup.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.signup.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	otp, err := identity.NewOTP(h.sessCfg.OTPDigits)
	if err != nil {
		h.log.Error("auth.signup.otp.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.identity.PutPendingSignup(ctx, identity.PendingSignup{
		Email:         email,
		EmailNorm:     identity.NormalizeEmail(email),
		Name:          name,
		PasswordHash:  hash,
		OTPHash:       identity.HashSecretHex(otp),
		ExpiresAt:     now.Add(h.sessCfg.OTPTTL),
		LastOTPSentAt: now,
		CreatedAt:     now,
	}); err != nil {
		h.log.Error("auth.signup.pending.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.emailSender.SendOTP(ctx, OTPMessage{
		Email: email,
		Name:  name,
		OTP:   otp,
		TTL:   h.sessCfg.OTPTTL,
	}); err != nil {
		h.log.Error("auth.signup.send_otp.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "email_failed", "could not send verification email")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent"})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	otp := strings.TrimSpace(req.OTP)
	if email == "" || otp == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and otp are required")
		return
	}
	if strings.TrimSpace(req.Device.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device.deviceId is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	pending, err := h.identity.GetPendingSignup(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_otp", "invalid or expired code")
			return
		}
		h.log.Error("auth.verify_otp.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if now.After(pending.ExpiresAt) {
		_ = h.identity.DeletePendingSignup(ctx, email)
		writeError(w, http.StatusBadRequest, "otp_expired", "the code expired, request a new one")
		return
	}
	if !identity.SecretHashEqual(pending.OTPHash, identity.HashSecretHex(otp)) {
		writeError(w, http.StatusBadRequest, "invalid_otp", "invalid or expired code")
		return
	}

	user, err := h.identity.CreateUser(ctx, identity.CreateUserInput{
		Email:        pending.Email,
		Name:         pending.Name,
		PasswordHash: pending.PasswordHash,
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			_ = h.identity.DeletePendingSignup(ctx, email)
			writeError(w, http.StatusConflict, "email_exists", "an account with this email already exists")
			return
		}
		h.log.Error("auth.verify_otp.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	_ = h.identity.DeletePendingSignup(ctx, email)

	h.auditSignup(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.finishLogin(w, r, http.StatusCreated, now, user, req.Device, "signup")
}

func (h *Handler) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resendOTPRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	pending, err := h.identity.GetPendingSignup(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "no_pending_signup", "no signup is waiting for verification")
			return
		}
		h.log.Error("auth.resend_otp.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if wait := h.sessCfg.OTPResendCooldown - now.Sub(pending.LastOTPSentAt); wait > 0 {
		writeRateLimitedError(w, wait, "resend_cooldown", "please wait before requesting another code")
		return
	}

	otp, err := identity.NewOTP(h.sessCfg.OTPDigits)
	if err != nil {
		h.log.Error("auth.resend_otp.otp.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.identity.UpdatePendingOTP(ctx, email, identity.HashSecretHex(otp), now.Add(h.sessCfg.OTPTTL), now); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "no_pending_signup", "no signup is waiting for verification")
			return
		}
		h.log.Error("auth.resend_otp.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.emailSender.SendOTP(ctx, OTPMessage{
		Email: pending.Email,
		Name:  pending.Name,
		OTP:   otp,
		TTL:   h.sessCfg.OTPTTL,
	}); err != nil {
		h.log.Error("auth.resend_otp.send.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "email_failed", "could not send verification email")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "verification code sent"})
}

// ---- refresh rotation ----

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if cookieToken, ok := h.refreshTokenFromCookie(r); ok && refreshToken == "" {
		refreshToken = cookieToken
	}
	if refreshToken == "" {
		writeError(w, http.StatusUnauthorized, "invalid_token", "no refresh token provided")
		return
	}
	deviceID := strings.TrimSpace(r.Header.Get("X-Device-Id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "X-Device-Id header is required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	claims, err := h.sessions.VerifyRefreshToken(refreshToken, now)
	if err != nil {
		h.auditRefreshRejected(ctx, nil, deviceID, ip, ua)
		h.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
		return
	}

	user, err := h.identity.GetByID(ctx, claims.UserID)
	if err != nil {
		h.auditRefreshRejected(ctx, &claims.UserID, deviceID, ip, ua)
		h.clearSessionCookies(w)
		writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
		return
	}

	issued, err := h.sessions.RotateRefresh(ctx, now, user.ID, user.Email, deviceID, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionRevoked):
			h.auditRefreshRejected(ctx, &user.ID, deviceID, ip, ua)
			h.clearSessionCookies(w)
			writeError(w, http.StatusUnauthorized, "session_revoked", "session revoked")
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.auditRefresh(ctx, user.ID, deviceID, ip, ua)
	h.setSessionCookies(w, issued)
	writeJSON(w, http.StatusOK, refreshResponse{Session: toSessionResponse(issued)})
}

// ---- logout ----

// handleLogout is best-effort: the client already dropped its local
// credentials, so the response is a success no matter what the server
// finds. The presented refresh token (cookie or body) locates the
// session row by digest; no access token is required.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			req = logoutRequest{}
		}
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if cookieToken, ok := h.refreshTokenFromCookie(r); ok && refreshToken == "" {
		refreshToken = cookieToken
	}

	ctx := r.Context()
	userID, deviceID, err := h.sessions.LogoutCurrent(ctx, refreshToken)
	if err != nil {
		h.log.Error("auth.logout.fail", "err", err)
	}
	if userID != "" {
		h.auditLogout(ctx, userID, deviceID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	}

	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "signed out"})
}

func (h *Handler) handleLogoutDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req logoutDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	target := strings.TrimSpace(req.DeviceID)
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "deviceId is required")
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, claims.UserID, target); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no session for that device")
			return
		}
		h.log.Error("auth.logout_device.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.forceLogout(claims.UserID, "signed out remotely", target)

	h.auditLogoutDevice(ctx, claims.UserID, target, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	writeJSON(w, http.StatusOK, messageResponse{Message: "device signed out"})
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, deviceID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	rows, err := h.sessions.ListDevices(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("auth.devices.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]deviceResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDeviceResponse(row, deviceID))
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: out})
}

// ---- password recovery ----

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	// The response never reveals whether the account exists.
	generic := messageResponse{Message: "if the account exists, a reset link has been sent"}

	user, err := h.identity.GetByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) {
			writeJSON(w, http.StatusOK, generic)
			return
		}
		h.log.Error("auth.forgot.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	resetToken, err := identity.NewOpaqueToken(32)
	if err != nil {
		h.log.Error("auth.forgot.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	expiresAt := now.Add(h.sessCfg.ResetTokenTTL)
	if err := h.identity.SetResetToken(ctx, user.ID, identity.HashSecretHex(resetToken), expiresAt, now); err != nil {
		h.log.Error("auth.forgot.store.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.emailSender.SendPasswordReset(ctx, ResetMessage{
		Email:    user.Email,
		Name:     user.Name,
		ResetURL: h.cfg.ResetURLBase + "?token=" + resetToken,
		TTL:      h.sessCfg.ResetTokenTTL,
	}); err != nil {
		h.log.Error("auth.forgot.send.fail", "err", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "email_failed", "could not send reset email")
		return
	}

	writeJSON(w, http.StatusOK, generic)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	tok := strings.TrimSpace(req.Token)
	if tok == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := h.passwords.Validate(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	ctx := r.Context()
	now := h.now()

	hash, err := h.passwords.Hash(req.NewPassword)
	if err != nil {
		h.log.Error("auth.reset.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	user, err := h.identity.ConsumeResetToken(ctx, identity.HashSecretHex(tok), hash, now)
	if err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_reset_token", "invalid or expired reset token")
			return
		}
		h.log.Error("auth.reset.consume.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Every device signs in again with the new password.
	h.revokeAllSessions(ctx, user.ID, "password reset")

	h.auditPasswordReset(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated, sign in again"})
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.passwords.Validate(req.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	ctx := r.Context()
	now := h.now()

	user, err := h.identity.GetByID(ctx, claims.UserID)
	if err != nil {
		h.log.Error("auth.change_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if !user.HasPassword() {
		writeError(w, http.StatusBadRequest, "no_password", "this account signs in with Google")
		return
	}
	okPw, err := h.passwords.Verify(*user.PasswordHash, req.CurrentPassword)
	if err != nil || !okPw {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "current password is wrong")
		return
	}

	hash, err := h.passwords.Hash(req.NewPassword)
	if err != nil {
		h.log.Error("auth.change_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.identity.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		h.log.Error("auth.change_password.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.revokeAllSessions(ctx, user.ID, "password changed")

	h.auditPasswordChanged(ctx, user.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, messageResponse{Message: "password updated, sign in again"})
}

// ---- profile ----

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleProfileGet(w, r)
	case http.MethodPatch:
		h.handleProfileUpdate(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	user, err := h.identity.GetByID(r.Context(), claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.profile.get.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func (h *Handler) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	dob, dobOK := parseDateOfBirth(req.DateOfBirth)
	if !dobOK {
		writeError(w, http.StatusBadRequest, "invalid_request", "date_of_birth must be YYYY-MM-DD")
		return
	}

	user, err := h.identity.UpdateProfile(r.Context(), identity.UpdateProfileInput{
		UserID:      claims.UserID,
		Name:        trimPtr(req.Name),
		Picture:     trimPtr(req.Picture),
		DateOfBirth: dob,
		Gender:      trimPtr(req.Gender),
		Now:         h.now(),
	})
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		if identity.IsInvalidInput(err) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
			return
		}
		h.log.Error("auth.profile.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

func (h *Handler) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, _, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	targetID := strings.TrimSpace(r.PathValue("id"))
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user id is required")
		return
	}
	if targetID != claims.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "cannot delete another account")
		return
	}

	ctx := r.Context()

	// Broadcast and drop sessions before the account row disappears so
	// connected devices hear it.
	h.revokeAllSessions(ctx, claims.UserID, "account deleted")

	if err := h.identity.DeleteUser(ctx, claims.UserID); err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "not_found", "user not found")
			return
		}
		h.log.Error("auth.profile.delete.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditAccountDeleted(ctx, claims.UserID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// ---- revocation helpers ----

// revokeAllSessions drops every session row of the user and notifies
// connected devices.
func (h *Handler) revokeAllSessions(ctx context.Context, userID, reason string) {
	if err := h.sessions.LogoutAll(ctx, userID); err != nil {
		h.log.Error("auth.revoke_all.fail", "err", err, "user_id", userID)
	}
	h.forceLogout(userID, reason)
}

func (h *Handler) forceLogout(userID, reason string, deviceIDs ...string) {
	if h.registry == nil {
		return
	}
	h.registry.ForceLogout(userID, reason, deviceIDs...)
}
