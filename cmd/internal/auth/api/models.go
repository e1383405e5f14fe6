package authapi

import "time"

type devicePayload struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	OS       string `json:"os"`
	Browser  string `json:"browser"`
	Location string `json:"location"`
}

type loginRequest struct {
	Email    string        `json:"email"`
	Password string        `json:"password"`
	Device   devicePayload `json:"device"`
}

type googleLoginRequest struct {
	IDToken string        `json:"idToken"`
	Device  devicePayload `json:"device"`
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOTPRequest struct {
	Email  string        `json:"email"`
	OTP    string        `json:"otp"`
	Device devicePayload `json:"device"`
}

type resendOTPRequest struct {
	Email string `json:"email"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type updateProfileRequest struct {
	Name        *string `json:"name"`
	Picture     *string `json:"picture"`
	DateOfBirth *string `json:"date_of_birth"`
	Gender      *string `json:"gender"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Picture     *string   `json:"picture"`
	DateOfBirth *string   `json:"date_of_birth"`
	Gender      *string   `json:"gender"`
	HasPassword bool      `json:"has_password"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type deviceResponse struct {
	DeviceID     string    `json:"deviceId"`
	Name         string    `json:"name"`
	OS           string    `json:"os"`
	Browser      string    `json:"browser"`
	Location     string    `json:"location"`
	IP           string    `json:"ip,omitempty"`
	SignedInAt   time.Time `json:"signed_in_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Current      bool      `json:"current"`
}

type devicesResponse struct {
	Devices []deviceResponse `json:"devices"`
}
