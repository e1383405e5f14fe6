package authapi

import (
	"net"
	"net/http"
	"strings"
	"time"

	"streamx/cmd/identity"
	"streamx/cmd/internal/auth/session"
)

func toUserResponse(u identity.User) userResponse {
	var dob *string
	if u.DateOfBirth != nil {
		s := u.DateOfBirth.Format("2006-01-02")
		dob = &s
	}
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Picture:     u.Picture,
		DateOfBirth: dob,
		Gender:      u.Gender,
		HasPassword: u.HasPassword(),
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func toDeviceResponse(row session.Row, currentDeviceID string) deviceResponse {
	var ip string
	if row.IP != nil {
		ip = row.IP.String()
	}
	return deviceResponse{
		DeviceID:     row.DeviceID,
		Name:         row.DeviceName,
		OS:           row.OS,
		Browser:      row.Browser,
		Location:     row.Location,
		IP:           ip,
		SignedInAt:   row.SignedInAt,
		LastActiveAt: row.LastActiveAt,
		Current:      currentDeviceID != "" && row.DeviceID == currentDeviceID,
	}
}

func toDevice(p devicePayload, ip net.IP) session.Device {
	return session.Device{
		DeviceID: strings.TrimSpace(p.DeviceID),
		Name:     strings.TrimSpace(p.Name),
		OS:       strings.TrimSpace(p.OS),
		Browser:  strings.TrimSpace(p.Browser),
		Location: strings.TrimSpace(p.Location),
		IP:       ip,
	}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func parseDateOfBirth(s *string) (*time.Time, bool) {
	if s == nil {
		return nil, true
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
