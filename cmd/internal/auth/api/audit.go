package authapi

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"
)

func (h *Handler) auditLoginFailed(ctx context.Context, userID *string, ip net.IP, ua string, identifier string, reason string) {
	h.insertAudit(ctx, "auth.login.failed", userID, nil, ip, ua, map[string]any{
		"identifier": identifier,
		"reason":     reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, deviceID string, ip net.IP, ua string, method string) {
	h.insertAudit(ctx, "auth.login.success", &userID, &deviceID, ip, ua, map[string]any{
		"method": method,
	})
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, userID *string, ip net.IP, ua string, identifier string, retryAfter time.Duration) {
	h.insertAudit(ctx, "auth.login.rate_limited", userID, nil, ip, ua, map[string]any{
		"identifier":    identifier,
		"retry_after_s": int64(retryAfter.Seconds()),
	})
}

func (h *Handler) auditRefresh(ctx context.Context, userID string, deviceID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.refresh.success", &userID, &deviceID, ip, ua, nil)
}

func (h *Handler) auditRefreshRejected(ctx context.Context, userID *string, deviceID string, ip net.IP, ua string) {
	var devPtr *string
	if strings.TrimSpace(deviceID) != "" {
		devPtr = &deviceID
	}
	h.insertAudit(ctx, "auth.refresh.rejected", userID, devPtr, ip, ua, nil)
}

func (h *Handler) auditLogout(ctx context.Context, userID string, deviceID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout", &userID, &deviceID, ip, ua, nil)
}

func (h *Handler) auditLogoutDevice(ctx context.Context, userID string, targetDeviceID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.logout.device", &userID, &targetDeviceID, ip, ua, nil)
}

func (h *Handler) auditSignup(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.signup", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditPasswordReset(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.password.reset", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditPasswordChanged(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.password.changed", &userID, nil, ip, ua, nil)
}

func (h *Handler) auditAccountDeleted(ctx context.Context, userID string, ip net.IP, ua string) {
	h.insertAudit(ctx, "auth.account.deleted", &userID, nil, ip, ua, nil)
}

func (h *Handler) insertAudit(ctx context.Context, action string, userID *string, deviceID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.pool == nil {
		return
	}

	action = strings.TrimSpace(action)
	if action == "" {
		return
	}

	var ipVal any
	if ip != nil {
		ipVal = ip.String()
	}

	var metaVal *string
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := h.pool.Exec(ctx, `
		INSERT INTO streamx.audit_log (
			user_id, device_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, userID, deviceID, action, ipVal, trimOrNil(ua), metaVal)
	if err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
