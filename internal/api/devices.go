package api

import (
	"net/http"

	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/presence"
)

// handleListDevices returns device presence. Admins see every device,
// other callers only their own. ?active=true limits to online devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	activeOnly := r.URL.Query().Get("active") == "true"

	var (
		devices []presence.Device
		err     error
	)
	switch {
	case claims.Role == auth.RoleAdmin && activeOnly:
		devices, err = s.presence.ListActive(r.Context())
	case claims.Role == auth.RoleAdmin:
		devices, err = s.presence.List(r.Context())
	default:
		devices, err = s.presence.ListByUser(r.Context(), claims.Subject)
		if err == nil && activeOnly {
			devices = onlineOnly(devices)
		}
	}
	if err != nil {
		s.logger.Error("list devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	if devices == nil {
		devices = []presence.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func onlineOnly(devices []presence.Device) []presence.Device {
	out := devices[:0]
	for _, d := range devices {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}
