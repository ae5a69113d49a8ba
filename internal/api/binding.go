package api

import (
	"net/http"
	"time"
)

// handleIssueBindingToken issues a one-time pairing credential for the
// authenticated user. The token is shown to the user out-of-band (QR code,
// provisioning app) and consumed by the device's first device_auth frame.
func (s *Server) handleIssueBindingToken(w http.ResponseWriter, r *http.Request) {
	identity := identityFromContext(r.Context())
	if identity == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	ttl := time.Duration(s.secCfg.BindingToken.TTL) * time.Minute
	token, err := s.binding.Issue(r.Context(), identity.UserID, ttl)
	if err != nil {
		s.logger.Error("issuing binding token failed", "user_id", identity.UserID, "error", err)
		writeInternalError(w, "failed to issue binding token")
		return
	}

	s.logger.Info("binding token issued", "user_id", identity.UserID)
	writeJSON(w, http.StatusOK, token)
}
