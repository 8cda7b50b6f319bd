package api

import (
	"net/http"
	"time"
)

type tokenHandler struct {
	tokens TokenManager
}

type agencyTokenRequest struct {
	CompanyID string `json:"companyId" validate:"required"`
}

type agencyTokenResponse struct {
	AgencyAccessToken string    `json:"agencyAccessToken"`
	ExpiresAt         time.Time `json:"expiresAt"`
	Refreshed         bool      `json:"refreshed"`
}

func (h *tokenHandler) agency(w http.ResponseWriter, r *http.Request) {
	var req agencyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := h.tokens.GetAgencyAccessToken(r.Context(), req.CompanyID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agencyTokenResponse{
		AgencyAccessToken: tok.AccessToken,
		ExpiresAt:         tok.ExpiresAt.UTC(),
		Refreshed:         tok.Refreshed,
	})
}

type locationTokenRequest struct {
	CompanyID  string `json:"companyId" validate:"required"`
	LocationID string `json:"locationId" validate:"required"`
}

type locationTokenResponse struct {
	LocationAccessToken string    `json:"locationAccessToken"`
	ExpiresAt           time.Time `json:"expiresAt"`
	Cached              bool      `json:"cached"`
}

func (h *tokenHandler) location(w http.ResponseWriter, r *http.Request) {
	var req locationTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := h.tokens.GetLocationAccessToken(r.Context(), req.CompanyID, req.LocationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locationTokenResponse{
		LocationAccessToken: tok.AccessToken,
		ExpiresAt:           tok.ExpiresAt.UTC(),
		Cached:              tok.Cached,
	})
}
