package api

import (
	"net/http"
	"time"
)

type locationHandler struct {
	resolver CompanyResolver
	syncer   LocationSyncer
}

type resolveResponse struct {
	CompanyID string `json:"companyId"`
}

func (h *locationHandler) resolve(w http.ResponseWriter, r *http.Request) {
	locationID := r.PathValue("locationId")
	// ?refresh=true drops the memoized owner, e.g. after a location moved.
	if r.URL.Query().Get("refresh") == "true" {
		h.resolver.Forget(locationID)
	}
	companyID, err := h.resolver.Resolve(r.Context(), locationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{CompanyID: companyID})
}

type syncRequest struct {
	CompanyID string `json:"companyId"`
}

type syncResponse struct {
	CompanyID          string    `json:"companyId"`
	LocationID         string    `json:"locationId"`
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	Timezone           string    `json:"timezone,omitempty"`
	SubscriptionStatus string    `json:"subscriptionStatus,omitempty"`
	SubscriptionError  string    `json:"subscriptionError,omitempty"`
	TokenCached        bool      `json:"tokenCached"`
	SyncedAt           time.Time `json:"syncedAt"`
}

func (h *locationHandler) sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.syncer.Sync(r.Context(), req.CompanyID, r.PathValue("locationId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		CompanyID:          res.CompanyID,
		LocationID:         res.LocationID,
		Name:               res.Name,
		Email:              res.Email,
		Timezone:           res.Timezone,
		SubscriptionStatus: res.SubscriptionStatus,
		SubscriptionError:  res.SubscriptionError,
		TokenCached:        res.TokenCached,
		SyncedAt:           res.SyncedAt,
	})
}
