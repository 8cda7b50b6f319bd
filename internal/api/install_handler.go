package api

import (
	"log/slog"
	"net/http"
	"net/url"
)

type installHandler struct {
	flow       InstallFlow
	successURL string
	logger     *slog.Logger
}

func (h *installHandler) start(w http.ResponseWriter, r *http.Request) {
	target, err := h.flow.AuthorizeURL(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type installResponse struct {
	OK        bool   `json:"ok"`
	CompanyID string `json:"companyId"`
}

func (h *installHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, r, badRequest("installation denied: "+e))
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, r, badRequest("missing code"))
		return
	}

	inst, err := h.flow.Callback(r.Context(), code, q.Get("state"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("installation completed",
		"company_id", inst.CompanyID,
		"user_type", inst.UserType,
		"request_id", requestID(r.Context()),
	)

	if h.successURL != "" {
		if target, err := withQuery(h.successURL, "companyId", inst.CompanyID); err == nil {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		h.logger.Warn("invalid install success url, answering with json", "url", h.successURL)
	}
	writeJSON(w, http.StatusOK, installResponse{OK: true, CompanyID: inst.CompanyID})
}

func withQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
