package platform

import (
	"context"
	"net/url"
	"strings"
)

// Operation names used in errors and metrics.
const (
	OpExchangeCode  = "exchange_code"
	OpRefreshToken  = "refresh_token"
	OpLocationToken = "location_token"
	OpProfile       = "location_profile"
	OpSubscription  = "location_subscription"
)

const userTypeCompany = "Company"

// AgencyGrant is the result of a code exchange or refresh. ExpiresIn is 0
// when the platform omitted it.
type AgencyGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	CompanyID    string
	UserType     string
	Scopes       []string
}

// LocationGrant is a minted location token.
type LocationGrant struct {
	AccessToken string
	ExpiresIn   int64
	LocationID  string
}

// LocationTokenRequest names the location to mint for and the agency token
// that authorizes it.
type LocationTokenRequest struct {
	CompanyID         string
	LocationID        string
	AgencyAccessToken string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	UserType     string `json:"userType"`
	CompanyID    string `json:"companyId"`
	LocationID   string `json:"locationId"`
}

func (r *tokenResponse) agencyGrant() *AgencyGrant {
	return &AgencyGrant{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		CompanyID:    r.CompanyID,
		UserType:     r.UserType,
		Scopes:       strings.Fields(r.Scope),
	}
}

// ExchangeCode trades an installation authorization code for an agency
// token. The caller must check CompanyID.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*AgencyGrant, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURI},
		"user_type":     {userTypeCompany},
	}
	return c.postToken(ctx, OpExchangeCode, form)
}

// RefreshToken redeems a refresh token. RefreshToken on the result is
// empty when the platform did not rotate it.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*AgencyGrant, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"redirect_uri":  {c.cfg.RedirectURI},
		"user_type":     {userTypeCompany},
	}
	return c.postToken(ctx, OpRefreshToken, form)
}

func (c *Client) postToken(ctx context.Context, op string, form url.Values) (*AgencyGrant, error) {
	var resp tokenResponse
	err := c.send(ctx, op, c.request("/oauth/token").
		BodyForm(form).
		ToJSON(&resp))
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, invalidResponse(op, "response missing access_token")
	}
	return resp.agencyGrant(), nil
}

// ExchangeLocationToken mints a location token using the agency token as
// bearer credential.
func (c *Client) ExchangeLocationToken(ctx context.Context, req LocationTokenRequest) (*LocationGrant, error) {
	body := map[string]string{
		"companyId":  req.CompanyID,
		"locationId": req.LocationID,
	}
	var resp tokenResponse
	err := c.send(ctx, OpLocationToken, c.request("/oauth/locationToken").
		Bearer(req.AgencyAccessToken).
		BodyJSON(body).
		ToJSON(&resp))
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, invalidResponse(OpLocationToken, "response missing access_token")
	}
	return &LocationGrant{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		LocationID:  resp.LocationID,
	}, nil
}
