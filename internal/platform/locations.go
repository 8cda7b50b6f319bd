package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
)

// LocationProfile is the subset of the location payload cshub reads. Raw
// holds the payload exactly as returned.
type LocationProfile struct {
	ID        string
	CompanyID string
	Name      string
	Email     string
	Timezone  string
	Raw       json.RawMessage
}

type profileFields struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`
}

// Subscription is the location's plan payload. Only Status is parsed.
type Subscription struct {
	Status string
	Raw    json.RawMessage
}

// GetLocationProfile fetches a location with the given bearer token, which
// may be an agency or a location token.
func (c *Client) GetLocationProfile(ctx context.Context, bearer, locationID string) (*LocationProfile, error) {
	raw, err := c.getJSON(ctx, OpProfile, "/locations/"+url.PathEscape(locationID), bearer)
	if err != nil {
		return nil, err
	}

	// The location is usually wrapped as {"location": {...}}.
	var envelope struct {
		Location json.RawMessage `json:"location"`
	}
	obj := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Location) > 0 {
		obj = envelope.Location
	}
	var f profileFields
	if err := json.Unmarshal(obj, &f); err != nil {
		return nil, invalidResponse(OpProfile, "decode location: "+err.Error())
	}
	return &LocationProfile{
		ID:        f.ID,
		CompanyID: f.CompanyID,
		Name:      f.Name,
		Email:     f.Email,
		Timezone:  f.Timezone,
		Raw:       obj,
	}, nil
}

// GetSubscription fetches the location's subscription.
func (c *Client) GetSubscription(ctx context.Context, bearer, locationID string) (*Subscription, error) {
	raw, err := c.getJSON(ctx, OpSubscription, "/locations/"+url.PathEscape(locationID)+"/subscription", bearer)
	if err != nil {
		return nil, err
	}
	var f struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(raw, &f)
	return &Subscription{Status: f.Status, Raw: raw}, nil
}

func (c *Client) getJSON(ctx context.Context, op, path, bearer string) (json.RawMessage, error) {
	var buf bytes.Buffer
	err := c.send(ctx, op, c.request(path).
		Bearer(bearer).
		ToBytesBuffer(&buf))
	if err != nil {
		return nil, err
	}
	if !json.Valid(buf.Bytes()) {
		return nil, invalidResponse(op, "response is not JSON")
	}
	return json.RawMessage(buf.Bytes()), nil
}
