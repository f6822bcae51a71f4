package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Identity is what the workspace needs to know about the signed-in
// user, read from unverified bearer-token claims.
type Identity struct {
	Subject string
	Name    string
	Role    string
}

// ParseIdentityUnverified extracts the identity claims without
// verifying the signature. The backend verifies on every request; the
// client only needs the subject for request shaping and display.
func ParseIdentityUnverified(token string) (Identity, error) {
	parsed, _, err := gojwt.NewParser().ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return Identity{}, fmt.Errorf("parse bearer token: %w", err)
	}
	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("parse bearer token: unexpected claims type %T", parsed.Claims)
	}

	var id Identity
	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if role, ok := claims["role"].(string); ok {
		id.Role = role
	}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("parse bearer token: missing subject claim")
	}
	return id, nil
}

// Guidance is contextual help for one user in one room.
type Guidance struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Hints []string `json:"hints,omitempty"`
}

// Classroom talks to the classroom backend: finalizing a collaborative
// session and fetching guidance. All requests carry the bearer token.
type Classroom struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClassroom(baseURL, bearerToken string, httpClient *http.Client) *Classroom {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &Classroom{baseURL: baseURL, token: bearerToken, httpClient: httpClient}
}

// Identity returns the identity carried by this client's token.
func (c *Classroom) Identity() (Identity, error) {
	return ParseIdentityUnverified(c.token)
}

// FinalizeSession marks a collaborative session finished for one user,
// the submission boundary. Idempotent on the server side; a repeat
// finalize answers 200 as well.
func (c *Classroom) FinalizeSession(ctx context.Context, sessionID, userID string) error {
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	endpoint := fmt.Sprintf("%s/v1/sessions/%s/finalize", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return responseError(resp)
	}
	return nil
}

// FetchGuidance returns the guidance entry for a session, room and
// user, or IsNotFound when none is configured.
func (c *Classroom) FetchGuidance(ctx context.Context, sessionID, roomID, userID string) (*Guidance, error) {
	endpoint := fmt.Sprintf("%s/v1/guidance?session=%s&room=%s&user=%s",
		c.baseURL, url.QueryEscape(sessionID), url.QueryEscape(roomID), url.QueryEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch guidance: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch guidance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	data, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch guidance: %w", err)
	}
	var g Guidance
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("fetch guidance: decode: %w", err)
	}
	return &g, nil
}
