// Package idpclient speaks the identity provider's JSON API for sign-up,
// sign-up confirmation and password login.
package idpclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const targetPrefix = "AWSCognitoIdentityProviderService."

// Config identifies the user pool app client.
type Config struct {
	Region string
	// Endpoint overrides https://cognito-idp.<region>.amazonaws.com/.
	Endpoint     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
}

// Client calls the identity provider over HTTP.
type Client struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// APIError represents an identity provider error response, already mapped
// to the status this API answers with.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Tokens is the result of a successful login.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// SignUpResult reports the created user.
type SignUpResult struct {
	UserSub       string `json:"UserSub"`
	UserConfirmed bool   `json:"UserConfirmed"`
}

// New constructs an identity provider client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("identity provider client id required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		if strings.TrimSpace(cfg.Region) == "" {
			return nil, errors.New("identity provider region or endpoint required")
		}
		endpoint = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", strings.TrimSpace(cfg.Region))
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:     endpoint,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
	}, nil
}

// SignUp registers a user; the provider sends the confirmation code.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (SignUpResult, error) {
	attrs := []map[string]string{{"Name": "email", "Value": email}}
	if name = strings.TrimSpace(name); name != "" {
		attrs = append(attrs, map[string]string{"Name": "name", "Value": name})
	}
	payload := map[string]any{
		"ClientId":       c.clientID,
		"Username":       email,
		"Password":       password,
		"UserAttributes": attrs,
	}
	c.addSecretHash(payload, email)
	var out SignUpResult
	if err := c.call(ctx, "SignUp", payload, &out); err != nil {
		return SignUpResult{}, err
	}
	return out, nil
}

// ConfirmSignUp submits the one-time code sent at sign-up.
func (c *Client) ConfirmSignUp(ctx context.Context, email, code string) error {
	payload := map[string]any{
		"ClientId":         c.clientID,
		"Username":         email,
		"ConfirmationCode": code,
	}
	c.addSecretHash(payload, email)
	return c.call(ctx, "ConfirmSignUp", payload, nil)
}

// Login runs the USER_PASSWORD_AUTH flow.
func (c *Client) Login(ctx context.Context, email, password string) (Tokens, error) {
	params := map[string]string{"USERNAME": email, "PASSWORD": password}
	if c.clientSecret != "" {
		params["SECRET_HASH"] = SecretHash(c.clientID, c.clientSecret, email)
	}
	payload := map[string]any{
		"AuthFlow":       "USER_PASSWORD_AUTH",
		"ClientId":       c.clientID,
		"AuthParameters": params,
	}
	var resp struct {
		ChallengeName        string `json:"ChallengeName"`
		AuthenticationResult *struct {
			IDToken      string `json:"IdToken"`
			AccessToken  string `json:"AccessToken"`
			RefreshToken string `json:"RefreshToken"`
			ExpiresIn    int    `json:"ExpiresIn"`
		} `json:"AuthenticationResult"`
	}
	if err := c.call(ctx, "InitiateAuth", payload, &resp); err != nil {
		return Tokens{}, err
	}
	if resp.AuthenticationResult == nil || resp.AuthenticationResult.IDToken == "" {
		msg := "login requires an additional challenge"
		if resp.ChallengeName != "" {
			msg = fmt.Sprintf("login requires challenge %s", resp.ChallengeName)
		}
		return Tokens{}, &APIError{Status: http.StatusUnauthorized, Message: msg, Code: "AUTH_CHALLENGE_REQUIRED"}
	}
	r := resp.AuthenticationResult
	return Tokens{IDToken: r.IDToken, AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, ExpiresIn: r.ExpiresIn}, nil
}

// SecretHash is base64(HMAC-SHA256(clientSecret, username+clientID)).
func SecretHash(clientID, clientSecret, username string) string {
	mac := hmac.New(sha256.New, []byte(clientSecret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) addSecretHash(payload map[string]any, username string) {
	if c.clientSecret != "" {
		payload["SecretHash"] = SecretHash(c.clientID, c.clientSecret, username)
	}
}

func (c *Client) call(ctx context.Context, action string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", targetPrefix+action)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Type    string `json:"__type"`
			Message string `json:"message"`
			Upper   string `json:"Message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
		msg := errResp.Message
		if msg == "" {
			msg = errResp.Upper
		}
		return mapError(resp.StatusCode, errResp.Type, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// providerErrors maps the provider's exception names to this API's status
// and code.
var providerErrors = map[string]struct {
	status int
	code   string
}{
	"NotAuthorizedException":         {http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	"UserNotFoundException":          {http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
	"UserNotConfirmedException":      {http.StatusForbidden, "AUTH_USER_NOT_CONFIRMED"},
	"UsernameExistsException":        {http.StatusConflict, "AUTH_EMAIL_ALREADY_EXISTS"},
	"InvalidPasswordException":       {http.StatusBadRequest, "AUTH_WEAK_PASSWORD"},
	"InvalidParameterException":      {http.StatusBadRequest, "AUTH_INVALID_REQUEST"},
	"CodeMismatchException":          {http.StatusBadRequest, "AUTH_INVALID_CODE"},
	"ExpiredCodeException":           {http.StatusBadRequest, "AUTH_CODE_EXPIRED"},
	"TooManyRequestsException":       {http.StatusTooManyRequests, "RATE_LIMITED"},
	"LimitExceededException":         {http.StatusTooManyRequests, "RATE_LIMITED"},
	"TooManyFailedAttemptsException": {http.StatusTooManyRequests, "RATE_LIMITED"},
}

func mapError(status int, errType, msg string) *APIError {
	if i := strings.LastIndex(errType, "#"); i >= 0 {
		errType = errType[i+1:]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if known, ok := providerErrors[errType]; ok {
		return &APIError{Status: known.status, Message: msg, Code: known.code}
	}
	if status >= 500 {
		return &APIError{Status: http.StatusBadGateway, Message: "identity provider unavailable", Code: "IDP_UNAVAILABLE"}
	}
	return &APIError{Status: http.StatusBadRequest, Message: msg, Code: "AUTH_REQUEST_REJECTED"}
}
