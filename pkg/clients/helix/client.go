package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/clients"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

const (
	defaultAPIBaseURL = "https://api.twitch.tv/helix"
	defaultAuthURL    = "https://id.twitch.tv/oauth2/token"
)

// Client is a Twitch Helix EventSub API client authenticated with
// app-level credentials.
type Client struct {
	apiBaseURL   string
	authURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       logging.Logger
	retryConfig  clients.RetryConfig
}

// Config represents the configuration for the Helix client
type Config struct {
	APIBaseURL   string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	Logger       logging.Logger
	RetryConfig  *clients.RetryConfig
}

// NewClient creates a new Helix API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = defaultAPIBaseURL
	}
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		apiBaseURL:   strings.TrimRight(config.APIBaseURL, "/"),
		authURL:      config.AuthURL,
		clientID:     config.ClientID,
		clientSecret: config.ClientSecret,
		httpClient:   httpClient,
		logger:       config.Logger,
		retryConfig:  retryConfig,
	}
}

// APIError carries the provider's status code and response body for diagnostics
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch %s failed: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Condition identifies the broadcaster (and optional moderator) a
// subscription targets
type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ModeratorUserID   string `json:"moderator_user_id,omitempty"`
}

// Transport describes webhook delivery for a subscription
type Transport struct {
	Method   string `json:"method"`
	Callback string `json:"callback,omitempty"`
	Secret   string `json:"secret,omitempty"`
}

// Subscription is one EventSub subscription as reported by the provider
type Subscription struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Status    string    `json:"status"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionsPage is one page of the subscription listing
type SubscriptionsPage struct {
	Data       []Subscription `json:"data"`
	Total      int            `json:"total"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// CreateSubscriptionRequest is the creation body for an EventSub subscription
type CreateSubscriptionRequest struct {
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
}

type createSubscriptionResponse struct {
	Data []Subscription `json:"data"`
}

type appTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AppAccessToken performs a client-credentials exchange and returns a fresh
// app access token. Tokens are intentionally not cached; reconciliation is a
// control-plane operation and a fresh token per run avoids expiry races.
func (c *Client) AppAccessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError("token exchange", resp)
	}

	var token appTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned empty access token")
	}

	return token.AccessToken, nil
}

// ListSubscriptions fetches one page of EventSub subscriptions. Pass the
// previous page's cursor as after, or empty for the first page.
func (c *Client) ListSubscriptions(ctx context.Context, accessToken, after string) (*SubscriptionsPage, error) {
	endpoint := c.apiBaseURL + "/eventsub/subscriptions"
	if after != "" {
		endpoint += "?after=" + url.QueryEscape(after)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError("list subscriptions", resp)
	}

	var page SubscriptionsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode subscriptions page: %w", err)
	}

	return &page, nil
}

// CreateSubscription registers a webhook subscription with the provider
func (c *Client) CreateSubscription(ctx context.Context, accessToken string, sub CreateSubscriptionRequest) (*Subscription, error) {
	jsonBody, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/eventsub/subscriptions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, accessToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, c.apiError("create subscription", resp)
	}

	var created createSubscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	if len(created.Data) == 0 {
		return nil, fmt.Errorf("create subscription returned no data")
	}

	return &created.Data[0], nil
}

// DeleteSubscription removes an EventSub subscription by id
func (c *Client) DeleteSubscription(ctx context.Context, accessToken, id string) error {
	endpoint := c.apiBaseURL + "/eventsub/subscriptions?id=" + url.QueryEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	c.setAuthHeaders(req, accessToken)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.apiError("delete subscription", resp)
	}

	return nil
}

func (c *Client) setAuthHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

func (c *Client) apiError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
