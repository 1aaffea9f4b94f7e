// Package client provides a Go client for the raffle API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a raffle API client
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// New creates a new raffle client. apiKey may be empty for public routes.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		userAgent: "raffle-client",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Summary is a point-in-time view of the raffle. Amounts are decimal wei.
type Summary struct {
	ID                   string    `json:"id"`
	Address              string    `json:"address"`
	EntranceFee          string    `json:"entranceFee"`
	State                string    `json:"state"`
	Round                int64     `json:"round"`
	RecentWinner         string    `json:"recentWinner"`
	LastTimestamp        time.Time `json:"lastTimestamp"`
	NumberOfPlayers      int       `json:"numberOfPlayers"`
	Balance              string    `json:"balance"`
	IntervalSeconds      int64     `json:"intervalSeconds"`
	NumWords             uint32    `json:"numWords"`
	RequestConfirmations uint16    `json:"requestConfirmations"`
	PendingRequestID     string    `json:"pendingRequestId,omitempty"`
}

// Players lists the current round's entrants in entry order.
type Players struct {
	Count   int      `json:"count"`
	Players []string `json:"players"`
}

// EnterResult is returned after a successful entry.
type EnterResult struct {
	Player          string `json:"player"`
	Value           string `json:"value"`
	NumberOfPlayers int    `json:"numberOfPlayers"`
}

// UpkeepCheck is the result of an upkeep check.
type UpkeepCheck struct {
	UpkeepNeeded bool   `json:"upkeepNeeded"`
	PerformData  string `json:"performData"`
}

// FulfillResult describes a completed round.
type FulfillResult struct {
	RequestID string `json:"requestId"`
	Round     int64  `json:"round"`
	Winner    string `json:"winner"`
	Amount    string `json:"amount"`
}

// Event is an emitted raffle event.
type Event struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Round     int64             `json:"round"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Payout is a completed winner transfer.
type Payout struct {
	ID        string    `json:"id"`
	Round     int64     `json:"round"`
	Winner    string    `json:"winner"`
	Amount    string    `json:"amount"`
	RequestID string    `json:"requestId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListOptions selects a page.
type ListOptions struct {
	Limit  int
	Cursor string
}

// EventList is a page of events.
type EventList struct {
	Data       []Event    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// PayoutList is a page of payouts.
type PayoutList struct {
	Data       []Payout   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Subscription is a randomness subscription on the embedded coordinator.
type Subscription struct {
	ID        uint64    `json:"id"`
	Owner     string    `json:"owner"`
	Balance   string    `json:"balance"`
	Consumers []string  `json:"consumers"`
	CreatedAt time.Time `json:"createdAt"`
}

// Proof binds random words to a request.
type Proof struct {
	KeyHash   string `json:"keyHash"`
	RequestID uint64 `json:"requestId"`
	Seed      string `json:"seed"`
	Signature string `json:"signature"`
}

// RandomnessRequest is a request on the embedded coordinator.
type RandomnessRequest struct {
	ID               uint64     `json:"id"`
	SubscriptionID   uint64     `json:"subscriptionId"`
	Consumer         string     `json:"consumer"`
	KeyHash          string     `json:"keyHash"`
	Seed             string     `json:"seed"`
	Confirmations    uint16     `json:"confirmations"`
	CallbackGasLimit uint32     `json:"callbackGasLimit"`
	NumWords         uint32     `json:"numWords"`
	Status           string     `json:"status"`
	Proof            *Proof     `json:"proof,omitempty"`
	Words            []string   `json:"words,omitempty"`
	CallbackError    string     `json:"callbackError,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	FulfilledAt      *time.Time `json:"fulfilledAt,omitempty"`
}

// Verification is the result of checking a request's proof.
type Verification struct {
	RequestID   uint64 `json:"requestId"`
	Coordinator string `json:"coordinator"`
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
}

// VersionInfo describes the server build.
type VersionInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"apiVersion"`
	Network    string `json:"network"`
}

// Balance is an account balance in wei.
type Balance struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int             `json:"-"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
	Details    json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Version returns the server version.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var resp VersionInfo
	if err := c.get(ctx, "/version", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WhoAmI returns the operator name bound to the client's API key. It fails
// with an UNAUTHORIZED APIError when the server rejects the key.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var resp struct {
		Operator string `json:"operator"`
	}
	if err := c.get(ctx, "/api/v1/auth/whoami", &resp); err != nil {
		return "", err
	}
	return resp.Operator, nil
}

// Summary returns the raffle summary.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var resp Summary
	if err := c.get(ctx, "/api/v1/raffle", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Players lists the current round's entrants.
func (c *Client) Players(ctx context.Context) (*Players, error) {
	var resp Players
	if err := c.get(ctx, "/api/v1/raffle/players", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Player returns the entrant at index.
func (c *Client) Player(ctx context.Context, index int) (string, error) {
	var resp struct {
		Player string `json:"player"`
	}
	if err := c.get(ctx, "/api/v1/raffle/players/"+strconv.Itoa(index), &resp); err != nil {
		return "", err
	}
	return resp.Player, nil
}

// Enter enters player into the current round. value is wei or a decimal
// with a unit ("0.01 ether").
func (c *Client) Enter(ctx context.Context, player, value string) (*EnterResult, error) {
	var resp EnterResult
	body := map[string]string{"player": player, "value": value}
	if err := c.post(ctx, "/api/v1/raffle/enter", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckUpkeep reports whether the round can be closed.
func (c *Client) CheckUpkeep(ctx context.Context) (*UpkeepCheck, error) {
	var resp UpkeepCheck
	if err := c.get(ctx, "/api/v1/raffle/upkeep", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PerformUpkeep closes the round and returns the randomness request id.
func (c *Client) PerformUpkeep(ctx context.Context) (string, error) {
	var resp struct {
		RequestID string `json:"requestId"`
	}
	if err := c.post(ctx, "/api/v1/raffle/upkeep", nil, &resp); err != nil {
		return "", err
	}
	return resp.RequestID, nil
}

// FulfillRandomWords relays randomness to a server without an embedded
// coordinator. signature is the hex encoded secp256k1 signature of the
// coordinator key over the request id and words; the server recovers the
// caller from it.
func (c *Client) FulfillRandomWords(ctx context.Context, requestID string, words []string, signature string) (*FulfillResult, error) {
	var resp FulfillResult
	body := map[string]any{"requestId": requestID, "randomWords": words, "signature": signature}
	if err := c.post(ctx, "/api/v1/raffle/fulfill", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events lists raffle events, oldest first.
func (c *Client) Events(ctx context.Context, opts ListOptions) (*EventList, error) {
	var resp EventList
	if err := c.get(ctx, "/api/v1/raffle/events"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Payouts lists winner payouts, oldest first.
func (c *Client) Payouts(ctx context.Context, opts ListOptions) (*PayoutList, error) {
	var resp PayoutList
	if err := c.get(ctx, "/api/v1/raffle/payouts"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance returns the ledger balance of address.
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var resp Balance
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(address)+"/balance", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetRejectsFunds makes address refuse (or accept again) incoming transfers.
func (c *Client) SetRejectsFunds(ctx context.Context, address string, rejects bool) error {
	return c.post(ctx, "/api/v1/accounts/"+url.PathEscape(address)+"/rejects", map[string]bool{"rejects": rejects}, nil)
}

// CreateSubscription creates a subscription owned by owner.
func (c *Client) CreateSubscription(ctx context.Context, owner string) (*Subscription, error) {
	var resp Subscription
	if err := c.post(ctx, "/api/v1/vrf/subscriptions", map[string]string{"owner": owner}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSubscription returns a subscription.
func (c *Client) GetSubscription(ctx context.Context, id uint64) (*Subscription, error) {
	var resp Subscription
	if err := c.get(ctx, fmt.Sprintf("/api/v1/vrf/subscriptions/%d", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FundSubscription adds amount to a subscription.
func (c *Client) FundSubscription(ctx context.Context, id uint64, amount string) (*Subscription, error) {
	var resp Subscription
	path := fmt.Sprintf("/api/v1/vrf/subscriptions/%d/fund", id)
	if err := c.post(ctx, path, map[string]string{"amount": amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddConsumer authorizes consumer on a subscription.
func (c *Client) AddConsumer(ctx context.Context, id uint64, consumer string) (*Subscription, error) {
	var resp Subscription
	path := fmt.Sprintf("/api/v1/vrf/subscriptions/%d/consumers", id)
	if err := c.post(ctx, path, map[string]string{"consumer": consumer}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRequest returns a randomness request.
func (c *Client) GetRequest(ctx context.Context, id uint64) (*RandomnessRequest, error) {
	var resp RandomnessRequest
	if err := c.get(ctx, fmt.Sprintf("/api/v1/vrf/requests/%d", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingRequests lists pending randomness requests.
func (c *Client) PendingRequests(ctx context.Context, limit int) ([]RandomnessRequest, error) {
	var resp struct {
		Data []RandomnessRequest `json:"data"`
	}
	path := "/api/v1/vrf/requests" + ListOptions{Limit: limit}.query()
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// FulfillRequest serves a pending request immediately.
func (c *Client) FulfillRequest(ctx context.Context, id uint64) (*RandomnessRequest, error) {
	var resp RandomnessRequest
	if err := c.post(ctx, fmt.Sprintf("/api/v1/vrf/requests/%d/fulfill", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyRequest checks the proof of a served request.
func (c *Client) VerifyRequest(ctx context.Context, id uint64) (*Verification, error) {
	var resp Verification
	if err := c.get(ctx, fmt.Sprintf("/api/v1/vrf/requests/%d/verify", id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		q.Set("cursor", o.Cursor)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
