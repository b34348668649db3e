package openeconomysdk

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
)

// Client is a minimal OpenEconomy HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Run is a stored scenario execution.
type Run struct {
	ID           string `json:"id"`
	Scenario     string `json:"scenario"`
	EntryCount   int    `json:"entry_count"`
	BlockedCount int    `json:"blocked_count"`
	CreatedAt    string `json:"created_at"`
}

type Reference struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Entry is one execution record entry.
type Entry struct {
	ID                   string         `json:"entry_id"`
	Timestamp            string         `json:"timestamp"`
	ActID                string         `json:"act_id"`
	ActType              string         `json:"act_type"`
	Description          string         `json:"description"`
	RuleID               string         `json:"rule_id"`
	RuleFormula          string         `json:"rule_formula"`
	ConstraintsEvaluated []string       `json:"constraints_evaluated"`
	ConstraintsBlocking  []string       `json:"constraints_blocking"`
	StateBefore          map[string]any `json:"state_before"`
	StateAfter           map[string]any `json:"state_after"`
	Intermediate         map[string]any `json:"intermediate"`
	References           []Reference    `json:"references"`
	Status               string         `json:"status"`
	Notes                string         `json:"notes"`
}

type RunRecord struct {
	Run     Run     `json:"run"`
	Entries []Entry `json:"entries"`
}

type BlockedAct struct {
	EntryID   string   `json:"entry_id"`
	Act       string   `json:"act"`
	Rule      string   `json:"rule"`
	BlockedBy []string `json:"blocked_by"`
	Reasons   []string `json:"reasons"`
	Notes     string   `json:"notes"`
}

type IntermediateQuantity struct {
	EntryID      string         `json:"entry_id"`
	Rule         string         `json:"rule"`
	Intermediate map[string]any `json:"intermediate"`
}

// Report is the reasoning report of a run.
type Report struct {
	IntermediateQuantities []IntermediateQuantity `json:"intermediate_quantities"`
	BlockedActs            []BlockedAct           `json:"blocked_acts"`
	TradeOffs              []string               `json:"tradeoffs"`
}

type LabelOverride struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	UpdatedAt string `json:"updated_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Run `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CreateRun executes a scenario document and returns the stored run.
func (c *Client) CreateRun(ctx context.Context, scenarioYAML string) (RunRecord, error) {
	var resp RunRecord
	err := c.do(ctx, http.MethodPost, "runs", map[string]any{"scenario": scenarioYAML}, &resp)
	return resp, err
}

// Run returns a run with its record. runID may be "latest".
func (c *Client) Run(ctx context.Context, runID string) (RunRecord, error) {
	var resp RunRecord
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

func (c *Client) Report(ctx context.Context, runID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID)+"/report", nil, &resp)
	return resp, err
}

// Text returns the human readable record.
func (c *Client) Text(ctx context.Context, runID string) (string, error) {
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID)+"/text", nil, &buf)
	return buf.String(), err
}

func (c *Client) Explain(ctx context.Context, runID, entryID string) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	endpoint := fmt.Sprintf("runs/%s/entries/%s/explain", url.PathEscape(runID), url.PathEscape(entryID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Text, err
}

// Rename relabels a catalog item. An empty runID validates against the latest run.
func (c *Client) Rename(ctx context.Context, kind, id, label, runID string) (LabelOverride, error) {
	body := map[string]any{"label": label}
	if runID != "" {
		body["run_id"] = runID
	}
	var resp LabelOverride
	endpoint := fmt.Sprintf("labels/%s/%s", url.PathEscape(kind), url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case io.Writer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
