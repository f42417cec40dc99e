package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient is the default Client implementation over the provider's REST
// API. It decodes only the paging envelope; record contents stay raw.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a provider client for the given base URL and bearer
// token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) ListConversations(ctx context.Context, accountID string, limit int, cursor string) (*Page, error) {
	q := url.Values{"account_id": {accountID}, "limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.getPage(ctx, "/api/v1/chats", q)
}

func (c *HTTPClient) ListConversationAttendees(ctx context.Context, chatID string) (*Page, error) {
	return c.getPage(ctx, "/api/v1/chats/"+url.PathEscape(chatID)+"/attendees", nil)
}

func (c *HTTPClient) ListMessages(ctx context.Context, chatID, accountID string, limit int, cursor string) (*Page, error) {
	q := url.Values{"account_id": {accountID}, "limit": {strconv.Itoa(limit)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.getPage(ctx, "/api/v1/chats/"+url.PathEscape(chatID)+"/messages", q)
}

type pageEnvelope struct {
	Items  []map[string]any `json:"items"`
	Cursor string           `json:"cursor"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) getPage(ctx context.Context, path string, q url.Values) (*Page, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ee errorEnvelope
		_ = json.Unmarshal(body, &ee)
		if ee.Message == "" {
			ee.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Code: ee.Code, Message: ee.Message}
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &Page{Items: env.Items, NextCursor: env.Cursor}, nil
}
