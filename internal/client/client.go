// Package client is a Go SDK for talking to one earthcask-node over
// HTTP: instead of hand-rolling http.NewRequest/json.Marshal at every
// call site, wrap the document write/query surface behind a small Go
// API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/earthcask/earthcask/internal/doc"
)

// Client talks to ONE earthcask-node. That node is responsible for
// storing and syncing its own shares; the client has no sync logic of
// its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. baseURL looks like "http://localhost:8080".
// A zero timeout defaults to 10s — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// WriteResponse is returned after a successful write.
type WriteResponse struct {
	Result string       `json:"result"`
	Doc    doc.Document `json:"doc"`
}

// Write stores content at path within share.
func (c *Client) Write(ctx context.Context, share, path, content string) (*WriteResponse, error) {
	body, _ := json.Marshal(map[string]string{"path": path, "content": content})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/shares/%s/docs", c.baseURL, url.PathEscape(share)), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("write request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result WriteResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// QueryOptions mirrors the subset of bowl.Query exposed over HTTP.
type QueryOptions struct {
	History        string
	OrderBy        string
	Desc           bool
	Path           string
	PathStartsWith string
	Author         string
	Limit          int
}

// Query runs a closed query against share and returns the matching
// documents.
func (c *Client) Query(ctx context.Context, share string, opts QueryOptions) ([]doc.Document, error) {
	q := url.Values{}
	if opts.History != "" {
		q.Set("history", opts.History)
	}
	if opts.OrderBy != "" {
		q.Set("orderBy", opts.OrderBy)
	}
	if opts.Desc {
		q.Set("desc", "true")
	}
	if opts.Path != "" {
		q.Set("path", opts.Path)
	}
	if opts.PathStartsWith != "" {
		q.Set("pathStartsWith", opts.PathStartsWith)
	}
	if opts.Author != "" {
		q.Set("author", opts.Author)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	u := fmt.Sprintf("%s/shares/%s/docs?%s", c.baseURL, url.PathEscape(share), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result struct {
		Docs []doc.Document `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Docs, nil
}

// LatestAtPath retrieves the current latest document at path within
// share.
func (c *Client) LatestAtPath(ctx context.Context, share, path string) (*doc.Document, error) {
	u := fmt.Sprintf("%s/shares/%s/docs/latest?path=%s", c.baseURL, url.PathEscape(share), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("latest-at-path request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var d doc.Document
	return &d, json.NewDecoder(resp.Body).Decode(&d)
}

// Shares lists the share addresses the node hosts.
func (c *Client) Shares(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/shares", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result struct {
		Shares []string `json:"shares"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Shares, nil
}

// ─── Errors ────────────────────────────────────────────────────────────

// ErrNotFound is returned when a path has no current document.
var ErrNotFound = fmt.Errorf("no document at that path")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
