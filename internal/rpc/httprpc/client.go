package httprpc

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
	"github.com/earthcask/earthcask/internal/rpc"
)

// Client implements rpc.Bag against one remote earthcask-node over
// HTTP. It talks to a single node; the SyncCoordinator that holds it
// decides what to do with the results.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a Client for baseURL (e.g. "http://peer:8081"). A
// zero timeout defaults to 10s; never call the network without one.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

var _ rpc.Bag = (*Client)(nil)

func (c *Client) SaltedHandshake(ctx context.Context, req rpc.HandshakeRequest) (rpc.HandshakeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return rpc.HandshakeResponse{}, err
	}
	var resp rpc.HandshakeResponse
	err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/rpc/handshake", bytes.NewReader(body), &resp)
	return resp, err
}

func (c *Client) AllShareStates(ctx context.Context) ([]rpc.ShareState, error) {
	var result struct {
		Shares []rpc.ShareState `json:"shares"`
	}
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/rpc/shares", nil, &result)
	return result.Shares, err
}

func (c *Client) GetShareState(ctx context.Context, share string, otherIndex int) (rpc.ShareState, error) {
	u := fmt.Sprintf("%s/rpc/share/%s/state?otherIndex=%d", c.baseURL, url.PathEscape(share), otherIndex)
	var state rpc.ShareState
	err := c.doJSON(ctx, http.MethodGet, u, nil, &state)
	return state, err
}

func (c *Client) GetDocs(ctx context.Context, share string, fromIndex, limit int) ([]doc.Document, error) {
	u := fmt.Sprintf("%s/rpc/share/%s/docs?fromIndex=%s&limit=%s",
		c.baseURL, url.PathEscape(share), strconv.Itoa(fromIndex), strconv.Itoa(limit))
	var result struct {
		Docs []doc.Document `json:"docs"`
	}
	err := c.doJSON(ctx, http.MethodGet, u, nil, &result)
	return result.Docs, err
}

func (c *Client) doJSON(ctx context.Context, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError carries the HTTP status and message from a failed call.
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
	data, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(data)
	}
	if resp.StatusCode == http.StatusNotFound && msg == rpc.ErrUnknownShare.Error() {
		return rpc.ErrUnknownShare
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
