package client_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/earthcask/earthcask/internal/api"
	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/client"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/driver"
	"github.com/earthcask/earthcask/internal/peer"
)

func newTestNode(t *testing.T, shares ...string) *httptest.Server {
	t.Helper()
	kp, err := crypto.GenerateKeypair("alice")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}

	p := peer.New()
	for _, share := range shares {
		b, err := bowl.Open(share, driver.NewMemory())
		if err != nil {
			t.Fatalf("bowl.Open: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		if err := p.AddReplica(share, b); err != nil {
			t.Fatalf("AddReplica: %v", err)
		}
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	api.NewHandler(p, kp).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientWriteThenQuery(t *testing.T) {
	srv := newTestNode(t, "+todos.abcdef")
	c := client.New(srv.URL, 0)
	ctx := context.Background()

	if _, err := c.Write(ctx, "+todos.abcdef", "/todos/1", "buy milk"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	docs, err := c.Query(ctx, "+todos.abcdef", client.QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "buy milk" {
		t.Fatalf("Query = %+v, want one doc with content %q", docs, "buy milk")
	}
}

func TestClientLatestAtPathNotFound(t *testing.T) {
	srv := newTestNode(t, "+todos.abcdef")
	c := client.New(srv.URL, 0)

	_, err := c.LatestAtPath(context.Background(), "+todos.abcdef", "/todos/1")
	if err != client.ErrNotFound {
		t.Fatalf("LatestAtPath(missing) err = %v, want client.ErrNotFound", err)
	}
}

func TestClientLatestAtPathFound(t *testing.T) {
	srv := newTestNode(t, "+todos.abcdef")
	c := client.New(srv.URL, 0)
	ctx := context.Background()

	if _, err := c.Write(ctx, "+todos.abcdef", "/todos/1", "buy milk"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	d, err := c.LatestAtPath(ctx, "+todos.abcdef", "/todos/1")
	if err != nil {
		t.Fatalf("LatestAtPath: %v", err)
	}
	if d.Content != "buy milk" {
		t.Fatalf("Content = %q, want %q", d.Content, "buy milk")
	}
}

func TestClientShares(t *testing.T) {
	srv := newTestNode(t, "+todos.abcdef", "+notes.ghijkl")
	c := client.New(srv.URL, 0)

	shares, err := c.Shares(context.Background())
	if err != nil {
		t.Fatalf("Shares: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("Shares() = %v, want 2 entries", shares)
	}
}

func TestClientWriteUnknownShareReturnsAPIError(t *testing.T) {
	srv := newTestNode(t)
	c := client.New(srv.URL, 0)

	_, err := c.Write(context.Background(), "+ghost.abcdef", "/a", "x")
	apiErr, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("err = %v (%T), want *client.APIError", err, err)
	}
	if apiErr.Status != 404 {
		t.Fatalf("APIError.Status = %d, want 404", apiErr.Status)
	}
}

func TestClientGetRaw(t *testing.T) {
	srv := newTestNode(t)
	c := client.New(srv.URL, 0)

	body, err := c.GetRaw(context.Background(), "/health")
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if body == "" {
		t.Fatal("GetRaw(/health) returned an empty body")
	}
}
