package httprpc

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/driver"
	"github.com/earthcask/earthcask/internal/peer"
	"github.com/earthcask/earthcask/internal/rpc"
)

func newTestServer(t *testing.T, shares ...string) (*httptest.Server, *peer.Peer) {
	t.Helper()
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
	NewServer(rpc.NewLocalBag(p, nil)).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, p
}

func TestHTTPHandshakeRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, "+todos.abcdef")
	client := NewClient(srv.URL, 0)

	resp, err := client.SaltedHandshake(context.Background(), rpc.HandshakeRequest{Salt: "s"})
	if err != nil {
		t.Fatalf("SaltedHandshake: %v", err)
	}
	if len(resp.SaltedShares) != 1 {
		t.Fatalf("SaltedShares = %v, want 1 entry", resp.SaltedShares)
	}
	if resp.PeerID == "" {
		t.Fatal("HandshakeResponse.PeerID must not be empty")
	}
}

func TestHTTPGetShareStateUnknownShareReturns404AsSentinel(t *testing.T) {
	srv, _ := newTestServer(t)
	client := NewClient(srv.URL, 0)

	_, err := client.GetShareState(context.Background(), "+ghost.abcdef", -1)
	if err != rpc.ErrUnknownShare {
		t.Fatalf("GetShareState(unknown) err = %v, want rpc.ErrUnknownShare", err)
	}
}

func TestHTTPWriteThenGetDocs(t *testing.T) {
	srv, p := newTestServer(t, "+todos.abcdef")
	b, _ := p.Replica("+todos.abcdef")
	kp, err := crypto.GenerateKeypair("alice")
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	if _, _, err := b.Write(kp, "/todos/1", "buy milk"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	client := NewClient(srv.URL, 0)
	docs, err := client.GetDocs(context.Background(), "+todos.abcdef", 1, 10)
	if err != nil {
		t.Fatalf("GetDocs: %v", err)
	}
	if len(docs) != 1 || docs[0].Content != "buy milk" {
		t.Fatalf("GetDocs = %+v, want one doc with content %q", docs, "buy milk")
	}

	state, err := client.GetShareState(context.Background(), "+todos.abcdef", -1)
	if err != nil {
		t.Fatalf("GetShareState: %v", err)
	}
	if state.HighestLocalIndex != 1 {
		t.Fatalf("HighestLocalIndex = %d, want 1", state.HighestLocalIndex)
	}
}

func TestHTTPAllShareStates(t *testing.T) {
	srv, _ := newTestServer(t, "+todos.abcdef", "+notes.ghijkl")
	client := NewClient(srv.URL, 0)

	states, err := client.AllShareStates(context.Background())
	if err != nil {
		t.Fatalf("AllShareStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("AllShareStates returned %d entries, want 2", len(states))
	}
}
