// cmd/earthcask-node is the main entrypoint for one earthcask node.
//
// Configuration is entirely via flags so a single binary can host any
// number of shares and sync with any number of peers.
//
// Example — single node, in-memory, no peers:
//
//	./earthcask-node --addr :8080 --shares +todos.abc123
//
// Example — two nodes syncing with each other, durable storage:
//
//	./earthcask-node --addr :8080 --data-dir /tmp/n1 --shares +todos.abc123 \
//	                  --peers http://localhost:8081
//	./earthcask-node --addr :8081 --data-dir /tmp/n2 --shares +todos.abc123 \
//	                  --peers http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/earthcask/earthcask/internal/api"
	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/driver"
	"github.com/earthcask/earthcask/internal/peer"
	"github.com/earthcask/earthcask/internal/rpc"
	"github.com/earthcask/earthcask/internal/rpc/httprpc"
	"github.com/earthcask/earthcask/internal/synccoord"
)

func main() {
	// ── Flags ──────────────────────────────────────────────────────────────
	addr := flag.String("addr", ":8080", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "", "Directory for per-share sqlite files; empty means in-memory only")
	sharesFlag := flag.String("shares", "", "Comma-separated share addresses this node hosts")
	peersFlag := flag.String("peers", "", "Comma-separated base URLs of peer nodes to sync with")
	authorShortname := flag.String("author", "node", "Shortname for this node's signing identity")
	id := flag.String("id", "", "Override the generated peerId (for deterministic handshakes)")
	flag.Parse()

	if *sharesFlag == "" {
		log.Fatal("FATAL: --shares must name at least one share address")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	author, err := crypto.GenerateKeypair(*authorShortname)
	if err != nil {
		log.Fatalf("generate author keypair: %v", err)
	}

	var peerOpts []peer.Option
	if *id != "" {
		peerOpts = append(peerOpts, peer.WithID(*id))
	}
	p := peer.New(peerOpts...)

	// ── Storage: one bowl per hosted share ──────────────────────────────────
	for _, share := range splitCSV(*sharesFlag) {
		drv, err := openDriver(*dataDir, share)
		if err != nil {
			log.Fatalf("open driver for %s: %v", share, err)
		}
		b, err := bowl.Open(share, drv, bowl.WithLogger(sugar))
		if err != nil {
			log.Fatalf("open bowl for %s: %v", share, err)
		}
		if err := p.AddReplica(share, b); err != nil {
			log.Fatalf("register replica for %s: %v", share, err)
		}
	}

	// ── HTTP server: document API + syncer bag, same router ────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())

	api.NewHandler(p, author).Register(router)
	httprpc.NewServer(rpc.NewLocalBag(p, nil)).Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// ── Sync coordinators: one per configured peer ──────────────────────────
	syncCtx, cancelSync := context.WithCancel(context.Background())
	var coordinators []*synccoord.Coordinator
	for _, peerAddr := range splitCSV(*peersFlag) {
		bag := httprpc.NewClient(peerAddr, 10*time.Second)
		co := synccoord.New(p, bag, synccoord.WithLogger(sugar))
		if err := co.Start(syncCtx); err != nil {
			sugar.Warnw("failed to start sync coordinator", "peer", peerAddr, "error", err)
			continue
		}
		coordinators = append(coordinators, co)
		go logStatus(sugar, peerAddr, co)
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	go func() {
		log.Printf("earthcask-node listening on %s (peerId=%s, shares=%v)", *addr, p.ID(), p.Shares())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down earthcask-node")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cancelSync()
	for _, co := range coordinators {
		if err := co.Close(); err != nil {
			sugar.Warnw("sync coordinator close error", "error", err)
		}
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := p.Close(); err != nil {
		log.Printf("peer close error: %v", err)
	}
}

func logStatus(logger *zap.SugaredLogger, peerAddr string, co *synccoord.Coordinator) {
	for status := range co.StatusUpdates() {
		logger.Infow("sync status", "peer", peerAddr, "partnerId", co.PartnerID(), "status", status)
	}
}

func openDriver(dataDir, share string) (driver.Driver, error) {
	if dataDir == "" {
		return driver.NewMemory(), nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return driver.OpenSQLite(fmt.Sprintf("%s/%s.db", dataDir, sanitizeFilename(share)))
}

func sanitizeFilename(share string) string {
	r := strings.NewReplacer("+", "", ".", "_", "/", "_")
	return r.Replace(share)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
