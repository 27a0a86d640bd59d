// Package api wires up the Gin HTTP router with the node's public
// document surface: writing and querying documents in the shares this
// node hosts, plus a health/status endpoint. The duplex sync transport
// lives separately, in internal/rpc/httprpc.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/earthcask/earthcask/internal/bowl"
	"github.com/earthcask/earthcask/internal/crypto"
	"github.com/earthcask/earthcask/internal/peer"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	p      *peer.Peer
	author *crypto.Keypair
}

// NewHandler creates a Handler. author signs every document written
// through the public write endpoint; a node operates as a single
// writing identity even though any number of remote authors' documents
// may already live in its shares via sync.
func NewHandler(p *peer.Peer, author *crypto.Keypair) *Handler {
	return &Handler{p: p, author: author}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)

	shares := r.Group("/shares")
	shares.GET("", h.ListShares)
	shares.POST("/:share/docs", h.Write)
	shares.GET("/:share/docs", h.Query)
	shares.GET("/:share/docs/latest", h.LatestAtPath)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "shares": h.p.Shares(), "peerId": h.p.ID()})
}

// ListShares handles GET /shares
func (h *Handler) ListShares(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"shares": h.p.Shares()})
}

func (h *Handler) replicaFor(c *gin.Context) (*bowl.Bowl, bool) {
	share := c.Param("share")
	b, ok := h.p.Replica(share)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "share not hosted on this node: " + share})
		return nil, false
	}
	return b, true
}

// Write handles POST /shares/:share/docs
// Body: {"path": "<path>", "content": "<string>"}
func (h *Handler) Write(c *gin.Context) {
	b, ok := h.replicaFor(c)
	if !ok {
		return
	}

	var body struct {
		Path    string `json:"path" binding:"required"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, d, err := b.Write(h.author, body.Path, body.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result.String(), "doc": d})
}

// Query handles GET /shares/:share/docs
// Query params: path, pathStartsWith, author, history (latest|all),
// orderBy (path|localIndex), desc (bool), limit.
func (h *Handler) Query(c *gin.Context) {
	b, ok := h.replicaFor(c)
	if !ok {
		return
	}

	q := bowl.Query{}
	if v := c.Query("history"); v == string(bowl.HistoryAll) {
		q.History = bowl.HistoryAll
	}

	desc := c.Query("desc") == "true"
	switch c.Query("orderBy") {
	case "localIndex":
		q.OrderBy = bowl.OrderLocalIndexAsc
		if desc {
			q.OrderBy = bowl.OrderLocalIndexDesc
		}
	default:
		q.OrderBy = bowl.OrderPathAsc
		if desc {
			q.OrderBy = bowl.OrderPathDesc
		}
	}

	if v := c.Query("path"); v != "" {
		q.Filter.Path = &v
	}
	if v := c.Query("pathStartsWith"); v != "" {
		q.Filter.PathStartsWith = &v
	}
	if v := c.Query("author"); v != "" {
		q.Filter.Author = &v
	}
	if v, err := parseLimit(c.Query("limit")); err == nil && v > 0 {
		q.Limit = v
	}

	c.JSON(http.StatusOK, gin.H{"docs": b.QueryDocs(q)})
}

// LatestAtPath handles GET /shares/:share/docs/latest?path=<path>
func (h *Handler) LatestAtPath(c *gin.Context) {
	b, ok := h.replicaFor(c)
	if !ok {
		return
	}
	path := c.Query("path")
	d, found := b.GetLatestDocAtPath(path)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no document at path " + path})
		return
	}
	c.JSON(http.StatusOK, d)
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
