// Package httprpc carries the syncer bag (package rpc) over HTTP: a
// gin router on the server side, a net/http client on the caller side.
// It is the wire transport a SyncCoordinator uses when its partner is
// a separate earthcask-node process rather than an in-process Peer.
package httprpc

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/earthcask/earthcask/internal/rpc"
)

// Server exposes a rpc.Bag over HTTP.
type Server struct {
	bag rpc.Bag
}

// NewServer wraps bag for HTTP serving.
func NewServer(bag rpc.Bag) *Server {
	return &Server{bag: bag}
}

// Register mounts the syncer bag's four methods under r.
func (s *Server) Register(r *gin.Engine) {
	group := r.Group("/rpc")
	group.POST("/handshake", s.handshake)
	group.GET("/shares", s.allShareStates)
	group.GET("/share/:share/state", s.shareState)
	group.GET("/share/:share/docs", s.getDocs)
}

func (s *Server) handshake(c *gin.Context) {
	var req rpc.HandshakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := s.bag.SaltedHandshake(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) allShareStates(c *gin.Context) {
	states, err := s.bag.AllShareStates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": states})
}

func (s *Server) shareState(c *gin.Context) {
	share := c.Param("share")
	otherIndex, _ := strconv.Atoi(c.Query("otherIndex"))

	state, err := s.bag.GetShareState(c.Request.Context(), share, otherIndex)
	if err != nil {
		if err == rpc.ErrUnknownShare {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) getDocs(c *gin.Context) {
	share := c.Param("share")
	fromIndex, _ := strconv.Atoi(c.Query("fromIndex"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	docs, err := s.bag.GetDocs(c.Request.Context(), share, fromIndex, limit)
	if err != nil {
		if err == rpc.ErrUnknownShare {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docs": docs})
}
