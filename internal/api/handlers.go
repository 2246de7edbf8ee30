// Package api wires up the Gin HTTP router with all handler functions.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"guidnet/internal/broadcast"
	"guidnet/internal/guid"
	"guidnet/internal/join"
	"guidnet/internal/message"
	"guidnet/internal/store"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	store     *store.Store
	join      *join.Service
	broadcast *broadcast.Engine
}

// NewHandler creates a Handler.
func NewHandler(s *store.Store, j *join.Service, b *broadcast.Engine) *Handler {
	return &Handler{store: s, join: j, broadcast: b}
}

// Register mounts all routes on r, versioned at /api/v1 per spec §6.
func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	v1.GET("/status", h.Status)
	v1.PUT("/network/join", h.NetworkJoin)
	v1.GET("/nodes/:guid", h.NodeAddress)
	v1.POST("/sync", h.Sync)
	v1.PUT("/broadcast", h.Broadcast)

	// Debug-only, not part of the core protocol — see SPEC_FULL.md §6.
	v1.GET("/cluster", h.Cluster)
}

// Status handles GET /api/v1/status. A 200 with an empty body is the
// entire contract — a completed call means "alive" (spec §4.3).
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{})
}

type networkJoinRequest struct {
	GUID *guid.GUID `json:"guid"`
}

// NetworkJoin handles PUT /api/v1/network/join.
func (h *Handler) NetworkJoin(c *gin.Context) {
	var req networkJoinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	node, err := h.join.Join(c.ClientIP(), req.GUID)
	if err != nil {
		if err == join.ErrNetworkJoin {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": node.Address, "guid": node.GUID})
}

// NodeAddress handles GET /api/v1/nodes/:guid.
func (h *Handler) NodeAddress(c *gin.Context) {
	raw, err := strconv.ParseUint(c.Param("guid"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guid"})
		return
	}

	node, ok := h.store.GetNodeByGUID(guid.GUID(raw))
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, node.Address)
}

type syncRequest struct {
	GUID        guid.GUID `json:"guid"`
	MaxGUIDNode struct {
		Address string    `json:"address"`
		GUID    guid.GUID `json:"guid"`
	} `json:"max_guid_node"`
}

// Sync handles POST /api/v1/sync.
func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.UpsertNode(guid.Node{GUID: req.MaxGUIDNode.GUID, Address: req.MaxGUIDNode.Address}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	maxNode, _ := h.store.GetMaxGUIDNode()
	c.JSON(http.StatusOK, gin.H{"address": maxNode.Address, "guid": maxNode.GUID})
}

// Broadcast handles PUT /api/v1/broadcast.
func (h *Handler) Broadcast(c *gin.Context) {
	var m message.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	forwarded := h.broadcast.Handle(c.Request.Context(), &m)
	c.JSON(http.StatusOK, forwarded)
}

// Cluster handles GET /api/v1/cluster — a debug-only dump of this node's
// view of the network, not named in spec §6.
func (h *Handler) Cluster(c *gin.Context) {
	maxGUID := h.store.GetMaxGUID()
	nodes := make([]guid.Node, 0, maxGUID)
	for g := guid.GUID(1); g <= maxGUID; g++ {
		if n, ok := h.store.GetNodeByGUID(g); ok {
			nodes = append(nodes, n)
		}
	}
	client, joined := h.store.GetClient()
	c.JSON(http.StatusOK, gin.H{
		"max_guid": maxGUID,
		"nodes":    nodes,
		"client":   client,
		"joined":   joined,
	})
}
