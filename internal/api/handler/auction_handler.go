package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// AuctionHandler serves snipe management endpoints.
type AuctionHandler struct {
	snipeSvc *service.SnipeService
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(snipeSvc *service.SnipeService) *AuctionHandler {
	return &AuctionHandler{snipeSvc: snipeSvc}
}

// List godoc
// GET /api/auctions?status=running&group=3&page=1&limit=50
func (h *AuctionHandler) List(c *gin.Context) {
	var status domain.AuctionStatus
	if s := c.Query("status"); s != "" {
		status = domain.AuctionStatus(s)
		if !status.IsValid() {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "unknown status filter")
			return
		}
	}
	var group int64
	if g := c.Query("group"); g != "" {
		n, err := strconv.ParseInt(g, 10, 64)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid group filter")
			return
		}
		group = n
	}
	pg, limit := parsePagination(c)

	views, err := h.snipeSvc.List(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not list auctions")
		return
	}
	views = lo.Filter(views, func(v *service.AuctionView, _ int) bool {
		if status != "" && v.Status != status {
			return false
		}
		return group == 0 || (v.GroupID != nil && *v.GroupID == group)
	})
	respondList(c, paginate(views, pg, limit), len(views), pg, limit)
}

// GetByID godoc
// GET /api/auctions/:id
func (h *AuctionHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := h.snipeSvc.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch auction")
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// GetLog godoc
// GET /api/auctions/:id/log
// Returns the raw worker log as text/plain.
func (h *AuctionHandler) GetLog(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	data, err := h.snipeSvc.Log(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not read log")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

// Place godoc
// POST /api/auctions [JWT]
// Body: {"auction_id":123456789,"bid":"12.50","group_id":3}
// Creates a snipe or changes the bid of an existing one. group_id 0 removes
// the snipe from its group; omitting it leaves the group unchanged.
func (h *AuctionHandler) Place(c *gin.Context) {
	var body struct {
		AuctionID int64  `json:"auction_id" binding:"required"`
		Bid       string `json:"bid"        binding:"required"`
		GroupID   *int64 `json:"group_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	a, err := h.snipeSvc.PlaceSnipe(c.Request.Context(), body.AuctionID, body.Bid, body.GroupID)
	if err != nil {
		respondDomainError(c, err, "could not place snipe")
		return
	}
	respondSuccess(c, http.StatusOK, a)
}

// AssignGroup godoc
// PATCH /api/auctions/:id/group [JWT]
// Body: {"group_id":3}: null or 0 ungroups.
func (h *AuctionHandler) AssignGroup(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		GroupID *int64 `json:"group_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	a, err := h.snipeSvc.AssignGroup(c.Request.Context(), id, body.GroupID)
	if err != nil {
		respondDomainError(c, err, "could not change group")
		return
	}
	respondSuccess(c, http.StatusOK, a)
}

// Delete godoc
// DELETE /api/auctions/:id [JWT]
func (h *AuctionHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.snipeSvc.Delete(c.Request.Context(), id); err != nil {
		respondDomainError(c, err, "could not delete auction")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"deleted": id})
}

// Purge godoc
// POST /api/auctions/purge [JWT]
// Deletes every auction that is no longer running.
func (h *AuctionHandler) Purge(c *gin.Context) {
	removed, err := h.snipeSvc.PurgeFinished(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "purge finished with errors")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"removed": removed})
}

// Stats godoc
// GET /api/stats
func (h *AuctionHandler) Stats(c *gin.Context) {
	counts, err := h.snipeSvc.Counts(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not count auctions")
		return
	}
	respondSuccess(c, http.StatusOK, counts)
}
