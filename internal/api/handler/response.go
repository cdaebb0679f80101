package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// respondDomainError maps a sentinel from internal/domain to its HTTP status.
// Anything unrecognised becomes a 500 carrying fallback, never the raw error.
func respondDomainError(c *gin.Context, err error, fallback string) {
	switch {
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", rootMessage(err))
	case errors.Is(err, domain.ErrLogNotFound):
		respondError(c, http.StatusNotFound, "ERR_LOG_NOT_FOUND", domain.ErrLogNotFound.Error())
	case domain.IsNotFound(err):
		respondError(c, http.StatusNotFound, "ERR_NOT_FOUND", rootMessage(err))
	case errors.Is(err, domain.ErrTickInProgress):
		respondError(c, http.StatusConflict, "ERR_TICK_IN_PROGRESS", domain.ErrTickInProgress.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", rootMessage(err))
	case errors.Is(err, domain.ErrProcessTable):
		respondError(c, http.StatusServiceUnavailable, "ERR_PROCESS_TABLE", domain.ErrProcessTable.Error())
	default:
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
	}
}

// rootMessage returns the message of the domain sentinel in err's chain, so
// responses never leak wrapping context such as SQL details.
func rootMessage(err error) string {
	for _, target := range []error{
		domain.ErrInvalidBid, domain.ErrInvalidAuctionID, domain.ErrInvalidGroupName,
		domain.ErrAuctionNotFound, domain.ErrGroupNotFound,
		domain.ErrAuctionExists, domain.ErrStaleAuction, domain.ErrGroupNameTaken,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}

// paramID parses a positive int64 path parameter.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+name)
		return 0, false
	}
	return id, true
}

// paginate returns the items of the requested page.
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	return lo.Slice(items, start, start+limit)
}
