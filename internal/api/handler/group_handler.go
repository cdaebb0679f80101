package handler

import (
	"net/http"

	"github.com/evetabi/snipe/internal/service"
	"github.com/gin-gonic/gin"
)

// GroupHandler serves auction group endpoints.
type GroupHandler struct {
	groupSvc *service.GroupService
}

// NewGroupHandler creates a GroupHandler.
func NewGroupHandler(groupSvc *service.GroupService) *GroupHandler {
	return &GroupHandler{groupSvc: groupSvc}
}

// List godoc
// GET /api/groups
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.groupSvc.List(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not list groups")
		return
	}
	respondList(c, groups, len(groups), 1, len(groups))
}

// Create godoc
// POST /api/groups [JWT]
// Body: {"name":"50mm lenses","notes":"only one"}
func (h *GroupHandler) Create(c *gin.Context) {
	var body struct {
		Name  string `json:"name" binding:"required"`
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	g, err := h.groupSvc.Create(c.Request.Context(), body.Name, body.Notes)
	if err != nil {
		respondDomainError(c, err, "could not create group")
		return
	}
	respondSuccess(c, http.StatusCreated, g)
}

// GetByID godoc
// GET /api/groups/:id
// Returns the group summary together with its members.
func (h *GroupHandler) GetByID(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sum, err := h.groupSvc.Get(ctx, id)
	if err != nil {
		respondDomainError(c, err, "could not fetch group")
		return
	}
	members, err := h.groupSvc.Members(ctx, id)
	if err != nil {
		respondDomainError(c, err, "could not fetch group members")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"group": sum, "members": members})
}

// UpdateNotes godoc
// PATCH /api/groups/:id [JWT]
// Body: {"notes":"..."}
func (h *GroupHandler) UpdateNotes(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	g, err := h.groupSvc.UpdateNotes(c.Request.Context(), id, body.Notes)
	if err != nil {
		respondDomainError(c, err, "could not update group")
		return
	}
	respondSuccess(c, http.StatusOK, g)
}

// Delete godoc
// DELETE /api/groups/:id [JWT]
// Members are kept but ungrouped.
func (h *GroupHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.groupSvc.Delete(c.Request.Context(), id); err != nil {
		respondDomainError(c, err, "could not delete group")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"deleted": id})
}
