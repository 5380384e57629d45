package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/service"
)

// MemberCounter reports how many sessions are live in a room right now.
// Satisfied by the hub.
type MemberCounter interface {
	MemberCount(roomID uint) int
}

// RoomHandler serves room creation, invite-token resolution and room
// read-side queries over REST. Joining the live session itself happens over
// the websocket.
type RoomHandler struct {
	roomService *service.RoomService
	activity    *service.ActivityService
	stateRepo   repository.StateRepository
	members     MemberCounter
}

func NewRoomHandler(roomService *service.RoomService, activity *service.ActivityService, stateRepo repository.StateRepository, members MemberCounter) *RoomHandler {
	if roomService == nil || activity == nil || stateRepo == nil || members == nil {
		panic("all dependencies must be non-nil for RoomHandler")
	}
	return &RoomHandler{
		roomService: roomService,
		activity:    activity,
		stateRepo:   stateRepo,
		members:     members,
	}
}

// CreateRoomRequest is the POST /api/rooms body.
type CreateRoomRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Capacity int    `json:"capacity" binding:"omitempty,min=1,max=64"`
}

// CreateRoomResponse returns the invite token other users present when
// joining.
type CreateRoomResponse struct {
	Message     string `json:"message"`
	RoomID      uint   `json:"room_id"`
	InviteToken string `json:"invite_token"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		logrus.Error("Handler.CreateRoom: user_id not found in context")
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	userID, ok := userIDVal.(uint)
	if !ok {
		logrus.Errorf("Handler.CreateRoom: user_id in context is not uint: %T", userIDVal)
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateRoom: invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), userID, req.Name, req.Capacity)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Error("Handler.CreateRoom: failed to create room")
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"room_id": room.ID,
	}).Info("Handler.CreateRoom: room created")

	SuccessResponse(c, http.StatusOK, CreateRoomResponse{
		Message:     "Room created successfully",
		RoomID:      room.ID,
		InviteToken: room.InviteToken,
	})
}

// ResolveInviteRequest is the POST /api/rooms/resolve body.
type ResolveInviteRequest struct {
	InviteToken string `json:"invite_token" binding:"required,len=8"`
}

// ResolveInvite maps an invite token to a room so clients can show room
// details before opening the websocket session.
func (h *RoomHandler) ResolveInvite(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		logrus.Error("Handler.ResolveInvite: user_id not found in context")
		ErrorResponse(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	userID, ok := userIDVal.(uint)
	if !ok {
		logrus.Errorf("Handler.ResolveInvite: user_id in context is not uint: %T", userIDVal)
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	var req ResolveInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.ResolveInvite: invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: invite_token must be 8 characters"})
		return
	}

	room, err := h.roomService.ResolveJoin(c.Request.Context(), userID, req.InviteToken)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"token":   req.InviteToken,
		}).WithError(err).Warn("Handler.ResolveInvite: failed to resolve invite")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{
		"room_id":  room.ID,
		"name":     room.Name,
		"capacity": room.Capacity,
	})
}

// ActivityTail serves GET /api/rooms/:id/activity, the recent chat and
// activity entries of a room, newest first.
func (h *RoomHandler) ActivityTail(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if _, err := h.roomService.FindRoomByID(c.Request.Context(), roomID); err != nil {
		HandleServiceError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		ErrorResponse(c, http.StatusBadRequest, "limit must be between 1 and 200")
		return
	}

	entries, err := h.activity.Tail(c.Request.Context(), roomID, limit)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Handler.ActivityTail: failed to load activity tail")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{
		"room_id": roomID,
		"entries": entries,
	})
}

// PresenceSummary serves GET /api/rooms/:id/presence: the live member count
// and, when a user_id query is given, when that user was last seen. Last-seen
// records expire with the presence history window, in which case last_seen is
// omitted.
func (h *RoomHandler) PresenceSummary(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	if _, err := h.roomService.FindRoomByID(c.Request.Context(), roomID); err != nil {
		HandleServiceError(c, err)
		return
	}

	resp := gin.H{
		"room_id":      roomID,
		"member_count": h.members.MemberCount(roomID),
	}

	if rawUser := c.Query("user_id"); rawUser != "" {
		userID, err := strconv.ParseUint(rawUser, 10, 64)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "user_id must be a positive integer")
			return
		}
		lastSeen, err := h.stateRepo.GetLastSeen(c.Request.Context(), roomID, uint(userID))
		switch {
		case err == nil:
			resp["last_seen"] = lastSeen.UTC().Format(time.RFC3339Nano)
		case errors.Is(err, repository.ErrNotFound):
			// Never seen, or the history window lapsed.
		default:
			logrus.WithField("room_id", roomID).WithError(err).Error("Handler.PresenceSummary: failed to load last-seen record")
			ErrorResponse(c, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	SuccessResponse(c, http.StatusOK, resp)
}

func roomIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		ErrorResponse(c, http.StatusBadRequest, "room id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}
