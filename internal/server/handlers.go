package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskchat/internal/domain/user"
	"taskchat/internal/middleware"
	"taskchat/internal/transport/httpdto"
	"taskchat/pkg/apperrors"
)

const maxPresenceQuery = 100

// handlePresenceQuery answers a point-in-time snapshot for up to 100
// users. Online state comes from the registry; last seen from the
// store for users currently offline.
func (s *Server) handlePresenceQuery(c *gin.Context) {
	raw := strings.Split(c.Query("ids"), ",")
	if len(raw) == 0 || raw[0] == "" {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if len(raw) > maxPresenceQuery {
		raw = raw[:maxPresenceQuery]
	}

	ids := make([]uuid.UUID, 0, len(raw))
	for _, part := range raw {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			abortWithError(c, apperrors.ErrInvalidInput)
			return
		}
		ids = append(ids, id)
	}

	snapshot := s.deps.Tracker.Snapshot(ids)
	entries := make([]httpdto.PresenceEntry, 0, len(ids))
	for _, id := range ids {
		entry := httpdto.PresenceEntry{UserID: id, IsOnline: snapshot[id]}
		if !entry.IsOnline {
			if u, err := s.deps.Users.GetByID(c.Request.Context(), id); err == nil {
				entry.LastSeen = u.LastSeenAt
			}
		}
		entries = append(entries, entry)
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(entries))
}

func (s *Server) handleEditMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	var req httpdto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	m, err := s.deps.Messages.Edit(c.Request.Context(), middleware.UserID(c), messageID, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(m))
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if err := s.deps.Messages.Delete(c.Request.Context(), middleware.UserID(c), messageID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"deleted": true}))
}

func (s *Server) handlePresignAttachment(c *gin.Context) {
	if s.deps.Storage == nil {
		abortWithError(c, apperrors.ErrServiceUnavailable)
		return
	}
	var req httpdto.PresignAttachmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	url, key, err := s.deps.Storage.PresignPut(c.Request.Context(), middleware.UserID(c), req.Filename, req.ContentType)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PresignAttachmentResponse{
		UploadURL: url,
		ObjectKey: key,
	}))
}

func (s *Server) handleAttachmentURL(c *gin.Context) {
	if s.deps.Storage == nil {
		abortWithError(c, apperrors.ErrServiceUnavailable)
		return
	}
	key := c.Query("key")
	if key == "" {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	url, err := s.deps.Storage.PresignGet(c.Request.Context(), key)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"url": url}))
}

func (s *Server) handleCreateGroup(c *gin.Context) {
	var req httpdto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	g, err := s.deps.Groups.Create(c.Request.Context(), middleware.UserID(c), req.Name, req.Description, req.MemberIDs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(g))
}

func (s *Server) handleAddGroupMember(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	var req httpdto.AddGroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	if err := s.deps.Groups.AddMember(c.Request.Context(), middleware.UserID(c), groupID, req.UserID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"added": true}))
}

func (s *Server) handleRemoveGroupMember(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	if err := s.deps.Groups.RemoveMember(c.Request.Context(), middleware.UserID(c), groupID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"removed": true}))
}

func (s *Server) handleListNotifications(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	items, total, err := s.deps.Dispatcher.List(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"items": items, "total": total}))
}

func (s *Server) handleUnreadCount(c *gin.Context) {
	count, err := s.deps.Dispatcher.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"unread": count}))
}

func (s *Server) handleMarkNotificationRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if err := s.deps.Dispatcher.MarkRead(c.Request.Context(), middleware.UserID(c), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"read": true}))
}

func (s *Server) handleDeleteNotification(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if err := s.deps.Dispatcher.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"deleted": true}))
}

func (s *Server) handleAddPushSubscription(c *gin.Context) {
	var req httpdto.PushSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}

	sub := &user.PushSubscription{
		ID:        uuid.New(),
		UserID:    middleware.UserID(c),
		Endpoint:  req.Endpoint,
		P256dh:    req.P256dh,
		Auth:      req.Auth,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Users.AddPushSubscription(c.Request.Context(), sub); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(gin.H{"subscribed": true}))
}

func (s *Server) handleRemovePushSubscription(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if err := s.deps.Users.RemovePushSubscription(c.Request.Context(), endpoint); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"unsubscribed": true}))
}

func (s *Server) handleCallHistory(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	sessions, total, err := s.deps.CallRepo.UserCallHistory(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"items": sessions, "total": total}))
}

func (s *Server) handleActiveCalls(c *gin.Context) {
	sessions, err := s.deps.CallRepo.ActiveCalls(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"items": sessions}))
}

func (s *Server) handleTaskEvent(c *gin.Context) {
	var req httpdto.TaskEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	if err := s.deps.Events.HandleTaskEvent(c.Request.Context(), req); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(gin.H{"accepted": true}))
}

func (s *Server) handleReminder(c *gin.Context) {
	var req httpdto.ReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.ErrInvalidInput)
		return
	}
	s.deps.Events.HandleReminder(c.Request.Context(), req)
	c.JSON(http.StatusAccepted, httpdto.NewSuccessResponse(gin.H{"accepted": true}))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v >= 0 {
		return v
	}
	return fallback
}
