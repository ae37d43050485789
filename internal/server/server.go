package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"taskchat/internal/calls"
	"taskchat/internal/config"
	"taskchat/internal/middleware"
	"taskchat/internal/notify"
	"taskchat/internal/presence"
	"taskchat/internal/registry"
	"taskchat/internal/repository"
	"taskchat/internal/router"
	"taskchat/internal/services"
	"taskchat/internal/storage"
	"taskchat/internal/transport/httpdto"
	"taskchat/pkg/apperrors"
	"taskchat/pkg/logger"
)

// Deps bundles everything the transport layer touches.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Registry   *registry.Registry
	Router     *router.Router
	Tracker    *presence.Tracker
	Mirror     *presence.Mirror
	Messages   *services.MessageService
	Groups     *services.GroupService
	Calls      *calls.Machine
	Dispatcher *notify.Dispatcher
	Auth       *services.AuthService
	Users      repository.UserRepository
	CallRepo   repository.CallRepository
	Storage    *storage.Client
	Events     *ServerEvents
	Log        *logger.Logger
}

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	deps       *Deps
}

func New(deps *Deps) *Server {
	if deps.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", deps.Config.Server.Port),
			Handler: engine,
		},
		engine: engine,
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.deps.Log))

	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/ws", s.HandleWS)

	api := s.engine.Group("/api", middleware.AuthMiddleware(s.deps.Auth))
	{
		api.GET("/presence", s.handlePresenceQuery)

		api.PATCH("/messages/:id", s.handleEditMessage)
		api.DELETE("/messages/:id", s.handleDeleteMessage)
		api.POST("/attachments/presign", s.handlePresignAttachment)
		api.GET("/attachments/url", s.handleAttachmentURL)

		api.POST("/groups", s.handleCreateGroup)
		api.POST("/groups/:id/members", s.handleAddGroupMember)
		api.DELETE("/groups/:id/members/:user_id", s.handleRemoveGroupMember)

		api.GET("/notifications", s.handleListNotifications)
		api.GET("/notifications/unread_count", s.handleUnreadCount)
		api.POST("/notifications/:id/read", s.handleMarkNotificationRead)
		api.DELETE("/notifications/:id", s.handleDeleteNotification)

		api.POST("/push/subscriptions", s.handleAddPushSubscription)
		api.DELETE("/push/subscriptions", s.handleRemovePushSubscription)

		api.GET("/calls/history", s.handleCallHistory)
		api.GET("/calls/active", s.handleActiveCalls)
	}

	internal := s.engine.Group("/internal", s.internalAuth())
	{
		internal.POST("/events/task", s.handleTaskEvent)
		internal.POST("/reminders", s.handleReminder)
	}
}

// internalAuth guards the service-to-service surface with a shared
// token when one is configured.
func (s *Server) internalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.deps.Config.Server.InternalToken
		if token != "" && c.GetHeader("X-Internal-Token") != token {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.deps.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
}

// Start serves until SIGINT/SIGTERM, then drains connections.
func (s *Server) Start() error {
	go func() {
		s.deps.Log.Infof("server listening on :%s", s.deps.Config.Server.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Log.Errorf("server error: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	s.deps.Log.Infof("shutdown signal received")

	s.deps.Registry.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	s.deps.Log.Infof("server stopped")
	return nil
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrAlreadyExists), errors.Is(err, apperrors.ErrCallConflict),
		errors.Is(err, apperrors.ErrInvalidCallTransition):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), httpdto.NewErrorResponse(err.Error(), errorCode(err)))
}
