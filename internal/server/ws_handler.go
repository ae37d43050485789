package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskchat/internal/transport/httpdto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWS authenticates and upgrades a websocket connection, then
// replays messages that arrived while the user was offline.
func (s *Server) HandleWS(c *gin.Context) {
	token := extractWSToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("missing token", "UNAUTHORIZED"))
		return
	}

	userID, err := s.deps.Auth.ParseAccessToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid token", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.deps.Log.Logger.Error("websocket upgrade failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	rc := s.deps.Registry.Register(userID)
	client := NewClient(conn, rc, s.deps)

	go s.deps.Messages.FlushUndelivered(context.Background(), userID, rc)
	go client.Run()
}

func extractWSToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}
