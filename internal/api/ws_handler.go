package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"campushire/internal/auth"
	"campushire/internal/notify"
)

// WsHandler 负责 WebSocket 鉴权、频道加入与消息转发。
// 客户端先发 auth 消息，再发 join 消息声明要订阅的频道：
// 候选人只能加入自己的频道，管理员可加入管理频道或任意候选人频道。
type WsHandler struct {
	redisClient    *redis.Client
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(redisClient *redis.Client, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type wsClientMessage struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	CandidateID uint   `json:"candidateId,omitempty"`
}

// HandleConnection 升级连接并启动读写循环。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(slog.String("client_ip", c.ClientIP()))

	channelCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go h.readLoop(ctx, conn, channelCh, errCh, cancel, baseLog)

	var channel string
	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket handshake failed", slog.Any("error", err))
		}
		return
	case channel = <-channelCh:
	}

	connLog := baseLog.With(slog.String("channel", channel))
	go h.subscribeLoop(ctx, conn, channel, errCh, cancel, connLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			connLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			connLog.Info("websocket connection closed")
		}
	}
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	channelCh chan<- string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	var claims *auth.TokenClaims
	joined := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			errCh <- fmt.Errorf("read message: %w", err)
			cancel()
			return
		}

		if claims == nil {
			var authMsg wsClientMessage
			if err := json.Unmarshal(message, &authMsg); err != nil || authMsg.Type != "auth" || authMsg.Token == "" {
				writeClose(conn, websocket.ClosePolicyViolation, "auth required")
				errCh <- fmt.Errorf("invalid auth message")
				cancel()
				return
			}

			parsed, err := h.authService.ValidateToken(authMsg.Token)
			if err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
				errCh <- fmt.Errorf("validate token: %w", err)
				cancel()
				return
			}
			if parsed.TokenType != "access" {
				writeClose(conn, websocket.ClosePolicyViolation, "access token required")
				errCh <- fmt.Errorf("invalid token type: %s", parsed.TokenType)
				cancel()
				return
			}

			claims = parsed
			log.Info("websocket authenticated",
				slog.Uint64("user_id", uint64(claims.UserID)),
				slog.String("role", claims.Role),
			)
			continue
		}

		if !joined {
			channel, err := h.resolveChannel(claims, message)
			if err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "join rejected")
				errCh <- err
				cancel()
				return
			}
			joined = true
			channelCh <- channel
			continue
		}

		// 加入后无需处理额外消息，保持循环以检测客户端断开。
	}
}

// resolveChannel 校验 join 消息并返回允许订阅的 Redis 频道。
func (h *WsHandler) resolveChannel(claims *auth.TokenClaims, message []byte) (string, error) {
	var joinMsg wsClientMessage
	if err := json.Unmarshal(message, &joinMsg); err != nil {
		return "", fmt.Errorf("decode join payload: %w", err)
	}

	switch joinMsg.Type {
	case "join-candidate":
		if joinMsg.CandidateID == 0 {
			return "", fmt.Errorf("join-candidate requires candidateId")
		}
		if claims.Role != auth.RoleAdmin && !(claims.Role == auth.RoleCandidate && claims.UserID == joinMsg.CandidateID) {
			return "", fmt.Errorf("join-candidate denied for role %s", claims.Role)
		}
		return notify.CandidateChannel(joinMsg.CandidateID), nil
	case "join-admin":
		if claims.Role != auth.RoleAdmin {
			return "", fmt.Errorf("join-admin denied for role %s", claims.Role)
		}
		return notify.AdminChannel, nil
	default:
		return "", fmt.Errorf("unknown join type %q", joinMsg.Type)
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	channel string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel")

	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- fmt.Errorf("pubsub channel closed")
				cancel()
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				cancel()
				return
			}
		}
	}
}
