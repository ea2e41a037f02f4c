package handler

import (
	"net/http"
	"strings"

	"github.com/fieldday/fieldday-backend/internal/config"
	"github.com/fieldday/fieldday-backend/internal/middleware"
	"github.com/fieldday/fieldday-backend/internal/service"
	ws "github.com/fieldday/fieldday-backend/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams live checkout state to the parent's browser.
type WSHandler struct {
	rdb             *redis.Client
	checkoutService *service.CheckoutService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, checkoutService *service.CheckoutService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:             rdb,
		checkoutService: checkoutService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// CheckoutStream godoc
// WS /ws/v1/parent/checkouts/:checkout_id/stream
// Upgrades to WebSocket and forwards checkout events as they are published:
// snapshot updates during selection and the paid event once settlement lands,
// so the "processing payment" screen flips without polling.
func (h *WSHandler) CheckoutStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	checkoutID, err := uuid.Parse(c.Param("checkout_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid checkout ID"})
		return
	}

	// Ownership check before the upgrade; Get enforces the parent boundary.
	if _, err := h.checkoutService.Get(c.Request.Context(), claims.UserID, checkoutID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "checkout not available"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("parent_id", claims.UserID).
		Str("checkout_id", checkoutID.String()).
		Logger()

	wsLog.Info().Msg("Parent connected")

	ctx := c.Request.Context()
	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.CheckoutChannel(checkoutID.String()))
	defer pubsub.Close()

	// Reader goroutine: pings keep the connection alive, anything else ends
	// the stream. Write access stays on the main loop.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		readPings(conn, pings, wsLog)
	}()

	events := pubsub.Channel()
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteRaw(conn, []byte(msg.Payload)); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed, closing stream")
				return
			}
		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readPings drains the client side of the connection until it closes,
// signaling keep-alive pings on the channel. The signal is lossy on purpose:
// a ping is dropped when one is already queued, so a stalled writer can never
// wedge the reader.
func readPings(conn *websocket.Conn, pings chan<- struct{}, log zerolog.Logger) {
	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Unexpected close")
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}
		if msg.Action == ws.ActionPing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}
