// Package server exposes the HTTP surface: the Graph webhook, the site
// verification endpoint, health and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verificaicode/verifica-ai/internal/types"
)

// Processor is the pipeline surface the HTTP layer needs.
type Processor interface {
	Process(ctx context.Context, msg types.InboundMessage)
	Answer(ctx context.Context, msg types.InboundMessage) (string, error)
}

// Server handles inbound HTTP traffic.
type Server struct {
	engine       *gin.Engine
	processor    Processor
	verifyToken  string
	botAccountID string
	logger       *zap.Logger
}

// New creates the HTTP server. gatherer serves /metrics; nil falls back to
// the default prometheus gatherer.
func New(processor Processor, verifyToken, botAccountID string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:       engine,
		processor:    processor,
		verifyToken:  verifyToken,
		botAccountID: botAccountID,
		logger:       logger,
	}

	engine.GET("/webhook", s.handleWebhookChallenge)
	engine.POST("/webhook", s.handleWebhook)
	engine.POST("/verify", s.handleVerify)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// webhookEnvelope is the Graph API event wrapper.
type webhookEnvelope struct {
	Entry []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Read    map[string]any  `json:"read"`
	Message *messagePayload `json:"message"`
}

type messagePayload struct {
	Text          string             `json:"text"`
	IsUnsupported bool               `json:"is_unsupported"`
	Attachments   []types.Attachment `json:"attachments"`
}

// handleWebhookChallenge answers the Graph subscription handshake.
func (s *Server) handleWebhookChallenge(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" && c.Query("hub.verify_token") == s.verifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.Status(http.StatusForbidden)
}

// handleWebhook unwraps one Graph event and hands it to the pipeline. The
// transport expects a prompt 200; processing continues in the background.
func (s *Server) handleWebhook(c *gin.Context) {
	var envelope webhookEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		s.logger.Warn("malformed webhook payload", zap.Error(err))
		c.Status(http.StatusOK)
		return
	}

	msg, ok := s.extract(envelope)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	go s.processor.Process(context.WithoutCancel(c.Request.Context()), msg)
	c.Status(http.StatusOK)
}

// extract filters the envelope down to a processable message: echoes of the
// bot's own messages, read receipts and message-less events are dropped.
func (s *Server) extract(envelope webhookEnvelope) (types.InboundMessage, bool) {
	if len(envelope.Entry) == 0 || len(envelope.Entry[0].Messaging) == 0 {
		return types.InboundMessage{}, false
	}

	event := envelope.Entry[0].Messaging[0]
	if event.Sender.ID == s.botAccountID || event.Read != nil || event.Message == nil {
		return types.InboundMessage{}, false
	}

	return types.InboundMessage{
		SenderID:      event.Sender.ID,
		Text:          event.Message.Text,
		IsUnsupported: event.Message.IsUnsupported,
		Attachments:   event.Message.Attachments,
	}, true
}

type verifyRequest struct {
	VerifyToken string          `json:"VERIFY_TOKEN"`
	Link        string          `json:"link"`
	Message     *messagePayload `json:"message"`
}

// handleVerify runs a synchronous verification for the site frontend. The
// transport-level oddity of answering auth failures with 200 is kept for
// client compatibility.
func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.VerifyToken != s.verifyToken {
		c.JSON(http.StatusOK, gin.H{"error": "401", "type": "INVALID_TOKEN"})
		return
	}

	msg := types.InboundMessage{
		SenderID: "site-" + uuid.NewString(),
		Text:     req.Link,
	}
	if req.Message != nil {
		msg.IsUnsupported = req.Message.IsUnsupported
		msg.Attachments = req.Message.Attachments
		if msg.Text == "" {
			msg.Text = req.Message.Text
		}
	}

	response, err := s.processor.Answer(c.Request.Context(), msg)
	if err != nil {
		s.logger.Error("site verification failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"error": "500", "type": "INTERNAL_ERROR"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": response})
}

// Keepalive pings url on every tick until ctx is cancelled. Some hosting
// tiers idle the process out without it.
func Keepalive(ctx context.Context, url string, interval time.Duration, logger *zap.Logger) {
	if url == "" || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &http.Client{Timeout: interval}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				logger.Warn("keepalive request build failed", zap.Error(err))
				continue
			}
			resp, err := client.Do(req)
			if err != nil {
				logger.Warn("keepalive ping failed", zap.Error(err))
				continue
			}
			resp.Body.Close()
		}
	}
}
