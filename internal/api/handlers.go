package api

import (
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/gin-gonic/gin"
)

const statusPage = `<html>
  <head><title>LeadPipe</title></head>
  <body style="font-family: sans-serif; margin: 40px">
    <h1>LeadPipe is running</h1>
    <p>WhatsApp webhook endpoint:</p>
    <pre>/webhook</pre>
  </body>
</html>
`

// HealthReport is the body of GET /healthz.
type HealthReport struct {
	Transport     string `json:"transport,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.indexHandler)
	s.router.POST("/", s.indexHandler)
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if receiver, ok := s.msgService.(messaging.WebhookReceiver); ok {
		s.router.GET("/webhook", gin.WrapF(receiver.WebhookHandler))
		s.router.POST("/webhook", gin.WrapF(receiver.WebhookHandler))
	} else {
		s.router.GET("/webhook", s.webhookIgnoreHandler)
		s.router.POST("/webhook", s.webhookIgnoreHandler)
	}

	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		s.router.POST("/twilio/webhook", gin.WrapF(tw.TwilioWebhookHandler))
	}
}

func (s *Server) indexHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(statusPage))
}

func (s *Server) healthHandler(c *gin.Context) {
	writeJSONResponse(c, http.StatusOK, models.Success(HealthReport{
		Transport:     s.transport,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}))
}

// webhookIgnoreHandler answers /webhook for transports that receive messages
// some other way, so gateway health checks keep passing.
func (s *Server) webhookIgnoreHandler(c *gin.Context) {
	if c.Request.Method == http.MethodGet {
		c.String(http.StatusOK, "Webhook is active")
		return
	}
	writeJSONResponse(c, http.StatusOK, models.Ignored("transport does not accept webhook messages"))
}
