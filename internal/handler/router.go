package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter wires every route. gatherer serves /metrics; nil disables it.
func SetupRouter(h *Handler, adminToken string, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Gateway notifications
	r.POST("/payment-webhook", h.PaymentWebhook)
	r.GET("/payment-callback", h.PaymentCallback)

	r.POST("/tx_ref", h.IssueTxRef)
	r.GET("/names", h.Names)
	r.GET("/thanks", h.Thanks)
	r.GET("/members/:id/total", h.MemberTotal)

	admin := r.Group("/", AdminAuth(adminToken))
	{
		admin.POST("/add-payment", h.AddPayment)
		admin.POST("/add-name", h.AddName)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
