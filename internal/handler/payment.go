package handler

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"autopay/internal/infrastructure/gateway"
	"autopay/internal/service"
	"autopay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messagePaid     = "Thank you for completing the payment ❤️✨"
	messageDonated  = "Thank you for donating ❤️✨"
	messageFailed   = "That didn't really work out 😕"
	messageChecking = "We could not confirm your payment yet. If you were charged, it will be applied shortly 🙏"
	linkPayAgain    = "Pay again?"
	linkTryAgain    = "Try again?"
)

// flexID accepts the gateway transaction id as a JSON number or string.
type flexID int64

func (id *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(f)
	}
	*id = flexID(n)
	return nil
}

// webhookPayload covers both the flat delivery ({txRef, id, status, ...}) and
// the enveloped one ({event, data: {tx_ref, id, status, ...}}).
type webhookPayload struct {
	ID        flexID          `json:"id"`
	TxRef     string          `json:"txRef"`
	TxRefAlt  string          `json:"tx_ref"`
	Status    string          `json:"status"`
	Amount    float64         `json:"amount"`
	Customer  webhookCustomer `json:"customer"`
	Meta      json.RawMessage `json:"meta"`
	Data      *webhookPayload `json:"data"`
	EventType string          `json:"event"`
}

type webhookCustomer struct {
	Name     string `json:"name"`
	FullName string `json:"fullName"`
}

func (p *webhookPayload) notification() service.Notification {
	body := p
	if p.Data != nil {
		body = p.Data
	}
	ref := body.TxRef
	if ref == "" {
		ref = body.TxRefAlt
	}
	n := service.Notification{
		Channel:     service.ChannelWebhook,
		TxRef:       ref,
		Status:      body.Status,
		GatewayTxID: int64(body.ID),
		Draft: service.Draft{
			PayerName: body.Customer.Name,
			Amount:    int64(body.Amount + 0.5),
		},
	}
	if n.Draft.PayerName == "" {
		n.Draft.PayerName = body.Customer.FullName
	}

	// Metadata is best effort: some deliveries send it as a list.
	var meta gateway.Meta
	if len(body.Meta) > 0 && json.Unmarshal(body.Meta, &meta) == nil {
		n.Draft.FeeType = meta.FeeType
		n.Draft.Part = meta.Part
		n.Draft.Donation = bool(meta.Donation)
		n.Draft.RegNo = meta.RegNo
	}
	return n
}

// ============================================================
// Gateway notifications
// ============================================================

// PaymentWebhook handles the gateway's server-to-server push.
// POST /payment-webhook
func (h *Handler) PaymentWebhook(c *gin.Context) {
	if !h.webhookAuthentic(c.GetHeader("verif-hash")) {
		h.metrics.RecordWebhookAuthFailure()
		h.logger.Warn("webhook rejected: bad verif-hash", zap.String("client_ip", c.ClientIP()))
		response.Unauthorized(c, "invalid signature")
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "unreadable body")
		return
	}
	path, err := h.webhookLog.Save(raw)
	if err != nil {
		h.logger.Error("webhook archive failed", zap.Error(err))
		response.ServerError(c, "could not archive notification")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Warn("webhook payload undecodable", zap.String("archive", path), zap.Error(err))
		response.Status(c, http.StatusBadRequest, response.CodeValidationError, "malformed payload", nil)
		return
	}
	n := payload.notification()
	h.logger.Info("webhook received", zap.String("tx_ref", n.TxRef), zap.String("status", n.Status),
		zap.String("event", payload.EventType), zap.String("archive", path))

	res, err := h.settlement.Settle(c.Request.Context(), n)
	if err != nil {
		response.ServerError(c, "settlement failed")
		return
	}
	writeOutcome(c, res)
}

func (h *Handler) webhookAuthentic(got string) bool {
	if h.webhookHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookHash)) == 1
}

type callbackQuery struct {
	Status        string `form:"status"`
	TxRef         string `form:"tx_ref"`
	TransactionID string `form:"transaction_id"`
}

// PaymentCallback handles the payer's browser returning from the gateway. The
// query string is untrusted; only gateway verification can settle.
// GET /payment-callback?status=xxx&tx_ref=xxx&transaction_id=xxx
func (h *Handler) PaymentCallback(c *gin.Context) {
	var q callbackQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.redirectResult(c, messageFailed, linkTryAgain, nil)
		return
	}
	id, _ := strconv.ParseInt(strings.TrimSpace(q.TransactionID), 10, 64)

	res, err := h.settlement.Settle(c.Request.Context(), service.Notification{
		Channel:     service.ChannelCallback,
		TxRef:       q.TxRef,
		Status:      q.Status,
		GatewayTxID: id,
	})
	if err != nil {
		h.redirectResult(c, messageFailed, linkTryAgain, nil)
		return
	}

	switch {
	case res.Outcome.Success():
		message := messagePaid
		if res.Transaction != nil && res.Transaction.Donation {
			message = messageDonated
		}
		h.redirectResult(c, message, linkPayAgain, res.Total)
	case res.Outcome == service.OutcomeVerificationError:
		h.redirectResult(c, messageChecking, linkTryAgain, nil)
	default:
		h.redirectResult(c, messageFailed, linkTryAgain, nil)
	}
}

func (h *Handler) redirectResult(c *gin.Context, message, link string, total *int64) {
	q := url.Values{}
	q.Set("message", message)
	q.Set("link_mssg", link)
	if total != nil {
		q.Set("total", strconv.FormatInt(*total, 10))
	}
	c.Redirect(http.StatusFound, h.resultPath+"?"+q.Encode())
}

// ============================================================
// Manual entry
// ============================================================

// AddPayment records an offline payment.
// POST /add-payment
func (h *Handler) AddPayment(c *gin.Context) {
	var req service.ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.manual.Record(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrReferenceCollision):
			response.BusinessError(c, http.StatusConflict, response.CodeReferenceConflict, err.Error())
		default:
			h.logger.Error("manual payment failed", zap.Error(err))
			response.ServerError(c, "could not record payment")
		}
		return
	}
	writeOutcome(c, res)
}

// writeOutcome maps a settlement decision onto the status line the gateway
// reads: 2xx stops redelivery, 4xx is final, 5xx asks for another attempt.
func writeOutcome(c *gin.Context, res *service.Result) {
	data := gin.H{"outcome": res.Outcome}
	if res.Transaction != nil {
		data["tx_ref"] = res.Transaction.TxRef
		data["status"] = res.Transaction.Status
	}
	if res.Total != nil {
		data["total"] = *res.Total
	}
	if res.Reason != "" {
		data["reason"] = res.Reason
	}

	switch res.Outcome {
	case service.OutcomeSettled:
		response.Success(c, data)
	case service.OutcomeAlreadySettled:
		response.Status(c, http.StatusOK, response.CodeAlreadySettled, "already settled", data)
	case service.OutcomeRejected:
		response.Status(c, http.StatusExpectationFailed, response.CodeRejected, "payment rejected", data)
	case service.OutcomeValidationError:
		response.Status(c, http.StatusBadRequest, response.CodeValidationError, "invalid notification", data)
	case service.OutcomeVerificationError:
		response.Status(c, http.StatusBadGateway, response.CodeVerificationError, "gateway verification unavailable", data)
	default:
		response.ServerError(c, "unknown outcome")
	}
}
