package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"autopay/internal/config"
	"autopay/internal/infrastructure/audit"
	"autopay/internal/infrastructure/metrics"
	"autopay/internal/repository"
	"autopay/internal/service"
	"autopay/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	Settlement *service.SettlementService
	References *service.ReferenceService
	Manual     *service.ManualPaymentService
	Roster     *service.RosterService
	Members    *service.MemberService
	WebhookLog *audit.WebhookLog
	Metrics    *metrics.SettlementMetrics
	Logger     *zap.Logger
}

// Handler holds every route handler.
type Handler struct {
	settlement *service.SettlementService
	references *service.ReferenceService
	manual     *service.ManualPaymentService
	roster     *service.RosterService
	members    *service.MemberService
	webhookLog *audit.WebhookLog
	metrics    *metrics.SettlementMetrics
	logger     *zap.Logger

	webhookHash string
	resultPath  string
}

func NewHandler(cfg *config.Config, s Services) *Handler {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resultPath := cfg.Server.ResultPath
	if resultPath == "" {
		resultPath = "/thanks"
	}
	return &Handler{
		settlement:  s.Settlement,
		references:  s.References,
		manual:      s.Manual,
		roster:      s.Roster,
		members:     s.Members,
		webhookLog:  s.WebhookLog,
		metrics:     s.Metrics,
		logger:      logger.Named("http"),
		webhookHash: cfg.Gateway.WebhookHash,
		resultPath:  resultPath,
	}
}

// ============================================================
// Reference issuance
// ============================================================

// IssueTxRef creates the pending transaction the payer is about to pay for.
// POST /tx_ref
func (h *Handler) IssueTxRef(c *gin.Context) {
	var req service.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	tx, err := h.references.Issue(c.Request.Context(), &req)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
		return
	case errors.Is(err, service.ErrReferenceCollision):
		response.BusinessError(c, http.StatusConflict, response.CodeReferenceConflict, err.Error())
		return
	default:
		h.logger.Error("issue tx_ref failed", zap.Error(err))
		response.ServerError(c, "could not issue a transaction reference")
		return
	}

	response.Success(c, gin.H{
		"tx_ref":   tx.TxRef,
		"status":   tx.Status,
		"amount":   tx.Amount,
		"donation": tx.Donation,
	})
}

// ============================================================
// Roster
// ============================================================

// Names lists the payers of one group.
// GET /names?fee_type=xxx&part=xxx
func (h *Handler) Names(c *gin.Context) {
	names, err := h.roster.Names(c.Request.Context(), c.Query("fee_type"), c.Query("part"))
	if err != nil {
		h.rosterError(c, err)
		return
	}
	response.Success(c, gin.H{"names": names})
}

// AddName lists a payer on a group sheet.
// POST /add-name
func (h *Handler) AddName(c *gin.Context) {
	var req service.AddNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	added, err := h.roster.AddName(c.Request.Context(), &req)
	if err != nil {
		h.rosterError(c, err)
		return
	}
	response.Success(c, gin.H{"added": added})
}

func (h *Handler) rosterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrLedgerDisabled):
		response.BusinessError(c, http.StatusServiceUnavailable, response.CodeBusinessError, err.Error())
	default:
		h.logger.Error("roster request failed", zap.Error(err))
		response.ServerError(c, "external ledger request failed")
	}
}

// ============================================================
// Members
// ============================================================

// MemberTotal returns the member's settled total.
// GET /members/:id/total
func (h *Handler) MemberTotal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "invalid member id")
		return
	}

	total, err := h.members.Amount(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
			return
		}
		h.logger.Error("member total failed", zap.Int64("member_id", id), zap.Error(err))
		response.ServerError(c, "could not compute total")
		return
	}
	response.Success(c, gin.H{"member_id": id, "total": total})
}

// ============================================================
// Result view
// ============================================================

// Thanks returns what the result page shows after a callback redirect.
// GET /thanks?message=xxx&link_mssg=xxx&total=xxx
func (h *Handler) Thanks(c *gin.Context) {
	message := c.DefaultQuery("message", messageFailed)
	title := "Sorry 😕"
	if strings.Contains(strings.ToLower(message), "thank") {
		title = "Thank you ❤️✨"
	}

	data := gin.H{
		"title":     title,
		"message":   message,
		"link_mssg": c.DefaultQuery("link_mssg", linkTryAgain),
	}
	if total, err := strconv.ParseInt(c.Query("total"), 10, 64); err == nil {
		data["total"] = total
	}
	response.Success(c, data)
}
