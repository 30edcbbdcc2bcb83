package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legeling/xianyu-auto-reply/internal/credential"
	"github.com/legeling/xianyu-auto-reply/internal/http/dto"
	"github.com/legeling/xianyu-auto-reply/internal/http/middleware"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

type AccountHandler struct {
	accountService service.AccountService
}

func NewAccountHandler(accountService service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// ownerID reads the authenticated owner. RequireAuth guarantees presence on
// every route this handler serves.
func ownerID(c *gin.Context) int64 {
	p, _ := middleware.GetPrincipal(c.Request.Context())
	return p.OwnerID
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (h *AccountHandler) List(c *gin.Context) {
	list, err := h.accountService.List(c.Request.Context(), ownerID(c))
	if err != nil {
		writeError(c, err, "failed to list accounts")
		return
	}
	c.JSON(http.StatusOK, dto.ToAccountListResponse(list))
}

func (h *AccountHandler) Get(c *gin.Context) {
	ov, err := h.accountService.Get(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to load account")
		return
	}
	c.JSON(http.StatusOK, dto.ToAccountResponse(ov.Account, ov.Status))
}

func (h *AccountHandler) Add(c *gin.Context) {
	var req dto.AddAccountRequest
	if !bind(c, &req) {
		return
	}

	owner := ownerID(c)
	acct, err := h.accountService.Add(c.Request.Context(), owner, req.ID, credential.FromString(req.Credential))
	if err != nil {
		writeError(c, err, "failed to add account")
		return
	}

	ov, err := h.accountService.Get(c.Request.Context(), owner, acct.ID)
	if err != nil {
		writeError(c, err, "failed to load account")
		return
	}
	c.JSON(http.StatusCreated, dto.ToAccountResponse(ov.Account, ov.Status))
}

func (h *AccountHandler) Remove(c *gin.Context) {
	if err := h.accountService.Remove(c.Request.Context(), ownerID(c), c.Param("id")); err != nil {
		writeError(c, err, "failed to remove account")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) UpdateCredential(c *gin.Context) {
	var req dto.UpdateCredentialRequest
	if !bind(c, &req) {
		return
	}

	restarted, err := h.accountService.UpdateCredential(c.Request.Context(), ownerID(c), c.Param("id"), credential.FromString(req.Credential))
	if err != nil {
		writeError(c, err, "failed to update credential")
		return
	}
	c.JSON(http.StatusOK, dto.UpdateCredentialResponse{Restarted: restarted})
}

func (h *AccountHandler) SetStatus(c *gin.Context) {
	var req dto.ToggleRequest
	if !bind(c, &req) {
		return
	}
	if err := h.accountService.SetEnabled(c.Request.Context(), ownerID(c), c.Param("id"), *req.Enabled); err != nil {
		writeError(c, err, "failed to update account status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func (h *AccountHandler) Keywords(c *gin.Context) {
	rules, err := h.accountService.Keywords(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to load keywords")
		return
	}
	c.JSON(http.StatusOK, dto.ToKeywordRuleListResponse(rules))
}

func (h *AccountHandler) UpdateKeywords(c *gin.Context) {
	var req dto.UpdateKeywordsRequest
	if !bind(c, &req) {
		return
	}

	id := c.Param("id")
	if err := h.accountService.UpdateKeywords(c.Request.Context(), ownerID(c), id, req.ToRules(id)); err != nil {
		writeError(c, err, "failed to update keywords")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(req.Keywords)})
}

func (h *AccountHandler) AddImageKeyword(c *gin.Context) {
	var req dto.AddImageKeywordRequest
	if !bind(c, &req) {
		return
	}

	rule, err := h.accountService.AddImageKeyword(c.Request.Context(), ownerID(c), c.Param("id"), req.Keyword, req.ItemID, req.ImageURL)
	if err != nil {
		writeError(c, err, "failed to add image keyword")
		return
	}
	c.JSON(http.StatusCreated, dto.ToKeywordRuleResponse(*rule))
}

func (h *AccountHandler) RemoveKeyword(c *gin.Context) {
	var q dto.RemoveKeywordQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid keyword query", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.ItemID != nil && *q.ItemID == "" {
		q.ItemID = nil
	}

	if err := h.accountService.RemoveKeywordRule(c.Request.Context(), ownerID(c), c.Param("id"), q.Keyword, q.ItemID); err != nil {
		writeError(c, err, "failed to remove keyword")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AccountHandler) SetRemark(c *gin.Context) {
	var req dto.RemarkRequest
	if !bind(c, &req) {
		return
	}
	if err := h.accountService.SetRemark(c.Request.Context(), ownerID(c), c.Param("id"), req.Remark); err != nil {
		writeError(c, err, "failed to update remark")
		return
	}
	c.JSON(http.StatusOK, gin.H{"remark": req.Remark})
}

func (h *AccountHandler) SetAutoConfirm(c *gin.Context) {
	var req dto.ToggleRequest
	if !bind(c, &req) {
		return
	}
	if err := h.accountService.SetAutoConfirm(c.Request.Context(), ownerID(c), c.Param("id"), *req.Enabled); err != nil {
		writeError(c, err, "failed to update auto-confirm")
		return
	}
	c.JSON(http.StatusOK, gin.H{"auto_confirm": *req.Enabled})
}

func (h *AccountHandler) SetPauseDuration(c *gin.Context) {
	var req dto.SetPauseDurationRequest
	if !bind(c, &req) {
		return
	}
	if err := h.accountService.SetPauseDuration(c.Request.Context(), ownerID(c), c.Param("id"), *req.Minutes); err != nil {
		writeError(c, err, "failed to update pause duration")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pause_minutes": *req.Minutes})
}

func (h *AccountHandler) DefaultReply(c *gin.Context) {
	p, err := h.accountService.DefaultReply(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to load default reply")
		return
	}
	c.JSON(http.StatusOK, dto.ToDefaultReplyResponse(p))
}

func (h *AccountHandler) SetDefaultReply(c *gin.Context) {
	var req dto.DefaultReplyRequest
	if !bind(c, &req) {
		return
	}

	policy := req.ToPolicy(c.Param("id"))
	if err := h.accountService.SetDefaultReply(c.Request.Context(), ownerID(c), policy); err != nil {
		writeError(c, err, "failed to update default reply")
		return
	}
	c.JSON(http.StatusOK, dto.ToDefaultReplyResponse(&policy))
}

func (h *AccountHandler) ClearDefaultReplyRecords(c *gin.Context) {
	n, err := h.accountService.ClearDefaultReplyRecords(c.Request.Context(), ownerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "failed to clear default reply records")
		return
	}
	c.JSON(http.StatusOK, dto.ClearRecordsResponse{Cleared: n})
}

func (h *AccountHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if !bind(c, &req) {
		return
	}

	err := h.accountService.SendMessage(c.Request.Context(), ownerID(c), c.Param("id"), req.ConversationID, req.RecipientID, req.Text)
	if err != nil {
		writeError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sent"})
}

// Reply resolves and sends a reply for a message delivered out of band.
func (h *AccountHandler) Reply(c *gin.Context) {
	var req dto.ReplyRequest
	if !bind(c, &req) {
		return
	}

	out, err := h.accountService.Reply(c.Request.Context(), ownerID(c), c.Param("id"), req.ToInbound())
	if err != nil {
		writeError(c, err, "failed to reply")
		return
	}
	c.JSON(http.StatusOK, dto.ToReplyResponse(out))
}
