package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/teemow/mailsync/internal/logging"
	"github.com/teemow/mailsync/internal/model"
	"github.com/teemow/mailsync/internal/service"
	"github.com/teemow/mailsync/internal/store"
)

// Error codes returned in the "error" field of failed responses.
const (
	errCodeReconnect      = "reconnect_required"
	errCodeInvalidState   = "invalid_state"
	errCodeExpiredState   = "expired_state"
	errCodeConsumedState  = "state_already_used"
	errCodeExchangeFailed = "token_exchange_failed"
	errCodeUnsupported    = "unsupported_provider"
	errCodeNotFound       = "account_not_found"
	errCodeNotSupported   = "not_supported"
	errCodeRateLimited    = "provider_rate_limited"
	errCodeUnavailable    = "provider_unavailable"
	errCodeBadRequest     = "bad_request"
	errCodeAccessDenied   = "access_denied"
	errCodeInternal       = "internal_error"
)

const defaultMessagesPerPage = 50

// SyncRequest is the optional body of the sync endpoints.
type SyncRequest struct {
	MaxMessages int    `json:"max_messages" form:"max_messages"`
	Folder      string `json:"folder" form:"folder"`
}

type routes struct {
	svc    *service.Service
	logger *slog.Logger
}

// RegisterRoutes mounts the mail API on r.
func RegisterRoutes(r gin.IRouter, svc *service.Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &routes{svc: svc, logger: logger.With("component", "http")}

	r.GET("/auth/:provider/url", h.authURL)
	r.GET("/oauth-callback/:provider", h.oauthCallback)

	users := r.Group("/users/:user_id")
	{
		users.GET("/accounts", h.listAccounts)
		users.POST("/sync", h.syncUser)
		users.GET("/sync/status", h.syncStatus)
		users.GET("/messages", h.listMessages)
		users.POST("/accounts/:account_id/sync", h.syncAccount)
		users.POST("/accounts/:account_id/send", h.send)
		users.DELETE("/accounts/:account_id", h.disconnect)
	}
}

func (h *routes) authURL(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "user_id is required"})
		return
	}
	url, err := h.svc.IssueAuthURL(c.Request.Context(), userID, c.Param("provider"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": url, "provider": c.Param("provider")})
}

func (h *routes) oauthCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeAccessDenied, "detail": reason})
		return
	}
	acc, err := h.svc.CompleteOAuth(c.Request.Context(), c.Query("code"), c.Query("state"), c.Param("provider"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "account": acc})
}

func (h *routes) listAccounts(c *gin.Context) {
	accounts, err := h.svc.ListAccounts(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "total": len(accounts)})
}

func (h *routes) syncUser(c *gin.Context) {
	req, ok := bindSync(c)
	if !ok {
		return
	}
	res := h.svc.SyncUser(c.Request.Context(), c.Param("user_id"), req.MaxMessages, req.Folder)
	c.JSON(http.StatusOK, res)
}

func (h *routes) syncAccount(c *gin.Context) {
	req, ok := bindSync(c)
	if !ok {
		return
	}
	res, err := h.svc.SyncAccount(c.Request.Context(), c.Param("account_id"), c.Param("user_id"), req.MaxMessages, req.Folder)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *routes) syncStatus(c *gin.Context) {
	status, err := h.svc.SyncStatus(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *routes) listMessages(c *gin.Context) {
	q := store.MessageQuery{
		UserID:    c.Param("user_id"),
		AccountID: c.Query("account_id"),
		Folder:    c.Query("folder"),
		Limit:     defaultMessagesPerPage,
	}
	var err error
	if v := c.Query("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "limit must be a number"})
			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "offset must be a number"})
			return
		}
	}
	if v := c.Query("unread"); v != "" {
		if q.Unread, err = strconv.ParseBool(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "unread must be a boolean"})
			return
		}
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": len(msgs), "limit": q.Limit, "offset": q.Offset})
}

func (h *routes) send(c *gin.Context) {
	var req service.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": err.Error()})
		return
	}
	if len(req.To) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "at least one recipient is required"})
		return
	}
	id, err := h.svc.SendEmail(c.Request.Context(), c.Param("account_id"), c.Param("user_id"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message_id": id})
}

func (h *routes) disconnect(c *gin.Context) {
	if err := h.svc.DisconnectAccount(c.Request.Context(), c.Param("account_id"), c.Param("user_id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// bindSync reads SyncRequest from a JSON body or the query string.
func bindSync(c *gin.Context) (SyncRequest, bool) {
	var req SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": err.Error()})
			return req, false
		}
	} else if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": err.Error()})
		return req, false
	}
	if req.MaxMessages < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errCodeBadRequest, "detail": "max_messages must not be negative"})
		return req, false
	}
	return req, true
}

// fail maps err onto a status code and error code.
func (h *routes) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), logging.Err(err))
	} else {
		h.logger.Info("request rejected", "path", c.FullPath(), "code", code, logging.Err(err))
	}
	if code == errCodeReconnect {
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(status, gin.H{"error": code, "detail": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrReAuthRequired), errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, errCodeReconnect
	case errors.Is(err, model.ErrExpiredState):
		return http.StatusBadRequest, errCodeExpiredState
	case errors.Is(err, model.ErrAlreadyConsumed):
		return http.StatusBadRequest, errCodeConsumedState
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusBadRequest, errCodeInvalidState
	case errors.Is(err, model.ErrTokenExchangeFailed):
		return http.StatusBadRequest, errCodeExchangeFailed
	case errors.Is(err, model.ErrUnsupportedProvider):
		return http.StatusBadRequest, errCodeUnsupported
	case errors.Is(err, model.ErrAccountNotFound):
		return http.StatusNotFound, errCodeNotFound
	case errors.Is(err, model.ErrNotSupported):
		return http.StatusNotImplemented, errCodeNotSupported
	case errors.Is(err, model.ErrProviderRateLimited):
		return http.StatusTooManyRequests, errCodeRateLimited
	case errors.Is(err, model.ErrProviderUnavailable), errors.Is(err, model.ErrRefreshFailed):
		return http.StatusBadGateway, errCodeUnavailable
	default:
		return http.StatusInternalServerError, errCodeInternal
	}
}
