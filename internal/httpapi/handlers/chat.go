package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/aiverse/internal/common"
	"github.com/suPer8Hu/aiverse/internal/httpapi/middleware"
)

func ok(c *gin.Context, data any) {
	common.OK(c, data)
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	common.Fail(c, httpStatus, code, msg)
}

// failErr maps a service error onto the response envelope.
func failErr(c *gin.Context, err error) {
	status, code := common.Status(err)
	if status >= http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).
			Str("path", c.FullPath()).
			Msg("request failed")
		_ = c.Error(err)
	}
	fail(c, status, code, common.Message(err))
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func parseUserID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

type createSessionReq struct {
	UserID json.Number `json:"userId"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	owner, valid := parseUserID(req.UserID.String())
	if !valid {
		failErr(c, common.Validation("userId is required"))
		return
	}
	if owner != uid {
		failErr(c, common.Forbidden("cannot create sessions for another user"))
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), owner)
	if err != nil {
		failErr(c, err)
		return
	}
	common.Created(c, sess)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	owner, valid := parseUserID(c.Param("id"))
	if !valid {
		failErr(c, common.Validation("invalid userId"))
		return
	}
	if owner != uid {
		failErr(c, common.Forbidden("cannot list sessions of another user"))
		return
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), owner)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, sessions)
}

func (h *Handler) GetChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sess, err := h.ChatSvc.GetSession(c.Request.Context(), uid, c.Param("chatId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, sess)
}

type sendMessageReq struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		failErr(c, common.Validation("chatId is required"))
		return
	}

	reply, title, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, req.ChatID, req.Message)
	if err != nil {
		failErr(c, err)
		return
	}

	ok(c, gin.H{
		"response": reply,
		"title":    title,
	})
}

func (h *Handler) ChatHistory(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.ChatSvc.History(c.Request.Context(), uid, c.Param("chatId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, msgs)
}

func (h *Handler) DeleteChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	if err := h.ChatSvc.DeleteSession(c.Request.Context(), uid, c.Param("chatId")); err != nil {
		failErr(c, err)
		return
	}
	common.Msg(c, "Session deleted", nil)
}

func (h *Handler) RefreshChatTitle(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	title, err := h.ChatSvc.RefreshTitle(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{"title": title})
}
