package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/aiverse/internal/common"
	"github.com/suPer8Hu/aiverse/internal/models"
	"github.com/suPer8Hu/aiverse/internal/users"
)

type emailReq struct {
	Email string `json:"email"`
}

type verifyCodeReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	DOB      string `json:"dob"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func publicUser(u *models.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"dob":   u.DOB,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) SendCode(c *gin.Context) {
	var req emailReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.UserSvc.SendVerificationCode(c.Request.Context(), req.Email); err != nil {
		failErr(c, err)
		return
	}
	common.Msg(c, "Verification code sent", gin.H{})
}

func (h *Handler) VerifyCode(c *gin.Context) {
	var req verifyCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.UserSvc.VerifyCode(c.Request.Context(), req.Email, req.Code); err != nil {
		failErr(c, err)
		return
	}
	common.Msg(c, "Email verified", gin.H{"emailVerified": true})
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	user, err := h.UserSvc.Register(c.Request.Context(), users.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		DOB:      req.DOB,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	common.Msg(c, "Account Created Successfully", publicUser(user))
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	token, user, err := h.UserSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, gin.H{
		"accessToken": token,
		"user":        publicUser(user),
	})
}

// Logout is stateless: tokens live until they expire and clients drop them.
func (h *Handler) Logout(c *gin.Context) {
	common.Msg(c, "Logged out", nil)
}

func (h *Handler) Me(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	user, err := h.UserSvc.Me(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, user)
}
