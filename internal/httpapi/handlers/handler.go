package handlers

import (
	"github.com/suPer8Hu/aiverse/internal/chat"
	"github.com/suPer8Hu/aiverse/internal/config"
	"github.com/suPer8Hu/aiverse/internal/users"
)

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	UserSvc *users.Service
}

func NewHandler(cfg config.Config, chatSvc *chat.Service, userSvc *users.Service) *Handler {
	return &Handler{
		Cfg:     cfg,
		ChatSvc: chatSvc,
		UserSvc: userSvc,
	}
}
