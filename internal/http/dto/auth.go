package dto

import "github.com/legeling/xianyu-auto-reply/internal/model"

type LoginRequest struct {
	Username string `json:"username" binding:"required,max=255"`
	Password string `json:"password" binding:"required,max=1024"`
}

type LoginResponse struct {
	Token    string `json:"token"`
	OwnerID  int64  `json:"owner_id,string"`
	Username string `json:"username"`
}

func ToLoginResponse(token string, o *model.Owner) *LoginResponse {
	return &LoginResponse{Token: token, OwnerID: o.ID, Username: o.Username}
}
