package dto

import (
	"github.com/legeling/xianyu-auto-reply/internal/loginguard"
	"github.com/legeling/xianyu-auto-reply/internal/model"
)

type ChallengeResponse struct {
	SessionID string            `json:"session_id"`
	Status    model.LoginStatus `json:"status"`
	QRCode    string            `json:"qr_code"`
}

func ToChallengeResponse(s model.LoginSession) ChallengeResponse {
	return ChallengeResponse{SessionID: s.ID, Status: s.Status, QRCode: s.QRCode}
}

type ChallengeStatusResponse struct {
	SessionID string            `json:"session_id"`
	Status    loginguard.Status `json:"status"`
	AccountID string            `json:"account_id,omitempty"`
	Created   bool              `json:"created,omitempty"`
	Refresh   string            `json:"refresh,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func ToChallengeStatusResponse(id string, r loginguard.Result) ChallengeStatusResponse {
	resp := ChallengeStatusResponse{SessionID: id, Status: r.Status}
	if r.Session != nil {
		resp.Message = r.Session.Error
	}
	if r.Applied != nil {
		resp.AccountID = r.Applied.AccountID
		resp.Created = r.Applied.Created
		resp.Refresh = string(r.Applied.Refresh)
		if r.Applied.FallbackReason != "" {
			resp.Message = r.Applied.FallbackReason
		}
	}
	return resp
}
