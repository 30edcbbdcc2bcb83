package dto

import (
	"time"

	"github.com/legeling/xianyu-auto-reply/internal/model"
	"github.com/legeling/xianyu-auto-reply/internal/orchestrator"
	"github.com/legeling/xianyu-auto-reply/internal/service"
)

type AddAccountRequest struct {
	ID         string `json:"id" binding:"required,max=128"`
	Credential string `json:"credential" binding:"required"`
}

type UpdateCredentialRequest struct {
	Credential string `json:"credential" binding:"required"`
}

type UpdateCredentialResponse struct {
	Restarted bool `json:"restarted"`
}

// ToggleRequest is shared by the status and auto-confirm endpoints.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type RemarkRequest struct {
	Remark string `json:"remark" binding:"max=512"`
}

type SetPauseDurationRequest struct {
	Minutes *int `json:"minutes" binding:"required"`
}

type AccountResponse struct {
	ID           string    `json:"id"`
	Enabled      bool      `json:"enabled"`
	AutoConfirm  bool      `json:"auto_confirm"`
	PauseMinutes int       `json:"pause_minutes"`
	Remark       string    `json:"remark,omitempty"`
	State        string    `json:"state"`
	Failures     int       `json:"failures"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func ToAccountResponse(a model.Account, st orchestrator.TaskStatus) AccountResponse {
	return AccountResponse{
		ID:           a.ID,
		Enabled:      a.Enabled,
		AutoConfirm:  a.AutoConfirm,
		PauseMinutes: a.PauseMinutes,
		Remark:       a.Remark,
		State:        st.State.String(),
		Failures:     st.Failures,
		LastError:    st.LastError,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func ToAccountListResponse(list []service.AccountOverview) []AccountResponse {
	out := make([]AccountResponse, 0, len(list))
	for _, ov := range list {
		out = append(out, ToAccountResponse(ov.Account, ov.Status))
	}
	return out
}
