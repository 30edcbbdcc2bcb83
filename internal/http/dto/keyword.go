package dto

import "github.com/legeling/xianyu-auto-reply/internal/model"

type KeywordRuleRequest struct {
	Keyword string  `json:"keyword" binding:"required,max=512"`
	Reply   string  `json:"reply" binding:"max=4096"`
	ItemID  *string `json:"item_id,omitempty" binding:"omitempty,max=128"`
}

type UpdateKeywordsRequest struct {
	Keywords []KeywordRuleRequest `json:"keywords" binding:"dive"`
}

func (r UpdateKeywordsRequest) ToRules(accountID string) []model.KeywordRule {
	rules := make([]model.KeywordRule, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		rules = append(rules, model.KeywordRule{
			AccountID: accountID,
			ItemID:    k.ItemID,
			Keyword:   k.Keyword,
			Reply:     k.Reply,
			Kind:      model.KeywordKindText,
		})
	}
	return rules
}

type AddImageKeywordRequest struct {
	Keyword  string  `json:"keyword" binding:"required,max=512"`
	ImageURL string  `json:"image_url" binding:"required,url,max=2048"`
	ItemID   *string `json:"item_id,omitempty" binding:"omitempty,max=128"`
}

type RemoveKeywordQuery struct {
	Keyword string  `form:"keyword" binding:"required,max=512"`
	ItemID  *string `form:"item_id" binding:"omitempty,max=128"`
}

type KeywordRuleResponse struct {
	Keyword  string            `json:"keyword"`
	Reply    string            `json:"reply,omitempty"`
	ItemID   *string           `json:"item_id,omitempty"`
	Kind     model.KeywordKind `json:"kind"`
	ImageURL string            `json:"image_url,omitempty"`
}

func ToKeywordRuleResponse(r model.KeywordRule) KeywordRuleResponse {
	return KeywordRuleResponse{
		Keyword:  r.Keyword,
		Reply:    r.Reply,
		ItemID:   r.ItemID,
		Kind:     r.Kind,
		ImageURL: r.ImageURL,
	}
}

func ToKeywordRuleListResponse(rules []model.KeywordRule) []KeywordRuleResponse {
	out := make([]KeywordRuleResponse, 0, len(rules))
	for _, r := range rules {
		out = append(out, ToKeywordRuleResponse(r))
	}
	return out
}
