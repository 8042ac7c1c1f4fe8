package domain

import "time"

type ActionType string

const (
	ActionViewProduct             ActionType = "VIEW_PRODUCT"
	ActionCreateProduct           ActionType = "CREATE_PRODUCT"
	ActionUpdateProduct           ActionType = "UPDATE_PRODUCT"
	ActionDeleteProduct           ActionType = "DELETE_PRODUCT"
	ActionCreateTransaction       ActionType = "CREATE_TRANSACTION"
	ActionUpdateTransactionStatus ActionType = "UPDATE_TRANSACTION_STATUS"
	ActionSendMessage             ActionType = "SEND_MESSAGE"
	ActionUploadPaymentProof      ActionType = "UPLOAD_PAYMENT_PROOF"
	ActionConfirmTransaction      ActionType = "CONFIRM_TRANSACTION"
	ActionCompleteTransaction     ActionType = "COMPLETE_TRANSACTION"
	ActionCancelTransaction       ActionType = "CANCEL_TRANSACTION"
	ActionCreateRating            ActionType = "CREATE_RATING"
	ActionDeleteRating            ActionType = "DELETE_RATING"
)

func (a ActionType) IsValid() bool {
	switch a {
	case ActionViewProduct, ActionCreateProduct, ActionUpdateProduct, ActionDeleteProduct,
		ActionCreateTransaction, ActionUpdateTransactionStatus, ActionSendMessage, ActionUploadPaymentProof,
		ActionConfirmTransaction, ActionCompleteTransaction, ActionCancelTransaction,
		ActionCreateRating, ActionDeleteRating:
		return true
	}
	return false
}

type TargetType string

const (
	TargetProduct     TargetType = "product"
	TargetTransaction TargetType = "transaction"
	TargetMessage     TargetType = "message"
	TargetRating      TargetType = "rating"
	TargetUser        TargetType = "user"
)

// RequestMeta is the client information captured with an activity or login.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Activity is an append-only audit entry. It is never updated or deleted.
type Activity struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	ActionType ActionType     `json:"actionType"`
	TargetType TargetType     `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Metadata   map[string]any `json:"metadata"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ActivityFilter selects activities for audit pages.
type ActivityFilter struct {
	UserID     string
	ActionType ActionType
	StartDate  *time.Time
	EndDate    *time.Time
	Page       int
	Limit      int
}

const DefaultActivityPageLimit = 20

func (f *ActivityFilter) Normalize() error {
	if f.ActionType != "" && !f.ActionType.IsValid() {
		return Validationf("invalid action type %q", f.ActionType)
	}
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return Validationf("endDate must not be before startDate")
	}
	if f.Limit < 1 {
		f.Limit = DefaultActivityPageLimit
	}
	f.Page, f.Limit = NormalizePage(f.Page, f.Limit)
	return nil
}

// ActivityStat counts one action type on one day.
type ActivityStat struct {
	ActionType ActionType `json:"actionType"`
	Date       string     `json:"date"`
	Count      int64      `json:"count"`
}
