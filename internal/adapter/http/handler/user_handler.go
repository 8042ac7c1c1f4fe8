package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/middleware"
	"github.com/tonyging/jx3-trading-platform/internal/adapter/http/response"
	"github.com/tonyging/jx3-trading-platform/internal/auth"
	"github.com/tonyging/jx3-trading-platform/internal/domain"
	"github.com/tonyging/jx3-trading-platform/internal/platform/logger"
	"github.com/tonyging/jx3-trading-platform/internal/usecase"
)

type UserService interface {
	SendVerificationCode(ctx context.Context, email, password string) error
	VerifyCode(ctx context.Context, email, code string) error
	CompleteRegistration(ctx context.Context, email, name string) (*usecase.AuthResult, error)
	Login(ctx context.Context, email, password string, meta domain.RequestMeta) (*usecase.AuthResult, error)
	GetProfile(ctx context.Context, p *auth.Principal) (*domain.User, error)
	UpdateProfile(ctx context.Context, p *auth.Principal, name *string, contact *domain.ContactInfo) (*domain.User, error)
	UpdatePassword(ctx context.Context, p *auth.Principal, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, p *auth.Principal, password string) error
	LoginHistory(ctx context.Context, p *auth.Principal) ([]*domain.LoginRecord, error)
	SendPasswordResetCode(ctx context.Context, email string) error
	VerifyPasswordResetCode(ctx context.Context, email, code string) error
	ResetPasswordWithCode(ctx context.Context, email, code, newPassword string) error
	UpdateUserRole(ctx context.Context, p *auth.Principal, userID string, role domain.Role, banReason string, banDays int) (*domain.User, error)
}

// UserHandler serves /api/users.
type UserHandler struct {
	users  UserService
	writer *response.Writer
	logger *logger.Logger
}

func NewUserHandler(users UserService, writer *response.Writer, log *logger.Logger) *UserHandler {
	return &UserHandler{users: users, writer: writer, logger: log.Named("http.user")}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type completeRegistrationRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

type updateProfileRequest struct {
	Name        *string             `json:"name"`
	ContactInfo *domain.ContactInfo `json:"contactInfo"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

type updateRoleRequest struct {
	Role        domain.Role `json:"role"`
	BanReason   string      `json:"banReason"`
	BanDuration int         `json:"banDuration"`
}

type userPayload struct {
	User *domain.User `json:"user"`
}

func (h *UserHandler) HandleSendVerification(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.SendVerificationCode(r.Context(), req.Email, req.Password); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "verification code sent")
}

func (h *UserHandler) HandleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.VerifyCode(r.Context(), req.Email, req.Code); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "email verified")
}

func (h *UserHandler) HandleCompleteRegistration(w http.ResponseWriter, r *http.Request) {
	var req completeRegistrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	result, err := h.users.CompleteRegistration(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.logger.Info("User registered", zap.String("user_id", result.User.ID))
	h.writer.Success(w, http.StatusCreated, result)
}

func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	result, err := h.users.Login(r.Context(), req.Email, req.Password, middleware.RequestMeta(r))
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, result)
}

func (h *UserHandler) HandleSendResetCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.SendPasswordResetCode(r.Context(), req.Email); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "password reset code sent")
}

func (h *UserHandler) HandleVerifyResetCode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.VerifyPasswordResetCode(r.Context(), req.Email, req.Code); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "code verified")
}

func (h *UserHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.ResetPasswordWithCode(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "password has been reset")
}

func (h *UserHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetProfile(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, userPayload{User: user})
}

func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), auth.PrincipalFrom(r.Context()), req.Name, req.ContactInfo)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, userPayload{User: user})
}

func (h *UserHandler) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), auth.PrincipalFrom(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "password updated")
}

func (h *UserHandler) HandleLoginHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.users.LoginHistory(r.Context(), auth.PrincipalFrom(r.Context()))
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if records == nil {
		records = []*domain.LoginRecord{}
	}
	h.writer.Success(w, http.StatusOK, map[string]any{"loginHistory": records})
}

func (h *UserHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if err := h.users.DeleteAccount(r.Context(), auth.PrincipalFrom(r.Context()), req.Password); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Message(w, http.StatusOK, "account deleted")
}

func (h *UserHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	userID, err := urlID(r, "userId")
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writer.Error(w, r, err)
		return
	}
	user, err := h.users.UpdateUserRole(r.Context(), auth.PrincipalFrom(r.Context()), userID, req.Role, req.BanReason, req.BanDuration)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	h.writer.Success(w, http.StatusOK, userPayload{User: user})
}
