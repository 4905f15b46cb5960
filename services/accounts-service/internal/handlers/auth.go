package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/serenitymassage/bookwell/libs/auth"
	"github.com/serenitymassage/bookwell/libs/httpx"
	"github.com/serenitymassage/bookwell/services/accounts-service/internal/sessions"
	"github.com/serenitymassage/bookwell/services/accounts-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

var membershipTypes = map[string]bool{
	"none":              true,
	"wellness":          true,
	"restoration-plus":  true,
	"therapeutic-elite": true,
}

type AuthHandler struct {
	users      *storage.UserRepository
	refresh    *sessions.RefreshRepository
	logger     *slog.Logger
	jwtSecret  string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewAuthHandler(users *storage.UserRepository, refresh *sessions.RefreshRepository, logger *slog.Logger, jwtSecret string, accessTTL, refreshTTL time.Duration) *AuthHandler {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{
		users:      users,
		refresh:    refresh,
		logger:     logger,
		jwtSecret:  jwtSecret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

func (req *registerRequest) validate() map[string]string {
	fields := map[string]string{}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)

	if req.Name == "" {
		fields["name"] = "required"
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		fields["email"] = "must be a valid email address"
	}
	if len(req.Password) < 8 {
		fields["password"] = "must be at least 8 characters"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	if fields := req.validate(); fields != nil {
		httpx.WriteValidationError(w, fields)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to hash password")
		return
	}

	user := storage.User{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
		PasswordHash:   string(hash),
		Role:           "client",
		MembershipType: "none",
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			httpx.WriteError(w, http.StatusConflict, httpx.CodeConflict, "email already registered")
			return
		}
		h.logger.Error("user create failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to create account")
		return
	}

	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error("token issue failed", "err", err, "user_id", user.ID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to issue tokens")
		return
	}
	h.logger.Info("account registered", "user_id", user.ID)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "email and password required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		h.logger.Error("user lookup failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to look up account")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		h.logger.Error("token issue failed", "err", err, "user_id", user.ID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to issue tokens")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		httpx.WriteValidationError(w, map[string]string{"refresh_token": "required"})
		return
	}

	record, err := h.refresh.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		if sessions.IsNotFound(err) {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to look up refresh token")
		return
	}
	if record.RevokedAt != nil || record.ExpiresAt.Before(h.now()) {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "refresh token expired")
		return
	}

	user, err := h.users.GetByID(r.Context(), record.UserID)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		return
	}

	// Rotation: the presented token dies with this exchange.
	if err := h.refresh.Revoke(r.Context(), record.ID); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to rotate refresh token")
		return
	}
	resp, err := h.issueTokens(r.Context(), user)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to issue tokens")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		httpx.WriteValidationError(w, map[string]string{"refresh_token": "required"})
		return
	}

	record, err := h.refresh.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		if sessions.IsNotFound(err) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to look up refresh token")
		return
	}
	if record.RevokedAt == nil {
		if err := h.refresh.Revoke(r.Context(), record.ID); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to revoke refresh token")
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

type profileResponse struct {
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Role           string `json:"role"`
	MembershipType string `json:"membership_type"`
}

// Me dispatches the profile path: GET reads, PATCH updates.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getMe(w, r)
	case http.MethodPatch:
		h.patchMe(w, r)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
	}
}

func (h *AuthHandler) getMe(w http.ResponseWriter, r *http.Request) {
	claims := httpx.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.Sub)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "account not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load account")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toProfile(user))
}

type patchMeRequest struct {
	Name     *string `json:"name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (h *AuthHandler) patchMe(w http.ResponseWriter, r *http.Request) {
	claims := httpx.ClaimsFromContext(r.Context())
	if claims == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req patchMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.Sub)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "account not found")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to load account")
		return
	}

	name := user.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			httpx.WriteValidationError(w, map[string]string{"name": "must not be empty"})
			return
		}
	}
	phone := user.Phone
	if req.Phone != nil {
		phone = strings.TrimSpace(*req.Phone)
	}
	if err := h.users.UpdateProfile(r.Context(), user.ID, name, phone); err != nil {
		h.logger.Error("profile update failed", "err", err, "user_id", user.ID)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to update profile")
		return
	}

	if req.Password != nil {
		if len(*req.Password) < 8 {
			httpx.WriteValidationError(w, map[string]string{"password": "must be at least 8 characters"})
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to hash password")
			return
		}
		if err := h.users.UpdatePassword(r.Context(), user.ID, string(hash)); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to update password")
			return
		}
		// Changing the password ends every other session.
		if err := h.refresh.RevokeAllForUser(r.Context(), user.ID); err != nil {
			h.logger.Error("session revoke failed", "err", err, "user_id", user.ID)
		}
	}

	user.Name = name
	user.Phone = phone
	httpx.WriteJSON(w, http.StatusOK, toProfile(user))
}

type membershipRequest struct {
	Email          string `json:"email"`
	MembershipType string `json:"membership_type"`
}

// SetMembership assigns a membership tier, staff only.
func (h *AuthHandler) SetMembership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, httpx.CodeValidation, "method not allowed")
		return
	}

	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, httpx.CodeValidation, "invalid json body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.MembershipType = strings.TrimSpace(strings.ToLower(req.MembershipType))
	fields := map[string]string{}
	if req.Email == "" {
		fields["email"] = "required"
	}
	if !membershipTypes[req.MembershipType] {
		fields["membership_type"] = "must be one of none, wellness, restoration-plus, therapeutic-elite"
	}
	if len(fields) > 0 {
		httpx.WriteValidationError(w, fields)
		return
	}

	updated, err := h.users.SetMembership(r.Context(), req.Email, req.MembershipType)
	if err != nil {
		h.logger.Error("membership update failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, httpx.CodeInternal, "failed to update membership")
		return
	}
	if !updated {
		httpx.WriteError(w, http.StatusNotFound, httpx.CodeNotFound, "account not found")
		return
	}
	h.logger.Info("membership updated", "email", req.Email, "membership_type", req.MembershipType)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"email":           req.Email,
		"membership_type": req.MembershipType,
	})
}

func (h *AuthHandler) issueTokens(ctx context.Context, user storage.User) (tokenResponse, error) {
	now := h.now()
	access, err := auth.SignHS256(auth.Claims{
		Sub:        user.ID,
		Email:      user.Email,
		Role:       user.Role,
		Membership: user.MembershipType,
		Iat:        now.Unix(),
		Exp:        now.Add(h.accessTTL).Unix(),
	}, h.jwtSecret)
	if err != nil {
		return tokenResponse{}, err
	}

	raw, err := newOpaqueToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := h.refresh.Create(ctx, user.ID, raw, now.Add(h.refreshTTL)); err != nil {
		return tokenResponse{}, err
	}

	return tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
	}, nil
}

func toProfile(user storage.User) profileResponse {
	return profileResponse{
		UserID:         user.ID,
		Name:           user.Name,
		Email:          user.Email,
		Phone:          user.Phone,
		Role:           user.Role,
		MembershipType: user.MembershipType,
	}
}

func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
