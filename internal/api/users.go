package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/notify-core/internal/auth"
)

// minPasswordLength is the shortest accepted password.
const minPasswordLength = 8

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

// updateUserRequest carries the fields an admin may change. Nil fields are
// left as they are.
type updateUserRequest struct {
	DisplayName *string    `json:"display_name"`
	Email       *string    `json:"email"`
	Role        *auth.Role `json:"role"`
	IsActive    *bool      `json:"is_active"`
}

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleUser
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role: must be user or admin")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameExists):
			writeConflict(w, "username already exists")
		case errors.Is(err, auth.ErrInvalidUsername):
			writeBadRequest(w, "invalid username")
		default:
			s.logger.Error("create user failed", "error", err)
			writeInternalError(w, "failed to create user")
		}
		return
	}

	if s.directory != nil {
		s.directory.Invalidate(user.ID)
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusCreated, user)
}

// handleUpdateUser changes a user's profile, role or active flag.
// Deactivated users stop resolving for presence and notifications.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.users.GetByID(r.Context(), id)
	if errors.Is(err, auth.ErrUserNotFound) {
		writeNotFound(w, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("get user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to update user")
		return
	}

	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		if !auth.IsValidRole(*req.Role) {
			writeBadRequest(w, "invalid role: must be user or admin")
			return
		}
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		if !*req.IsActive && user.ID == claimsFromContext(r.Context()).Subject {
			writeBadRequest(w, "cannot deactivate your own account")
			return
		}
		user.IsActive = *req.IsActive
	}

	if err := s.users.Update(r.Context(), user); err != nil {
		s.logger.Error("update user failed", "user_id", id, "error", err)
		writeInternalError(w, "failed to update user")
		return
	}
	if s.directory != nil {
		s.directory.Invalidate(user.ID)
	}

	s.logger.Info("user updated", "user_id", user.ID, "role", user.Role, "active", user.IsActive)
	writeJSON(w, http.StatusOK, user)
}
