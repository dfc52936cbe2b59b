package handlers

import (
	"net/http"

	"imovia/internal/auth"
	"imovia/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login authenticates a user and returns JWT tokens
func (h *AuthHandler) Login(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	response, err := h.authService.Login(req)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	return c.JSON(http.StatusOK, response)
}

// RefreshToken generates new tokens from a refresh token
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	response, err := h.authService.RefreshToken(req.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	return c.JSON(http.StatusOK, response)
}

// UpdateProfile updates the current user's profile
func (h *AuthHandler) UpdateProfile(c echo.Context) error {
	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	var req models.UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	user, err := h.authService.UpdateProfile(userID.String(), req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "invariant"})
	}

	return c.JSON(http.StatusOK, user)
}

// ChangePassword changes the current user's password
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	userID, ok := c.Get("user_id").(uuid.UUID)
	if !ok {
		return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized", Category: "boundary"})
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=8"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Category: "boundary"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "boundary"})
	}

	if err := h.authService.ChangePassword(userID.String(), req.CurrentPassword, req.NewPassword); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Category: "invariant"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Password changed successfully"})
}
