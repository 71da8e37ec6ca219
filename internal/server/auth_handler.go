// Package server provides the HTTP control API for the apply engine.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonathan/apply-engine/internal/config"
)

// LoginRequest carries the operator password for token issuance.
type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued bearer token. The client ID is embedded in
// the token claims and echoed here for log correlation.
type LoginResponse struct {
	Token    string    `json:"token"`
	ClientID uuid.UUID `json:"client_id"`
}

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	auth       *config.APIAuth
	jwtService *JWTService
	validator  *validator.Validate
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(auth *config.APIAuth, jwtService *JWTService) *AuthHandler {
	return &AuthHandler{
		auth:       auth,
		jwtService: jwtService,
		validator:  validator.New(),
	}
}

// Login handles login requests. A correct password yields a JWT with a fresh
// client ID; every other outcome is 401 or 400.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		validationErrors := extractValidationErrors(err)
		http.Error(w, validationErrors, http.StatusBadRequest)
		return
	}

	if !h.auth.VerifyPassword(req.Password) {
		err := &ErrInvalidCredentials{}
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	clientID := uuid.New()
	token, err := h.jwtService.GenerateToken(clientID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	response := LoginResponse{
		Token:    token,
		ClientID: clientID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Response already sent
		return
	}
}

// extractValidationErrors extracts validation error messages from validator errors.
func extractValidationErrors(err error) string {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrors) > 0 {
			// Return first validation error for simplicity
			ve := validationErrors[0]
			return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
		}
	}
	return "validation error: invalid request"
}
