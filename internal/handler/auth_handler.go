package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"login-security/internal/models"
	"login-security/internal/service"
	"login-security/internal/util"

	"github.com/go-chi/chi/v5"
)

// AuthHandler exposes the login decision pipeline over HTTP.
type AuthHandler struct {
	loginService *service.LoginService
}

func NewAuthHandler(loginService *service.LoginService) *AuthHandler {
	return &AuthHandler{loginService: loginService}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(message string) Response {
	return Response{
		Success: false,
		Error:   message,
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("Failed to encode response", zap.Error(err))
	}
}

// LoginRequest is the wire form of one authentication attempt.
type LoginRequest struct {
	Identifier  string            `json:"identifier"`
	Password    string            `json:"password"`
	Fingerprint string            `json:"fingerprint"`
	DeviceInfo  models.DeviceInfo `json:"device_info"`
}

// OtpVerifyRequest carries a submitted step-up code.
type OtpVerifyRequest struct {
	Code        string `json:"code"`
	Fingerprint string `json:"fingerprint"`
}

// OtpResendRequest asks for the pending code to be re-sent.
type OtpResendRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// RegisterRoutes registers all authentication routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/otp/verify", h.VerifyOtp)
		r.Post("/otp/resend", h.ResendOtp)
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.Identifier == "" || req.Password == "" || req.Fingerprint == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("identifier, password, and fingerprint are required"))
		return
	}

	sc := h.securityContext(r, req.Fingerprint, req.DeviceInfo)

	result, err := h.loginService.Login(r.Context(), req.Identifier, req.Password, sc)
	if err != nil {
		util.Error("Login pipeline failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("login failed"))
		return
	}

	writeLoginResult(w, result)
}

func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req OtpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.Code == "" || req.Fingerprint == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("code and fingerprint are required"))
		return
	}

	sc := h.securityContext(r, req.Fingerprint, models.DeviceInfo{})

	result, err := h.loginService.VerifyOtp(r.Context(), req.Code, sc)
	if err != nil {
		util.Error("OTP verification failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("verification failed"))
		return
	}

	writeLoginResult(w, result)
}

func (h *AuthHandler) ResendOtp(w http.ResponseWriter, r *http.Request) {
	var req OtpResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.Fingerprint == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("fingerprint is required"))
		return
	}

	sc := h.securityContext(r, req.Fingerprint, models.DeviceInfo{})

	result, err := h.loginService.ResendOtp(r.Context(), sc)
	if err != nil {
		util.Error("OTP resend failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse("resend failed"))
		return
	}

	writeLoginResult(w, result)
}

func (h *AuthHandler) securityContext(r *http.Request, fingerprint string, info models.DeviceInfo) models.SecurityContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	return models.SecurityContext{
		ClientIP:    ip,
		Fingerprint: fingerprint,
		UserAgent:   r.UserAgent(),
		DeviceInfo:  info,
	}
}

func writeLoginResult(w http.ResponseWriter, result *service.LoginResult) {
	switch {
	case result.Success:
		writeJSON(w, http.StatusOK, successResponse(result, "login successful"))
	case result.OtpRequired:
		writeJSON(w, http.StatusOK, successResponse(result, "verification required"))
	case result.LockedOut:
		writeJSON(w, http.StatusTooManyRequests, errorResponse(result.Reason))
	case result.RestrictedRegion:
		writeJSON(w, http.StatusForbidden, errorResponse(result.Reason))
	default:
		resp := errorResponse(result.Reason)
		resp.Data = result
		writeJSON(w, http.StatusUnauthorized, resp)
	}
}
