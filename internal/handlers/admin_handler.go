package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rhoward/ztverify/internal/models"
	pkghttp "github.com/rhoward/ztverify/pkg/http"
)

// AdminServiceInterface is the reporting surface behind the admin API.
type AdminServiceInterface interface {
	Stats(ctx context.Context) (*models.LoginStats, error)
	RecentActivity(ctx context.Context, limit int) ([]models.LoginAttempt, error)
	TopRiskyUsers(ctx context.Context, limit int) ([]models.RiskyUser, error)
	UserActivity(ctx context.Context, username string, limit int) ([]models.LoginAttempt, error)
	UserDevices(ctx context.Context, username string) ([]models.DeviceRecord, error)
	RevokeDevice(ctx context.Context, username, fingerprint string) error
}

// UserServiceInterface manages the user accounts the engine decides over.
type UserServiceInterface interface {
	Create(ctx context.Context, username, email, password, role string) (*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Update(ctx context.Context, id, email, role, status string) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// AdminHandler serves the operator API
type AdminHandler struct {
	admin AdminServiceInterface
	users UserServiceInterface
}

func NewAdminHandler(admin AdminServiceInterface, users UserServiceInterface) *AdminHandler {
	return &AdminHandler{admin: admin, users: users}
}

// UserResponse is the API view of a user (never includes the password hash)
type UserResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// LoginAttemptResponse is the API view of an audit row
type LoginAttemptResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	AttemptTime       time.Time `json:"attempt_time"`
	SourceIP          string    `json:"source_ip"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	Location          *string   `json:"location"`
	RiskScore         *float64  `json:"risk_score"`
	Decision          string    `json:"decision"`
	Succeeded         bool      `json:"succeeded"`
}

func toAttemptResponses(attempts []models.LoginAttempt) []LoginAttemptResponse {
	out := make([]LoginAttemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, LoginAttemptResponse{
			ID:                a.ID,
			Username:          a.Username,
			AttemptTime:       a.AttemptTime,
			SourceIP:          a.SourceIP,
			DeviceFingerprint: a.DeviceFingerprint,
			Location:          a.Location,
			RiskScore:         a.RiskScore,
			Decision:          a.Decision,
			Succeeded:         a.Succeeded,
		})
	}
	return out
}

// CreateUserRequest represents the request body for creating a user
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"required,oneof=admin manager viewer"`
}

// UpdateUserRequest represents the request body for updating a user.
// Empty fields keep their stored values.
type UpdateUserRequest struct {
	Email  string `json:"email" validate:"omitempty,email,max=255"`
	Role   string `json:"role" validate:"omitempty,oneof=admin manager viewer"`
	Status string `json:"status" validate:"omitempty,oneof=active inactive locked suspended"`
}

// GetStats returns aggregate login statistics.
// GET /api/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"total_attempts":    stats.TotalAttempts,
		"successful_logins": stats.SuccessfulLogins,
		"failed_logins":     stats.FailedLogins,
		"unique_users":      stats.UniqueUsers,
		"avg_risk_score":    stats.AvgRiskScore,
	})
}

// GetRecentActivity returns the newest audit rows across all users.
// GET /api/admin/activity?limit=N
func (h *AdminHandler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.admin.RecentActivity(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"attempts": toAttemptResponses(attempts),
		"count":    len(attempts),
	})
}

// GetTopRiskyUsers returns users ranked by average risk score.
// GET /api/admin/risky-users?limit=N
func (h *AdminHandler) GetTopRiskyUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.TopRiskyUsers(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	type riskyUser struct {
		Username     string    `json:"username"`
		AttemptCount int       `json:"attempt_count"`
		AvgRiskScore float64   `json:"avg_risk_score"`
		LastAttempt  time.Time `json:"last_attempt"`
	}
	out := make([]riskyUser, 0, len(users))
	for _, u := range users {
		out = append(out, riskyUser(u))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"users": out,
		"count": len(out),
	})
}

// GetUserActivity returns the newest audit rows for one user.
// GET /api/admin/activity/{username}?limit=N
func (h *AdminHandler) GetUserActivity(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		pkghttp.WriteBadRequest(w, "username is required")
		return
	}

	attempts, err := h.admin.UserActivity(r.Context(), username, queryInt(r, "limit", 0))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"attempts": toAttemptResponses(attempts),
		"count":    len(attempts),
	})
}

// GetUserDevices lists a user's trusted devices.
// GET /api/admin/devices/{username}
func (h *AdminHandler) GetUserDevices(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		pkghttp.WriteBadRequest(w, "username is required")
		return
	}

	devices, err := h.admin.UserDevices(r.Context(), username)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	type deviceResponse struct {
		ID          string    `json:"id"`
		Fingerprint string    `json:"fingerprint"`
		FirstSeen   time.Time `json:"first_seen"`
		LastSeen    time.Time `json:"last_seen"`
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:          d.ID,
			Fingerprint: d.Fingerprint,
			FirstSeen:   d.FirstSeen,
			LastSeen:    d.LastSeen,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"devices":  out,
		"count":    len(out),
	})
}

// RevokeUserDevice removes a trusted device so the next login from it is
// treated as unknown.
// DELETE /api/admin/devices/{username}/{fingerprint}
func (h *AdminHandler) RevokeUserDevice(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	fingerprint := chi.URLParam(r, "fingerprint")
	if username == "" || fingerprint == "" {
		pkghttp.WriteBadRequest(w, "username and fingerprint are required")
		return
	}

	if err := h.admin.RevokeDevice(r.Context(), username, fingerprint); err != nil {
		writeAdminError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateUser creates a user account.
// POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toUserResponse(user))
}

// GetUser returns a single user by id.
// GET /api/admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.users.Get(r.Context(), id)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// ListUsers returns a page of users.
// GET /api/admin/users?limit=N&offset=M
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context(), queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
		"users": out,
		"count": len(out),
	})
}

// UpdateUser updates a user's email, role, or status.
// PUT /api/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	user, err := h.users.Update(r.Context(), id, req.Email, req.Role, req.Status)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// DeleteUser deletes a user account.
// DELETE /api/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeAdminError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// writeAdminError maps service errors onto admin API responses
func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
