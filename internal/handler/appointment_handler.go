package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/seqher/internal/appointment"
	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
)

// AppointmentServiceInterface は面談予約ハンドラーが必要とするサービスインターフェース。
type AppointmentServiceInterface interface {
	Create(ctx context.Context, user *model.AppUser, in appointment.Input) (*model.Appointment, error)
	List(ctx context.Context, limit int) ([]*model.Appointment, error)
	ListMine(ctx context.Context, user *model.AppUser) ([]*model.Appointment, error)
}

// AppointmentHandler は面談予約のHTTPハンドラー。
type AppointmentHandler struct {
	service AppointmentServiceInterface
}

// NewAppointmentHandler はAppointmentHandlerを生成する。
func NewAppointmentHandler(service AppointmentServiceInterface) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

type appointmentRequest struct {
	Topic       string    `json:"topic"`
	PreferredAt time.Time `json:"preferredAt"`
	Message     string    `json:"message"`
}

type appointmentResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Topic       string    `json:"topic"`
	PreferredAt time.Time `json:"preferredAt"`
	Message     string    `json:"message,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Create は面談予約を受け付ける。
// POST /api/appointments
func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req appointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := h.service.Create(r.Context(), currentUser(r), appointment.Input{
		Topic:       req.Topic,
		PreferredAt: req.PreferredAt,
		Message:     req.Message,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(a))
}

// ListMine はログインユーザー自身の予約を返す。
// GET /api/appointments/mine
func (h *AppointmentHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListMine(r.Context(), currentUser(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(list))
}

// List は全ての予約を返す。
// GET /api/admin/appointments
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), queryLimit(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponses(list))
}

func toAppointmentResponses(list []*model.Appointment) []appointmentResponse {
	res := make([]appointmentResponse, len(list))
	for i, a := range list {
		res[i] = toAppointmentResponse(a)
	}
	return res
}

func toAppointmentResponse(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:          a.ID,
		UserID:      a.UserID,
		Name:        a.Name,
		Email:       a.Email,
		Topic:       a.Topic,
		PreferredAt: a.PreferredAt,
		Message:     a.Message,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
	}
}
