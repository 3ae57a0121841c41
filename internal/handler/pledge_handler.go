package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/seqher/internal/donation"
	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
)

// PledgeServiceInterface は寄付フォームの受付と一覧。
type PledgeServiceInterface interface {
	Create(ctx context.Context, in donation.PledgeInput) (*model.Pledge, error)
	List(ctx context.Context, limit int) ([]*model.Pledge, error)
}

// DonationListerInterface は記録済み寄付の一覧。
type DonationListerInterface interface {
	List(ctx context.Context, limit int) ([]*model.Donation, error)
}

// DonationHandler は寄付フォームと寄付一覧のHTTPハンドラー。
type DonationHandler struct {
	pledges   PledgeServiceInterface
	donations DonationListerInterface
}

// NewDonationHandler はDonationHandlerを生成する。
func NewDonationHandler(pledges PledgeServiceInterface, donations DonationListerInterface) *DonationHandler {
	return &DonationHandler{pledges: pledges, donations: donations}
}

type pledgeRequest struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Amount  float64 `json:"amount"`
	Message string  `json:"message"`
}

type pledgeResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Amount    float64   `json:"amount"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type donationResponse struct {
	StripeSessionID string    `json:"stripeSessionId"`
	Amount          float64   `json:"amount"`
	AmountMinor     int64     `json:"amountMinor"`
	Currency        string    `json:"currency"`
	CustomerEmail   string    `json:"customerEmail,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CreatePledge は寄付の意思表示を受け付ける。ログインは不要。
// POST /api/pledges
func (h *DonationHandler) CreatePledge(w http.ResponseWriter, r *http.Request) {
	var req pledgeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pledge, err := h.pledges.Create(r.Context(), donation.PledgeInput{
		Name:    req.Name,
		Email:   req.Email,
		Amount:  req.Amount,
		Message: req.Message,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPledgeResponse(pledge))
}

// ListPledges は寄付の意思表示の一覧を返す。
// GET /api/admin/pledges
func (h *DonationHandler) ListPledges(w http.ResponseWriter, r *http.Request) {
	pledges, err := h.pledges.List(r.Context(), queryLimit(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res := make([]pledgeResponse, len(pledges))
	for i, p := range pledges {
		res[i] = toPledgeResponse(p)
	}
	writeJSON(w, http.StatusOK, res)
}

// ListDonations は記録済みの寄付の一覧を返す。
// GET /api/admin/donations
func (h *DonationHandler) ListDonations(w http.ResponseWriter, r *http.Request) {
	donations, err := h.donations.List(r.Context(), queryLimit(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res := make([]donationResponse, len(donations))
	for i, d := range donations {
		res[i] = donationResponse{
			StripeSessionID: d.StripeSessionID,
			Amount:          d.Amount(),
			AmountMinor:     d.AmountMinor,
			Currency:        d.Currency,
			CustomerEmail:   d.CustomerEmail,
			Status:          d.Status,
			CreatedAt:       d.CreatedAt,
			UpdatedAt:       d.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func toPledgeResponse(p *model.Pledge) pledgeResponse {
	return pledgeResponse{
		ID:        p.ID,
		Name:      p.Name,
		Email:     p.Email,
		Amount:    p.Amount,
		Message:   p.Message,
		CreatedAt: p.CreatedAt,
	}
}
