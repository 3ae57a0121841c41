package donation

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

const (
	maxPledgeNameLength    = 255
	maxPledgeMessageLength = 2000
	minPledgeAmount        = 1
)

// PledgeInput は寄付フォームの入力値。
type PledgeInput struct {
	Name    string
	Email   string
	Amount  float64
	Message string
}

// PledgeService は寄付の意思表示を受け付ける。
type PledgeService struct {
	repo repository.PledgeRepository
}

// NewPledgeService はPledgeServiceを生成する。
func NewPledgeService(repo repository.PledgeRepository) *PledgeService {
	return &PledgeService{repo: repo}
}

// Create は入力を検証して寄付の意思表示を保存する。
// 名前・メールアドレス・メッセージは任意、金額は1以上。
func (s *PledgeService) Create(ctx context.Context, in PledgeInput) (*model.Pledge, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	message := strings.TrimSpace(in.Message)

	if in.Amount < minPledgeAmount {
		return nil, model.NewValidationError("amount", "金額は1以上で指定してください")
	}
	if utf8.RuneCountInString(name) > maxPledgeNameLength {
		return nil, model.NewValidationError("name", "名前が長すぎます")
	}
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, model.NewValidationError("email", "メールアドレスの形式が正しくありません")
		}
	}
	if utf8.RuneCountInString(message) > maxPledgeMessageLength {
		return nil, model.NewValidationError("message", "メッセージが長すぎます")
	}

	pledge := &model.Pledge{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Amount:    in.Amount,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := s.repo.Create(ctx, pledge); err != nil {
		return nil, fmt.Errorf("寄付の意思表示の保存に失敗しました: %w", err)
	}

	slog.Info("寄付の意思表示を受け付けました", slog.String("pledge_id", pledge.ID))
	return pledge, nil
}

// List は寄付の意思表示を新しい順に返す。
func (s *PledgeService) List(ctx context.Context, limit int) ([]*model.Pledge, error) {
	pledges, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("寄付の意思表示一覧の取得に失敗しました: %w", err)
	}
	return pledges, nil
}

// DonationLister は記録済みの寄付一覧を返す。
type DonationLister struct {
	repo repository.DonationRepository
}

// NewDonationLister はDonationListerを生成する。
func NewDonationLister(repo repository.DonationRepository) *DonationLister {
	return &DonationLister{repo: repo}
}

// List は寄付を新しい順に返す。
func (l *DonationLister) List(ctx context.Context, limit int) ([]*model.Donation, error) {
	donations, err := l.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("寄付一覧の取得に失敗しました: %w", err)
	}
	return donations, nil
}
