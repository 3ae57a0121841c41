// Package appointment はログインユーザーからの面談予約を扱う。
package appointment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

const (
	maxTopicLength   = 200
	maxMessageLength = 2000
	// 受け付ける希望日時の上限（現在から）
	maxLeadTime = 365 * 24 * time.Hour
)

// Input は面談予約フォームの入力値。
type Input struct {
	Topic       string
	PreferredAt time.Time
	Message     string
}

// Service は面談予約のユースケースを提供する。
type Service struct {
	repo repository.AppointmentRepository
	now  func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.AppointmentRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Create は予約リクエストを検証して保存する。予約者の名前とメールアドレスはログインユーザーから取る。
func (s *Service) Create(ctx context.Context, user *model.AppUser, in Input) (*model.Appointment, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}

	topic := strings.TrimSpace(in.Topic)
	message := strings.TrimSpace(in.Message)
	now := s.now()

	switch n := utf8.RuneCountInString(topic); {
	case n == 0:
		return nil, model.NewValidationError("topic", "相談内容を入力してください")
	case n > maxTopicLength:
		return nil, model.NewValidationError("topic", "相談内容が長すぎます")
	}
	if in.PreferredAt.IsZero() || !in.PreferredAt.After(now) {
		return nil, model.NewValidationError("preferredAt", "未来の日時を指定してください")
	}
	if in.PreferredAt.After(now.Add(maxLeadTime)) {
		return nil, model.NewValidationError("preferredAt", "1年以内の日時を指定してください")
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, model.NewValidationError("message", "メッセージが長すぎます")
	}

	appt := &model.Appointment{
		ID:          uuid.NewString(),
		UserID:      user.UID,
		Name:        user.DisplayName,
		Email:       user.Email,
		Topic:       topic,
		PreferredAt: in.PreferredAt.UTC(),
		Message:     message,
		Status:      model.AppointmentRequested,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, fmt.Errorf("面談予約の保存に失敗しました: %w", err)
	}

	slog.Info("面談予約を受け付けました",
		slog.String("appointment_id", appt.ID),
		slog.String("user_id", appt.UserID),
	)
	return appt, nil
}

// List は管理画面向けに予約を希望日時順で返す。
func (s *Service) List(ctx context.Context, limit int) ([]*model.Appointment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	appts, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("面談予約一覧の取得に失敗しました: %w", err)
	}
	if appts == nil {
		appts = []*model.Appointment{}
	}
	return appts, nil
}

// ListMine はログインユーザー自身の予約を返す。
func (s *Service) ListMine(ctx context.Context, user *model.AppUser) ([]*model.Appointment, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	appts, err := s.repo.ListByUserID(ctx, user.UID)
	if err != nil {
		return nil, fmt.Errorf("面談予約一覧の取得に失敗しました: %w", err)
	}
	if appts == nil {
		appts = []*model.Appointment{}
	}
	return appts, nil
}
