// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

// Service はユーザー管理のサービス層。
// 管理者ロールの付与・剥奪と退会処理を提供する。
type Service struct {
	identRepo   repository.IdentityRepository
	profileRepo repository.ProfileRepository
	sessionRepo repository.SessionRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	identRepo repository.IdentityRepository,
	profileRepo repository.ProfileRepository,
	sessionRepo repository.SessionRepository,
) *Service {
	return &Service{
		identRepo:   identRepo,
		profileRepo: profileRepo,
		sessionRepo: sessionRepo,
	}
}

// SetRole はメールアドレスで特定したプロフィールのロールを変更する。
// 管理者の付与はこの帯域外操作でのみ行う。
// プロフィールがまだない場合はidentityから一般ユーザーとして作成してから変更する。
// 変更は変更通知を経由して接続中の認証状態へ反映される。
func (s *Service) SetRole(ctx context.Context, email string, role model.Role) (*model.Profile, error) {
	if !role.Valid() {
		return nil, model.NewValidationError("role", fmt.Sprintf("未知のロールです: %q", role))
	}
	if email == "" {
		return nil, model.NewValidationError("email", "メールアドレスを指定してください")
	}

	profile, err := s.profileRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if profile == nil {
		profile, err = s.createProfileFor(ctx, email)
		if err != nil {
			return nil, err
		}
	}

	if profile.Role == role {
		return profile, nil
	}

	if err := s.profileRepo.UpdateRole(ctx, profile.UID, role); err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	slog.Info("ロールを変更しました",
		slog.String("user_id", profile.UID),
		slog.String("from", string(profile.Role)),
		slog.String("to", string(role)),
	)

	profile.Role = role
	return profile, nil
}

// createProfileFor はメールアドレスのidentityに一般ユーザーのプロフィールを作成する。
func (s *Service) createProfileFor(ctx context.Context, email string) (*model.Profile, error) {
	identity, err := s.identRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile, err := s.profileRepo.CreateIfAbsent(ctx, &model.Profile{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Role:        model.RoleUser,
	})
	if errors.Is(err, repository.ErrIdentityGone) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	slog.Info("プロフィールを作成しました", slog.String("user_id", profile.UID))
	return profile, nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → identity（+ CASCADE: profiles, appointments）
// 寄付記録と記事は残し、記事の著者IDのみNULLになる。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	identity, err := s.identRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if identity == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// セッション削除で接続中のストリームにサインアウトが通知される
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.identRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
