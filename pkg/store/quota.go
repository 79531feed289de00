package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

const quotaWindow = 24 * time.Hour

// CheckQuota は直近24時間に開始したジョブのフレーム数合計と要求を合わせて上限内かを判定します。
func (s *Store) CheckQuota(ctx context.Context, userID string, frameCount, canvasSize int) (domain.QuotaDecision, error) {
	if s.limits.MaxCanvasSize > 0 && canvasSize > s.limits.MaxCanvasSize {
		return domain.QuotaDecision{
			Reason: fmt.Sprintf("canvas size %d exceeds the limit of %d", canvasSize, s.limits.MaxCanvasSize),
		}, nil
	}
	if s.limits.DailyFrameLimit <= 0 {
		return domain.QuotaDecision{Allowed: true}, nil
	}

	used, err := s.FramesUsed(ctx, userID)
	if err != nil {
		return domain.QuotaDecision{}, err
	}
	if used+frameCount > s.limits.DailyFrameLimit {
		return domain.QuotaDecision{
			Reason: fmt.Sprintf("daily frame limit reached (%d of %d used)", used, s.limits.DailyFrameLimit),
		}, nil
	}
	return domain.QuotaDecision{Allowed: true}, nil
}

// FramesUsed は直近24時間に userID が要求したフレーム数の合計です。
func (s *Store) FramesUsed(ctx context.Context, userID string) (int, error) {
	since := s.now().Add(-quotaWindow).UnixMilli()
	var used int64
	err := s.queryRow(ctx,
		`SELECT COALESCE(SUM(frame_count), 0) FROM generation_logs WHERE user_id = ? AND started_at >= ?`,
		userID, since,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("store: sum frames: %w", err)
	}
	return int(used), nil
}
