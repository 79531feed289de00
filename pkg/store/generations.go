package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

// LogGenerationStart は生成の開始を記録し、完了時に使う ID を返します。
func (s *Store) LogGenerationStart(ctx context.Context, req domain.GenerationRequest, userID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("store: generate id: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO generation_logs (id, user_id, concept, style, frame_count, canvas_size, background, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), userID, req.Concept, req.Style, req.FrameCount, req.CanvasSize, string(req.Background),
		s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("store: insert generation log: %w", err)
	}
	return id.String(), nil
}

// LogGenerationComplete は生成の結果を記録します。
func (s *Store) LogGenerationComplete(ctx context.Context, logID string, success bool, duration time.Duration, errMsg string) error {
	var errValue any
	if errMsg != "" {
		errValue = errMsg
	}
	res, err := s.exec(ctx,
		`UPDATE generation_logs SET completed_at = ?, success = ?, duration_ms = ?, error = ? WHERE id = ?`,
		s.now().UnixMilli(), boolToInt(success), duration.Milliseconds(), errValue, logID,
	)
	if err != nil {
		return fmt.Errorf("store: update generation log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: generation log %q not found", logID)
	}
	return nil
}

// GenerationLog は1件の生成履歴です。
type GenerationLog struct {
	ID         string
	UserID     string
	Concept    string
	FrameCount int
	StartedAt  time.Time
	Completed  bool
	Success    bool
	DurationMs int64
	Error      string
}

// GetGeneration は ID で生成履歴を取得します。
func (s *Store) GetGeneration(ctx context.Context, logID string) (*GenerationLog, error) {
	var (
		entry      GenerationLog
		startedAt  int64
		success    *int64
		durationMs *int64
		errMsg     *string
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, concept, frame_count, started_at, success, duration_ms, error
		 FROM generation_logs WHERE id = ?`, logID,
	).Scan(&entry.ID, &entry.UserID, &entry.Concept, &entry.FrameCount, &startedAt, &success, &durationMs, &errMsg)
	if err != nil {
		return nil, fmt.Errorf("store: get generation log: %w", err)
	}

	entry.StartedAt = time.UnixMilli(startedAt)
	if success != nil {
		entry.Completed = true
		entry.Success = *success == 1
	}
	if durationMs != nil {
		entry.DurationMs = *durationMs
	}
	if errMsg != nil {
		entry.Error = *errMsg
	}
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
