package pipeline

import (
	"context"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/atlas"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/generator"
)

// FramePlanner はコンセプトからちょうど frameCount 件のフレーム計画を作ります。
type FramePlanner interface {
	Plan(ctx context.Context, concept, styleKey string, frameCount int) ([]domain.FramePlanEntry, error)
}

// FrameSynthesizer は計画に従ってフレームを順番に生成します。
type FrameSynthesizer interface {
	Synthesize(ctx context.Context, plan []domain.FramePlanEntry, in generator.SynthesisInput, onFrame func(domain.FrameOutcome)) ([]domain.FrameOutcome, error)
}

// BackgroundRemover は1枚の画像の背景を透過します。失敗時は元データを返します。
type BackgroundRemover interface {
	Apply(ctx context.Context, data []byte) []byte
}

// AtlasAssembler はフレームをスプライトシートに合成します。
type AtlasAssembler interface {
	Assemble(ctx context.Context, frames []domain.FrameImage, canvasSize int) (*atlas.Result, error)
	FPS() int
}

// ReferenceFetcher は利用者指定の参照画像を取得します。
type ReferenceFetcher interface {
	FetchReference(ctx context.Context, rawURL string) ([]byte, error)
}

// GenerationLogger は生成ジョブの開始と終了を記録する外部フックです。
// 失敗してもジョブは失敗させません。
type GenerationLogger interface {
	LogGenerationStart(ctx context.Context, req domain.GenerationRequest, userID string) (string, error)
	LogGenerationComplete(ctx context.Context, logID string, success bool, duration time.Duration, errMsg string) error
}

// QuotaChecker はフレーム計画の前に利用枠を確認します。
type QuotaChecker interface {
	CheckQuota(ctx context.Context, userID string, frameCount, canvasSize int) (domain.QuotaDecision, error)
}
