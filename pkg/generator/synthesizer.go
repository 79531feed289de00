package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/shouni/gemini-sprite-kit/pkg/prompt"
)

// SynthesisInput はフレーム合成ループ全体で共通の入力です。
type SynthesisInput struct {
	Concept              string
	StyleDescriptor      string
	BackgroundDescriptor string
	// InitialReference は1枚目のフレームに添付する任意の参照画像です。
	InitialReference []byte
}

// Synthesizer は計画されたフレームを順番に生成します。
// フレーム i は直前に成功したフレームの画像を参照として添付し、見た目の一貫性を保ちます。
type Synthesizer struct {
	executor ImageExecutor
	delay    time.Duration
}

// NewSynthesizer は Synthesizer を初期化します。delay が負の場合は 0 として扱います。
func NewSynthesizer(executor ImageExecutor, delay time.Duration) (*Synthesizer, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor (ImageExecutor) is required")
	}
	return &Synthesizer{executor: executor, delay: max(delay, 0)}, nil
}

// Synthesize は plan の順にフレームを生成し、各フレームの結果を onFrame に通知します。
//
// 1フレームの失敗ではループを止めず、固定のプレースホルダー画像を差し込んで続行します。
// プレースホルダーは参照画像として使わず、次のフレームは最後に成功したフレームを参照します。
// 成功したフレームがまだ無い場合はテキストのみで生成します。
// ctx がキャンセルされた場合はそこで中断し、ctx のエラーを返します。
func (s *Synthesizer) Synthesize(ctx context.Context, plan []domain.FramePlanEntry, in SynthesisInput, onFrame func(domain.FrameOutcome)) ([]domain.FrameOutcome, error) {
	fc := prompt.FrameContext{
		Concept:              in.Concept,
		StyleDescriptor:      in.StyleDescriptor,
		BackgroundDescriptor: in.BackgroundDescriptor,
		TotalFrames:          len(plan),
	}

	outcomes := make([]domain.FrameOutcome, 0, len(plan))
	var lastGood []byte
	lastGoodIndex := -1

	for i, entry := range plan {
		if i > 0 {
			if err := s.wait(ctx); err != nil {
				return outcomes, err
			}
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		text, reference := s.framePrompt(fc, i, entry.Description, in.InitialReference, lastGood, lastGoodIndex)
		resp, err := s.executor.GenerateImage(ctx, text, reference)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcomes, ctxErr
		}

		outcome := domain.FrameOutcome{Index: i, Prompt: text}
		switch {
		case err != nil:
			outcome.Kind, outcome.Data, outcome.Err = domain.OutcomePlaceholder, imgutil.Placeholder(), err
		case resp == nil || len(resp.Data) == 0:
			outcome.Kind, outcome.Data, outcome.Err = domain.OutcomePlaceholder, imgutil.Placeholder(), ErrNoImage
		default:
			outcome.Kind, outcome.Data = domain.OutcomeSuccess, resp.Data
			lastGood, lastGoodIndex = resp.Data, i
		}

		if outcome.Kind == domain.OutcomePlaceholder {
			slog.WarnContext(ctx, "フレーム生成に失敗したためプレースホルダーを使用します",
				"frame", i+1, "total", len(plan), "error", outcome.Err)
		} else {
			slog.InfoContext(ctx, "フレームを生成しました", "frame", i+1, "total", len(plan), "referenced", reference != nil)
		}

		outcomes = append(outcomes, outcome)
		if onFrame != nil {
			onFrame(outcome)
		}
	}

	return outcomes, nil
}

// framePrompt はフレーム番号と参照画像の有無に応じてプロンプトと添付画像を選びます。
func (s *Synthesizer) framePrompt(fc prompt.FrameContext, i int, description string, initial, lastGood []byte, lastGoodIndex int) (string, []byte) {
	switch {
	case i == 0 && len(initial) > 0:
		return prompt.FirstFramePrompt(fc, description) + " " + prompt.ReferenceHint, initial
	case i == 0:
		return prompt.FirstFramePrompt(fc, description), nil
	case lastGood != nil:
		return prompt.ChainedFramePrompt(fc, i, lastGoodIndex, description), lastGood
	default:
		return prompt.StandaloneFramePrompt(fc, i, description), nil
	}
}

func (s *Synthesizer) wait(ctx context.Context) error {
	if s.delay == 0 {
		return nil
	}
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
