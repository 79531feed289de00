package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/shouni/gemini-sprite-kit/pkg/atlas"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/generator"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/shouni/gemini-sprite-kit/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioRequest() domain.GenerationRequest {
	return domain.GenerationRequest{
		Concept:    "growing star",
		Style:      "pixel-art",
		FrameCount: 4,
		CanvasSize: 64,
		Background: domain.BackgroundSolid,
	}
}

func terminal(t *testing.T, events []domain.ProgressEvent) domain.ProgressEvent {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.True(t, last.Type.IsTerminal(), "last event must be terminal: %+v", last)
	for _, ev := range events[:len(events)-1] {
		require.False(t, ev.Type.IsTerminal(), "terminal event before the end: %+v", ev)
	}
	return last
}

func decodeDataURL(t *testing.T, url string) []byte {
	t.Helper()
	_, payload, ok := strings.Cut(url, ";base64,")
	require.True(t, ok)
	data, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	return data
}

func TestRunner_ScenarioA(t *testing.T) {
	f := newFixture(t)

	events := drain(f.runner.Run(context.Background(), scenarioRequest(), "user-1"))

	last := terminal(t, events)
	require.Equal(t, domain.EventComplete, last.Type, last.Message)
	result, ok := last.Data.(*domain.GenerationResult)
	require.True(t, ok)

	t.Run("フレームは順番に生成され直前のフレームを参照するのだ", func(t *testing.T) {
		require.Len(t, f.exec.calls, 4)
		assert.Nil(t, f.exec.calls[0].reference)
		for i := 1; i < 4; i++ {
			assert.Equal(t, framePNG(t, i-1), f.exec.calls[i].reference, "frame %d", i)
		}
	})

	t.Run("2x2 のアトラスが組み立てられるのだ", func(t *testing.T) {
		assert.Equal(t, domain.Grid{Cols: 2, Rows: 2}, result.Grid)
		assert.Equal(t, domain.Size{W: 128, H: 128}, result.Atlas.Meta.Size)
		assert.Equal(t, atlas.FormatGrid, result.Atlas.Meta.Format)
		assert.Equal(t, 10, result.Atlas.Meta.FPS)
		assert.Equal(t, domain.FrameRect{X: 0, Y: 0, W: 64, H: 64}, result.Atlas.Frames["frame_0"])
		assert.Equal(t, domain.FrameRect{X: 64, Y: 0, W: 64, H: 64}, result.Atlas.Frames["frame_1"])
		assert.Equal(t, domain.FrameRect{X: 0, Y: 64, W: 64, H: 64}, result.Atlas.Frames["frame_2"])
		assert.Equal(t, domain.FrameRect{X: 64, Y: 64, W: 64, H: 64}, result.Atlas.Frames["frame_3"])
	})

	t.Run("結果に計画とプロンプトと各フレームが含まれるのだ", func(t *testing.T) {
		assert.NotEmpty(t, result.JobID)
		assert.Len(t, result.FramePlan, 4)
		assert.Len(t, result.Prompts, 4)
		assert.Equal(t, f.exec.calls[2].prompt, result.Prompts[2])
		require.Len(t, result.Frames, 4)
		for i, fr := range result.Frames {
			assert.Equal(t, i, fr.Index)
			assert.False(t, fr.Placeholder)
			assert.Equal(t, imgutil.ToDataURL(framePNG(t, i)), fr.Image)
		}
		assert.Empty(t, result.FailedFrames)
		assert.Empty(t, result.SkippedFrames)
		assert.True(t, strings.HasPrefix(result.SpriteSheet, "data:image/png;base64,"))
		assert.Equal(t, atlas.GenerateCSS(atlas.DefaultClassName, 4, 64, 10), result.CSS)
	})

	t.Run("フレームごとの進捗イベントが順番に発行されるのだ", func(t *testing.T) {
		var frames []int
		for _, ev := range events {
			if ev.Type == domain.EventProgress {
				frames = append(frames, ev.CurrentFrame)
				assert.Equal(t, 4, ev.TotalFrames)
			}
		}
		assert.Equal(t, []int{1, 2, 3, 4}, frames)
	})

	t.Run("生成の開始と完了が記録されるのだ", func(t *testing.T) {
		assert.Equal(t, 1, f.logger.started)
		require.Len(t, f.logger.completed, 1)
		assert.True(t, f.logger.completed[0].success)
		assert.Empty(t, f.logger.completed[0].errMsg)
	})
}

func TestRunner_ScenarioB(t *testing.T) {
	f := newFixture(t)
	f.exec.err = errors.New("image service is down")

	result, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, result.FailedFrames)
	assert.Equal(t, domain.Size{W: 128, H: 128}, result.Atlas.Meta.Size)
	require.Len(t, result.Frames, 4)
	for _, fr := range result.Frames {
		assert.True(t, fr.Placeholder)
		assert.Equal(t, imgutil.Placeholder(), decodeDataURL(t, fr.Image))
	}
	// 成功フレームが無いので参照は一度も添付されない
	for _, call := range f.exec.calls {
		assert.Nil(t, call.reference)
	}
}

func TestRunner_PartialFailure(t *testing.T) {
	f := newFixture(t)
	f.exec.failAt = map[int]bool{2: true}

	result, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, []int{2}, result.FailedFrames)
	assert.True(t, result.Frames[2].Placeholder)
	assert.Equal(t, imgutil.Placeholder(), decodeDataURL(t, result.Frames[2].Image))
	assert.Equal(t, framePNG(t, 1), f.exec.calls[3].reference)
}

func TestRunner_ProgressMonotonic(t *testing.T) {
	for _, bg := range []domain.BackgroundMode{domain.BackgroundSolid, domain.BackgroundTransparent} {
		t.Run(string(bg), func(t *testing.T) {
			f := newFixture(t)
			req := scenarioRequest()
			req.Background = bg
			req.FrameCount = 7

			events := drain(f.runner.Run(context.Background(), req, "user-1"))

			last := terminal(t, events)
			assert.Equal(t, domain.EventComplete, last.Type)
			assert.Equal(t, 100, last.Progress)
			prev := 0
			for _, ev := range events {
				assert.GreaterOrEqual(t, ev.Progress, prev, "%+v", ev)
				if ev.Type != domain.EventComplete {
					assert.Less(t, ev.Progress, 100, "%+v", ev)
				}
				prev = ev.Progress
			}
		})
	}
}

func TestRunner_TransparentBackground(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.Background = domain.BackgroundTransparent
	req.FrameCount = 1

	result, err := f.runner.Generate(context.Background(), req, "user-1")

	require.NoError(t, err)
	img, err := imgutil.Decode(decodeDataURL(t, result.Frames[0].Image))
	require.NoError(t, err)
	nrgba := imgutil.ToNRGBA(img)
	assert.Equal(t, uint8(0), nrgba.NRGBAAt(0, 0).A, "white background should be transparent")
	assert.Equal(t, uint8(255), nrgba.NRGBAAt(20, 20).A, "subject should stay opaque")
	assert.Contains(t, f.exec.calls[0].prompt, "chroma-key")
}

func TestRunner_FramesNormalizedToPNG(t *testing.T) {
	t.Run("JPEG で返ったフレームも PNG に揃えられるのだ", func(t *testing.T) {
		f := newFixture(t)
		f.exec.jpeg = true
		req := scenarioRequest()
		req.FrameCount = 2

		result, err := f.runner.Generate(context.Background(), req, "user-1")

		require.NoError(t, err)
		require.Len(t, result.Frames, 2)
		for _, fr := range result.Frames {
			assert.True(t, strings.HasPrefix(fr.Image, "data:image/png;base64,"), fr.Image[:32])
		}
		assert.Empty(t, result.SkippedFrames)
	})

	t.Run("デコードできたフレームのエンコーディングは png なのだ", func(t *testing.T) {
		got := normalizeFrame(context.Background(), domain.FrameImage{Index: 0, Data: frameJPEG(t, 0)})
		assert.Equal(t, domain.EncodingPNG, got.Encoding)
		_, err := imgutil.Decode(got.Data)
		require.NoError(t, err)
	})

	t.Run("読めないデータは元のまま残りエンコーディングは空なのだ", func(t *testing.T) {
		raw := []byte("broken")
		got := normalizeFrame(context.Background(), domain.FrameImage{Index: 1, Data: raw})
		assert.Equal(t, raw, got.Data)
		assert.Empty(t, got.Encoding)
	})
}

func TestRunner_Quota(t *testing.T) {
	t.Run("利用枠を超えた場合は計画の前にエラーになるのだ", func(t *testing.T) {
		f := newFixture(t)
		f.quota.decision = domain.QuotaDecision{Allowed: false, Reason: "daily frame limit reached"}
		planned := false
		f.planner.planFunc = func(context.Context, string, string, int) ([]domain.FramePlanEntry, error) {
			planned = true
			return nil, nil
		}

		events := drain(f.runner.Run(context.Background(), scenarioRequest(), "user-1"))

		last := terminal(t, events)
		assert.Equal(t, domain.EventError, last.Type)
		assert.Contains(t, last.Message, "daily frame limit reached")
		assert.Equal(t, domain.ErrorDetail{Code: domain.CodeQuotaExceeded}, last.Data)
		assert.False(t, planned)
		assert.Empty(t, f.exec.calls)
		assert.Zero(t, f.logger.started)
	})

	t.Run("Generate は ErrQuotaExceeded を返すのだ", func(t *testing.T) {
		f := newFixture(t)
		f.quota.decision = domain.QuotaDecision{Allowed: false}

		_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	})

	t.Run("利用枠の確認自体に失敗した場合もジョブは失敗するのだ", func(t *testing.T) {
		f := newFixture(t)
		f.quota.err = errors.New("db unavailable")

		_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

		require.Error(t, err)
		assert.Empty(t, f.exec.calls)
	})
}

func TestRunner_PlannerFailure(t *testing.T) {
	f := newFixture(t)
	f.planner.planFunc = func(context.Context, string, string, int) ([]domain.FramePlanEntry, error) {
		return nil, errors.New("llm unavailable")
	}

	_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Empty(t, f.exec.calls)
	require.Len(t, f.logger.completed, 1)
	assert.False(t, f.logger.completed[0].success)
}

func TestRunner_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.FrameCount = 0

	events := drain(f.runner.Run(context.Background(), req, "user-1"))

	require.Len(t, events, 1)
	assert.Equal(t, domain.EventError, events[0].Type)
	assert.Equal(t, domain.ErrorDetail{Code: domain.CodeInvalidRequest}, events[0].Data)
	assert.Zero(t, f.quota.calls)

	_, err := f.runner.Generate(context.Background(), req, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.ErrorIs(t, f.runner.Validate(req), domain.ErrInvalidRequest)

	req.FrameCount = -3
	_, err = f.runner.Generate(context.Background(), req, "user-1")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRunner_Cancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.exec.onCall = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	req := scenarioRequest()
	req.FrameCount = 6

	events := drain(f.runner.Run(ctx, req, "user-1"))

	assert.Len(t, f.exec.calls, 2, "no frames should be requested after cancellation")
	for _, ev := range events {
		assert.NotEqual(t, domain.EventComplete, ev.Type)
	}
	if last := events[len(events)-1]; last.Type.IsTerminal() {
		assert.Equal(t, domain.ErrorDetail{Code: domain.CodeCanceled}, last.Data)
	}
	require.Len(t, f.logger.completed, 1)
	assert.False(t, f.logger.completed[0].success)
	assert.Equal(t, "canceled", f.logger.completed[0].errMsg)
}

func TestRunner_LoggerFailure(t *testing.T) {
	t.Run("完了記録の失敗はジョブを失敗させないのだ", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

		require.NoError(t, err)
		require.Len(t, f.logger.completed, 1)
	})

	t.Run("開始記録に失敗しても生成は続くのだ", func(t *testing.T) {
		f := newFixture(t)
		f.logger.startErr = errors.New("insert failed")

		_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

		require.NoError(t, err)
		assert.Empty(t, f.logger.completed)
	})

	t.Run("記録フックはリクエストのキャンセルから切り離されるのだ", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.runner.Generate(context.Background(), scenarioRequest(), "user-1")

		require.NoError(t, err)
		_, hasDeadline := f.logger.startCtx.Deadline()
		assert.True(t, hasDeadline)
	})
}

func TestRunner_ReferenceImage(t *testing.T) {
	t.Run("参照画像は1枚目に添付されるのだ", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.data = []byte("reference-bytes")
		req := scenarioRequest()
		req.ReferenceURL = "https://example.com/ref.png"

		_, err := f.runner.Generate(context.Background(), req, "user-1")

		require.NoError(t, err)
		assert.Equal(t, []byte("reference-bytes"), f.exec.calls[0].reference)
	})

	t.Run("取得に失敗しても参照なしで続行するのだ", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.err = errors.New("404")
		req := scenarioRequest()
		req.ReferenceURL = "https://example.com/missing.png"

		_, err := f.runner.Generate(context.Background(), req, "user-1")

		require.NoError(t, err)
		assert.Nil(t, f.exec.calls[0].reference)
	})
}

func TestRunner_WithMetrics(t *testing.T) {
	jm, err := metrics.NewJobMetrics(nil)
	require.NoError(t, err)
	synth, err := generator.NewSynthesizer(&mockExecutor{t: t}, 0)
	require.NoError(t, err)
	runner, err := NewRunner(Dependencies{
		Planner:     &mockPlanner{},
		Synthesizer: synth,
		Remover:     imgutil.NewBackgroundRemover(0, 0, imgutil.EstimatorCorners),
		Assembler:   atlas.NewAssembler(0),
		Metrics:     jm,
	})
	require.NoError(t, err)

	result, err := runner.Generate(context.Background(), scenarioRequest(), "anonymous")

	require.NoError(t, err)
	assert.Len(t, result.Frames, 4)
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(Dependencies{})
	assert.Error(t, err)
}
