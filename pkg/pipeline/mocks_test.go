package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/atlas"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/generator"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockPlanner struct {
	planFunc func(ctx context.Context, concept, styleKey string, frameCount int) ([]domain.FramePlanEntry, error)
}

func (m *mockPlanner) Plan(ctx context.Context, concept, styleKey string, frameCount int) ([]domain.FramePlanEntry, error) {
	if m.planFunc != nil {
		return m.planFunc(ctx, concept, styleKey, frameCount)
	}
	return generator.FallbackPlan(concept, frameCount), nil
}

type executorCall struct {
	prompt    string
	reference []byte
}

// mockExecutor は呼び出しごとに色の違う単色 PNG を返します。
type mockExecutor struct {
	t      *testing.T
	mu     sync.Mutex
	calls  []executorCall
	err    error
	failAt map[int]bool
	onCall func(i int)
	// jpeg が true なら JPEG で返します。
	jpeg bool
}

func (m *mockExecutor) GenerateImage(ctx context.Context, prompt string, reference []byte) (*domain.ImageResponse, error) {
	m.mu.Lock()
	i := len(m.calls)
	m.calls = append(m.calls, executorCall{prompt: prompt, reference: reference})
	m.mu.Unlock()

	if m.onCall != nil {
		m.onCall(i)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.failAt[i] {
		return nil, errors.New("image service unavailable")
	}
	if m.jpeg {
		return &domain.ImageResponse{Data: frameJPEG(m.t, i), MimeType: "image/jpeg"}, nil
	}
	return &domain.ImageResponse{Data: framePNG(m.t, i), MimeType: "image/png"}, nil
}

type logCall struct {
	success  bool
	duration time.Duration
	errMsg   string
}

type mockLogger struct {
	mu        sync.Mutex
	startErr  error
	startCtx  context.Context
	started   int
	completed []logCall
}

func (m *mockLogger) LogGenerationStart(ctx context.Context, req domain.GenerationRequest, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	m.startCtx = ctx
	if m.startErr != nil {
		return "", m.startErr
	}
	return "log-1", nil
}

func (m *mockLogger) LogGenerationComplete(ctx context.Context, logID string, success bool, duration time.Duration, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, logCall{success: success, duration: duration, errMsg: errMsg})
	return errors.New("log backend is down")
}

type mockQuota struct {
	decision domain.QuotaDecision
	err      error
	calls    int
}

func (m *mockQuota) CheckQuota(ctx context.Context, userID string, frameCount, canvasSize int) (domain.QuotaDecision, error) {
	m.calls++
	return m.decision, m.err
}

type mockFetcher struct {
	data []byte
	err  error
}

func (m *mockFetcher) FetchReference(ctx context.Context, rawURL string) ([]byte, error) {
	return m.data, m.err
}

// --- Helpers ---

var framePalette = []color.NRGBA{
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
	{R: 255, G: 255, A: 255},
	{R: 255, B: 255, A: 255},
	{G: 255, B: 255, A: 255},
}

// framePNG は中央に色付きの四角、周囲が白のフレーム画像を返します。
func framePNG(t *testing.T, i int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	fg := framePalette[i%len(framePalette)]
	for y := range 40 {
		for x := range 40 {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 10 && x < 30 && y >= 10 && y < 30 {
				c = fg
			}
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := imgutil.EncodePNG(img)
	require.NoError(t, err)
	return data
}

func frameJPEG(t *testing.T, i int) []byte {
	t.Helper()
	img, err := imgutil.Decode(framePNG(t, i))
	require.NoError(t, err)
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

type fixture struct {
	exec    *mockExecutor
	planner *mockPlanner
	logger  *mockLogger
	quota   *mockQuota
	fetcher *mockFetcher
	runner  *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		exec:    &mockExecutor{t: t},
		planner: &mockPlanner{},
		logger:  &mockLogger{},
		quota:   &mockQuota{decision: domain.QuotaDecision{Allowed: true}},
		fetcher: &mockFetcher{},
	}
	synth, err := generator.NewSynthesizer(f.exec, 0)
	require.NoError(t, err)

	f.runner, err = NewRunner(Dependencies{
		Planner:     f.planner,
		Synthesizer: synth,
		Remover:     imgutil.NewBackgroundRemover(0, 0, imgutil.EstimatorCorners),
		Assembler:   atlas.NewAssembler(atlas.DefaultFPS),
		Fetcher:     f.fetcher,
		Logger:      f.logger,
		Quota:       f.quota,
	})
	require.NoError(t, err)
	return f
}

func drain(ch <-chan domain.ProgressEvent) []domain.ProgressEvent {
	var events []domain.ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}
