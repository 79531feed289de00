package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/gemini-sprite-kit/pkg/atlas"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/generator"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/shouni/gemini-sprite-kit/pkg/metrics"
	"github.com/shouni/gemini-sprite-kit/pkg/prompt"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const hookTimeout = 3 * time.Second

var tracer = otel.Tracer("github.com/shouni/gemini-sprite-kit/pkg/pipeline")

// Dependencies は Runner が使う部品です。Logger と Quota は nil なら何もしない実装になります。
type Dependencies struct {
	Planner     FramePlanner
	Synthesizer FrameSynthesizer
	Remover     BackgroundRemover
	Assembler   AtlasAssembler
	// Fetcher は nil を許容し、その場合 referenceImageUrl は無視されます。
	Fetcher ReferenceFetcher
	Logger  GenerationLogger
	Quota   QuotaChecker
	// Metrics は nil を許容します。
	Metrics   *metrics.JobMetrics
	MaxFrames int
}

// Runner は1リクエストを計画から合成まで実行し、進捗イベントを発行します。
// ジョブ間で共有する可変状態は持たないため、複数のリクエストから同時に使えます。
type Runner struct {
	planner     FramePlanner
	synthesizer FrameSynthesizer
	remover     BackgroundRemover
	assembler   AtlasAssembler
	fetcher     ReferenceFetcher
	logger      GenerationLogger
	quota       QuotaChecker
	metrics     *metrics.JobMetrics
	maxFrames   int
}

// NewRunner は依存関係を検証して Runner を初期化します。
func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if deps.Remover == nil {
		return nil, fmt.Errorf("background remover is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}

	r := &Runner{
		planner:     deps.Planner,
		synthesizer: deps.Synthesizer,
		remover:     deps.Remover,
		assembler:   deps.Assembler,
		fetcher:     deps.Fetcher,
		logger:      deps.Logger,
		quota:       deps.Quota,
		metrics:     deps.Metrics,
		maxFrames:   deps.MaxFrames,
	}
	if r.logger == nil {
		r.logger = NopLogger{}
	}
	if r.quota == nil {
		r.quota = AllowAll{}
	}
	if r.maxFrames <= 0 {
		r.maxFrames = domain.DefaultMaxFrames
	}
	return r, nil
}

// Validate は既定値を補ったうえでリクエストを検証します。
func (r *Runner) Validate(req domain.GenerationRequest) error {
	return req.Normalize().Validate(r.maxFrames)
}

// Run はジョブを開始し、イベントを順に流すチャネルを返します。
// チャネルは complete か error のどちらか1つを最後に送ってから閉じられます。
// ctx がキャンセルされるとジョブも中断します。
func (r *Runner) Run(ctx context.Context, req domain.GenerationRequest, userID string) <-chan domain.ProgressEvent {
	req = req.Normalize()
	out := make(chan domain.ProgressEvent, min(max(req.FrameCount, 0), r.maxFrames)+8)
	go func() {
		defer close(out)
		r.run(ctx, req, userID, newEmitter(ctx, out))
	}()
	return out
}

// Generate は Run の結果を最後まで受け取り、最終成果物だけを返します。
func (r *Runner) Generate(ctx context.Context, req domain.GenerationRequest, userID string) (*domain.GenerationResult, error) {
	var result *domain.GenerationResult
	var err error
	for ev := range r.Run(ctx, req, userID) {
		switch ev.Type {
		case domain.EventComplete:
			result, _ = ev.Data.(*domain.GenerationResult)
		case domain.EventError:
			code := domain.CodeInternal
			if detail, ok := ev.Data.(domain.ErrorDetail); ok {
				code = detail.Code
			}
			err = domain.ErrorFromCode(code, ev.Message)
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("generation ended without a result")
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, req domain.GenerationRequest, userID string, em *emitter) {
	start := time.Now()
	jobID := newJobID()

	ctx, span := tracer.Start(ctx, "spritegen.job", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.style", req.Style),
		attribute.Int("job.frame_count", req.FrameCount),
		attribute.Int("job.canvas_size", req.CanvasSize),
	))
	defer span.End()

	logger := slog.With("job_id", jobID, "user_id", userID)

	if err := req.Validate(r.maxFrames); err != nil {
		em.fail(err)
		return
	}

	em.status(0, "Checking quota")
	if err := r.checkQuota(ctx, req, userID); err != nil {
		logger.WarnContext(ctx, "利用枠の確認でジョブを拒否しました", "error", err)
		span.SetStatus(codes.Error, err.Error())
		em.fail(err)
		return
	}

	logID := r.logStart(ctx, req, userID)
	if r.metrics != nil {
		r.metrics.RecordJobStarted(ctx, req.Style, req.FrameCount)
	}

	result, err := r.execute(ctx, req, jobID, em)
	duration := time.Since(start)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		errType := domain.ErrorCode(err)
		logger.WarnContext(ctx, "スプライト生成に失敗しました", "error", err, "duration", duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, errType)
		if r.metrics != nil {
			r.metrics.RecordJobFailed(ctx, req.Style, errType, duration)
		}
		em.fail(err)
		errMsg := err.Error()
		if errType == domain.CodeCanceled {
			errMsg = domain.CodeCanceled
		}
		r.logComplete(ctx, logID, false, duration, errMsg)
		return
	}

	result.DurationMs = duration.Milliseconds()
	logger.InfoContext(ctx, "スプライト生成が完了しました",
		"frames", len(result.Frames), "failed", len(result.FailedFrames), "duration", duration)
	if r.metrics != nil {
		r.metrics.RecordJobCompleted(ctx, req.Style, len(result.FailedFrames), duration)
	}
	em.complete(result)
	r.logComplete(ctx, logID, true, duration, "")
}

// execute は計画、合成、背景除去、アトラス合成を順に実行します。
func (r *Runner) execute(ctx context.Context, req domain.GenerationRequest, jobID string, em *emitter) (*domain.GenerationResult, error) {
	n := req.FrameCount

	// Planning
	em.status(2, fmt.Sprintf("Planning %d frames", n))
	plan, err := r.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	em.status(progressPlanned, "Frame plan ready")

	reference := r.fetchReference(ctx, req.ReferenceURL)

	// Synthesizing(0..N)
	tween := gween.New(progressPlanned, progressSynthesized, float32(n), ease.Linear)
	in := generator.SynthesisInput{
		Concept:              req.Concept,
		StyleDescriptor:      prompt.ResolveStyle(req.Style),
		BackgroundDescriptor: prompt.ResolveBackground(req.Background),
		InitialReference:     reference,
	}
	onFrame := func(o domain.FrameOutcome) {
		value, _ := tween.Update(1)
		msg := fmt.Sprintf("Generated frame %d of %d", o.Index+1, n)
		if o.Kind == domain.OutcomePlaceholder {
			msg = fmt.Sprintf("Frame %d of %d failed, using placeholder", o.Index+1, n)
		}
		if r.metrics != nil {
			r.metrics.RecordFrame(ctx, o.Kind.String())
		}
		em.frame(int(value+0.5), o.Index+1, n, msg)
	}

	synthCtx, span := tracer.Start(ctx, "spritegen.synthesize")
	outcomes, err := r.synthesizer.Synthesize(synthCtx, plan, in, onFrame)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("フレーム生成が中断されました: %w", err)
	}

	// Assembling
	frames := make([]domain.FrameImage, len(outcomes))
	for i, o := range outcomes {
		frames[i] = domain.FrameImage{Index: o.Index, Data: o.Data}
	}
	if req.Background == domain.BackgroundTransparent {
		em.status(progressSynthesized, "Removing backgrounds")
		if err := r.removeBackgrounds(ctx, outcomes, frames); err != nil {
			return nil, err
		}
	}
	for i := range frames {
		frames[i] = normalizeFrame(ctx, frames[i])
	}

	em.status(progressBackground, "Assembling sprite sheet")
	asmCtx, asmSpan := tracer.Start(ctx, "spritegen.assemble")
	assembled, err := r.assembler.Assemble(asmCtx, frames, req.CanvasSize)
	asmSpan.End()
	if err != nil {
		return nil, fmt.Errorf("スプライトシートの合成に失敗しました: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	em.status(progressAssembled, "Finalizing result")

	return buildResult(jobID, plan, outcomes, frames, assembled, req, r.assembler.FPS()), nil
}

func (r *Runner) checkQuota(ctx context.Context, req domain.GenerationRequest, userID string) error {
	decision, err := r.quota.CheckQuota(ctx, userID, req.FrameCount, req.CanvasSize)
	if err != nil {
		return fmt.Errorf("利用枠の確認に失敗しました: %w", err)
	}
	if !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "quota exceeded"
		}
		return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, reason)
	}
	return nil
}

func (r *Runner) plan(ctx context.Context, req domain.GenerationRequest) ([]domain.FramePlanEntry, error) {
	ctx, span := tracer.Start(ctx, "spritegen.plan")
	defer span.End()

	plan, err := r.planner.Plan(ctx, req.Concept, req.Style, req.FrameCount)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return plan, nil
}

// fetchReference は参照画像の取得に失敗してもテキストのみで続行します。
func (r *Runner) fetchReference(ctx context.Context, rawURL string) []byte {
	if rawURL == "" || r.fetcher == nil {
		return nil
	}
	data, err := r.fetcher.FetchReference(ctx, rawURL)
	if err != nil {
		slog.WarnContext(ctx, "参照画像を取得できないため参照なしで続行します", "url", rawURL, "error", err)
		return nil
	}
	return data
}

// removeBackgrounds は成功したフレームの背景を並列に除去します。プレースホルダーは既に透明です。
func (r *Runner) removeBackgrounds(ctx context.Context, outcomes []domain.FrameOutcome, frames []domain.FrameImage) error {
	ctx, span := tracer.Start(ctx, "spritegen.remove_background")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, o := range outcomes {
		if o.Kind != domain.OutcomeSuccess {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frames[i].Data = r.remover.Apply(gctx, o.Data)
			return nil
		})
	}
	return g.Wait()
}

// normalizeFrame はフレームを PNG に揃えます。読めないデータは合成時にスキップされるよう元のまま残します。
func normalizeFrame(ctx context.Context, f domain.FrameImage) domain.FrameImage {
	data, err := imgutil.NormalizePNG(f.Data)
	if err != nil {
		slog.WarnContext(ctx, "フレームをPNGに変換できませんでした", "index", f.Index, "error", err)
		return f
	}
	f.Data, f.Encoding = data, domain.EncodingPNG
	return f
}

func (r *Runner) logStart(ctx context.Context, req domain.GenerationRequest, userID string) string {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	logID, err := r.logger.LogGenerationStart(hctx, req, userID)
	if err != nil {
		slog.WarnContext(ctx, "生成開始の記録に失敗しました", "error", err)
		return ""
	}
	return logID
}

func (r *Runner) logComplete(ctx context.Context, logID string, success bool, duration time.Duration, errMsg string) {
	if logID == "" {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	if err := r.logger.LogGenerationComplete(hctx, logID, success, duration, errMsg); err != nil {
		slog.WarnContext(ctx, "生成完了の記録に失敗しました", "log_id", logID, "error", err)
	}
}

func buildResult(jobID string, plan []domain.FramePlanEntry, outcomes []domain.FrameOutcome, frames []domain.FrameImage, assembled *atlas.Result, req domain.GenerationRequest, fps int) *domain.GenerationResult {
	result := &domain.GenerationResult{
		JobID:         jobID,
		FramePlan:     plan,
		Frames:        make([]domain.FrameRef, len(outcomes)),
		Prompts:       make([]string, len(outcomes)),
		FailedFrames:  []int{},
		SkippedFrames: []int{},
		SpriteSheet:   imgutil.ToDataURL(assembled.PNG),
		Atlas:         assembled.Atlas,
		Grid:          assembled.Grid,
		CSS:           atlas.GenerateCSS(atlas.DefaultClassName, len(outcomes), req.CanvasSize, fps),
	}
	for i, o := range outcomes {
		placeholder := o.Kind == domain.OutcomePlaceholder
		result.Frames[i] = domain.FrameRef{
			Index:       o.Index,
			Image:       imgutil.ToDataURL(frames[i].Data),
			Placeholder: placeholder,
		}
		result.Prompts[i] = o.Prompt
		if placeholder {
			result.FailedFrames = append(result.FailedFrames, o.Index)
		}
	}
	result.SkippedFrames = append(result.SkippedFrames, assembled.Skipped...)
	return result
}

func newJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
