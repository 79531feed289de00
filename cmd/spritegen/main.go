package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/atlas"
	"github.com/shouni/gemini-sprite-kit/pkg/config"
	"github.com/shouni/gemini-sprite-kit/pkg/generator"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/shouni/gemini-sprite-kit/pkg/metrics"
	"github.com/shouni/gemini-sprite-kit/pkg/pipeline"
	"github.com/shouni/gemini-sprite-kit/pkg/server"
	"github.com/shouni/gemini-sprite-kit/pkg/store"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})))

	if err := run(cfg); err != nil {
		slog.Error("サーバーが異常終了しました", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := initTracer()
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	mp, err := initMeter(os.Stderr, metricInterval)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(shutdownCtx)
	}()

	deps, cleanup, err := buildDependencies(ctx, cfg, mp.Meter("spritegen"))
	if err != nil {
		return err
	}
	defer cleanup()

	runner, err := pipeline.NewRunner(deps.pipeline)
	if err != nil {
		return err
	}
	srv, err := server.New(runner, server.Options{Pinger: deps.pinger, MaxBodyBytes: cfg.Generation.MaxRequestSize})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("サーバーを起動します", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("シャットダウンします")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("サーバーを停止しました")
	return nil
}

type dependencies struct {
	pipeline pipeline.Dependencies
	pinger   server.Pinger
}

// buildDependencies は上流クライアント、ストア、各処理部品を組み立てます。
func buildDependencies(ctx context.Context, cfg *config.Config, meter metric.Meter) (*dependencies, func(), error) {
	cleanup := func() {}

	aiClient, err := generator.NewGeminiClient(ctx, generator.ClientConfig{
		APIKey:         cfg.Gemini.APIKey,
		Temperature:    cfg.Gemini.Temperature,
		MaxRetries:     cfg.Gemini.MaxRetries,
		InitialDelay:   cfg.Gemini.RetryInitialDelay,
		MaxDelay:       cfg.Gemini.RetryMaxDelay,
		RequestTimeout: cfg.Gemini.Timeout,
	})
	if err != nil {
		return nil, cleanup, err
	}

	core, err := generator.NewGeminiImageCore(aiClient, httpkit.New(cfg.Generation.FetchTimeout), cfg.Gemini.ImageModel, cfg.Gemini.CompressReference)
	if err != nil {
		return nil, cleanup, err
	}
	planner, err := generator.NewPlanner(aiClient, cfg.Gemini.TextModel)
	if err != nil {
		return nil, cleanup, err
	}
	synth, err := generator.NewSynthesizer(core, cfg.Generation.FrameDelay)
	if err != nil {
		return nil, cleanup, err
	}
	jobMetrics, err := metrics.NewJobMetrics(meter)
	if err != nil {
		return nil, cleanup, fmt.Errorf("metrics: %w", err)
	}

	deps := &dependencies{
		pipeline: pipeline.Dependencies{
			Planner:     planner,
			Synthesizer: synth,
			Remover:     imgutil.NewBackgroundRemover(cfg.Chroma.Tolerance, cfg.Chroma.Feather, imgutil.ParseEstimator(cfg.Chroma.Estimator)),
			Assembler:   atlas.NewAssembler(cfg.Generation.FPS),
			Fetcher:     core,
			Metrics:     jobMetrics,
			MaxFrames:   cfg.Generation.MaxFrames,
		},
	}

	if cfg.DSN == "" {
		slog.Warn("DSN が未設定のため生成履歴と利用枠は記録しません")
		return deps, cleanup, nil
	}

	st, err := store.Open(ctx, cfg.DSN, store.Limits{
		DailyFrameLimit: cfg.Quota.DailyFrameLimit,
		MaxCanvasSize:   cfg.Quota.MaxCanvasSize,
	})
	if err != nil {
		return nil, cleanup, err
	}
	deps.pipeline.Logger = st
	deps.pipeline.Quota = st
	deps.pinger = st
	cleanup = func() {
		if err := st.Close(); err != nil {
			slog.Warn("ストアのクローズに失敗しました", "error", err)
		}
	}
	return deps, cleanup, nil
}

func initTracer() (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, nil
}

// metricInterval はメトリクスを書き出す間隔です。
const metricInterval = time.Minute

func initMeter(w io.Writer, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
