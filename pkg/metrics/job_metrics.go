package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "spritegen"

// JobMetrics はスプライト生成ジョブのメトリクスを記録します。
type JobMetrics struct {
	jobsStartedCounter   metric.Int64Counter
	jobsCompletedCounter metric.Int64Counter
	jobsFailedCounter    metric.Int64Counter
	framesCounter        metric.Int64Counter
	jobDurationHistogram metric.Float64Histogram
	jobsActiveGauge      metric.Int64UpDownCounter
}

// NewJobMetrics は計器を登録します。meter が nil ならグローバルの MeterProvider を使います。
func NewJobMetrics(meter metric.Meter) (*JobMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	jobsStartedCounter, err := meter.Int64Counter(
		"spritegen.jobs.started",
		metric.WithDescription("Total number of generation jobs started"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsCompletedCounter, err := meter.Int64Counter(
		"spritegen.jobs.completed",
		metric.WithDescription("Total number of generation jobs completed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsFailedCounter, err := meter.Int64Counter(
		"spritegen.jobs.failed",
		metric.WithDescription("Total number of generation jobs that failed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	framesCounter, err := meter.Int64Counter(
		"spritegen.frames",
		metric.WithDescription("Synthesized frames by outcome"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, err
	}

	jobDurationHistogram, err := meter.Float64Histogram(
		"spritegen.job.duration",
		metric.WithDescription("Duration of generation jobs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	jobsActiveGauge, err := meter.Int64UpDownCounter(
		"spritegen.jobs.active",
		metric.WithDescription("Number of generation jobs in progress"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &JobMetrics{
		jobsStartedCounter:   jobsStartedCounter,
		jobsCompletedCounter: jobsCompletedCounter,
		jobsFailedCounter:    jobsFailedCounter,
		framesCounter:        framesCounter,
		jobDurationHistogram: jobDurationHistogram,
		jobsActiveGauge:      jobsActiveGauge,
	}, nil
}

// RecordJobStarted はジョブの開始を記録します。
func (jm *JobMetrics) RecordJobStarted(ctx context.Context, style string, frameCount int) {
	jm.jobsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("style", style),
			attribute.Int("frame_count", frameCount),
		),
	)
	jm.jobsActiveGauge.Add(ctx, 1)
}

// RecordFrame は1フレームの合成結果を記録します。
func (jm *JobMetrics) RecordFrame(ctx context.Context, outcome string) {
	jm.framesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordJobCompleted はジョブの正常終了を記録します。
func (jm *JobMetrics) RecordJobCompleted(ctx context.Context, style string, failedFrames int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("style", style),
		attribute.String("status", "completed"),
		attribute.Bool("degraded", failedFrames > 0),
	)
	jm.jobsCompletedCounter.Add(ctx, 1, attrs)
	jm.jobDurationHistogram.Record(ctx, duration.Seconds(), attrs)
	jm.jobsActiveGauge.Add(ctx, -1)
}

// RecordJobFailed はジョブの失敗を記録します。errorType は "planning" や "canceled" などの分類です。
func (jm *JobMetrics) RecordJobFailed(ctx context.Context, style, errorType string, duration time.Duration) {
	jm.jobsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("style", style),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	jm.jobDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("style", style),
			attribute.String("status", "failed"),
		),
	)
	jm.jobsActiveGauge.Add(ctx, -1)
}
