package pipeline

import (
	"context"
	"time"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

// NopLogger は何も記録しない GenerationLogger です。
type NopLogger struct{}

func (NopLogger) LogGenerationStart(context.Context, domain.GenerationRequest, string) (string, error) {
	return "", nil
}

func (NopLogger) LogGenerationComplete(context.Context, string, bool, time.Duration, string) error {
	return nil
}

// AllowAll は常に許可する QuotaChecker です。
type AllowAll struct{}

func (AllowAll) CheckQuota(context.Context, string, int, int) (domain.QuotaDecision, error) {
	return domain.QuotaDecision{Allowed: true}, nil
}
