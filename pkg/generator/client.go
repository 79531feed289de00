package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// ClientConfig は Gemini クライアントの接続とリトライの設定です。
// 接続先の上書きは genai が読む GOOGLE_GEMINI_BASE_URL で行います。
type ClientConfig struct {
	APIKey       string
	Temperature  *float32
	MaxRetries   uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// RequestTimeout は1回の呼び出し（リトライ込み）の上限です。0 なら呼び出し元のコンテキストのみに従います。
	RequestTimeout time.Duration
}

// NewGeminiClient は go-gemini-client のクライアントを生成し、必要なら呼び出し単位のタイムアウトを被せます。
func NewGeminiClient(ctx context.Context, cfg ClientConfig) (GenerativeModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:       cfg.APIKey,
		Temperature:  cfg.Temperature,
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("geminiクライアントの初期化に失敗しました: %w", err)
	}
	return WithRequestTimeout(client, cfg.RequestTimeout), nil
}

// WithRequestTimeout は各呼び出しに timeout の期限を付けた GenerativeModel を返します。
func WithRequestTimeout(model GenerativeModel, timeout time.Duration) GenerativeModel {
	if timeout <= 0 {
		return model
	}
	return &timeoutModel{next: model, timeout: timeout}
}

type timeoutModel struct {
	next    GenerativeModel
	timeout time.Duration
}

func (m *timeoutModel) GenerateContent(ctx context.Context, model string, prompt string) (*gemini.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.next.GenerateContent(ctx, model, prompt)
}

func (m *timeoutModel) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.next.GenerateWithParts(ctx, model, parts, opts)
}
