package generator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// GeminiImageCore は画像生成リクエストの組み立て、実行、応答の解析を担う基盤クラスです。
type GeminiImageCore struct {
	aiClient          GenerativeModel
	httpClient        HTTPClient
	model             string
	compressReference bool
}

// NewGeminiImageCore は依存関係を注入して GeminiImageCore を初期化します。
// httpClient は nil を許容し、その場合は参照画像URLの取得を行いません。
func NewGeminiImageCore(aiClient GenerativeModel, httpClient HTTPClient, model string, compressReference bool) (*GeminiImageCore, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient is required")
	}
	if model == "" {
		return nil, fmt.Errorf("image model name is required")
	}

	return &GeminiImageCore{
		aiClient:          aiClient,
		httpClient:        httpClient,
		model:             model,
		compressReference: compressReference,
	}, nil
}

// GenerateImage はテキストパーツと任意の参照画像パーツで画像を1枚生成します。
func (c *GeminiImageCore) GenerateImage(ctx context.Context, prompt string, reference []byte) (*domain.ImageResponse, error) {
	parts := []*genai.Part{{Text: prompt}}

	if len(reference) > 0 {
		if imgPart := c.referencePart(ctx, reference); imgPart != nil {
			parts = append(parts, imgPart)
		} else {
			slog.WarnContext(ctx, "参照画像をパーツに変換できませんでした。テキストのみで続行します")
		}
	}

	return c.executeRequest(ctx, parts, gemini.GenerateOptions{AspectRatio: "1:1"})
}

// FetchReference は参照画像URLから画像をダウンロードします。
func (c *GeminiImageCore) FetchReference(ctx context.Context, rawURL string) ([]byte, error) {
	if c.httpClient == nil {
		return nil, fmt.Errorf("reference download is not configured")
	}
	if safe, err := IsSafeURL(rawURL); err != nil || !safe {
		return nil, fmt.Errorf("安全ではないURLが指定されました: %w", err)
	}

	data, err := c.httpClient.FetchBytes(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("参照画像のダウンロードに失敗しました: %w", err)
	}
	if c.toPart(data) == nil {
		return nil, fmt.Errorf("参照画像のMIMEタイプが画像ではありません")
	}
	return data, nil
}
