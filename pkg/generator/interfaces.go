package generator

import (
	"context"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// GenerativeModel は Gemini との通信を抽象化するインターフェースです。
// 複数ジョブから同時に呼ばれるため、実装は並行呼び出しに対して安全である必要があります。
type GenerativeModel interface {
	GenerateContent(ctx context.Context, model string, prompt string) (*gemini.Response, error)
	GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

// ImageExecutor は1枚の画像生成リクエストを実行します。
type ImageExecutor interface {
	// GenerateImage はプロンプトと任意の参照画像から1枚の画像を生成します。reference が nil ならテキストのみで生成します。
	GenerateImage(ctx context.Context, prompt string, reference []byte) (*domain.ImageResponse, error)
}

// HTTPClient は、URLからデータを取得するためのインターフェースです。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}
