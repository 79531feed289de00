package generator

import (
	"errors"
	"time"
)

const (
	ImageCompressionQuality = 75
	DefaultFrameDelay       = 500 * time.Millisecond
)

var (
	// ErrMissingAPIKey は API キーが設定されていない構成エラーです。
	ErrMissingAPIKey = errors.New("gemini api key is not configured")
	// ErrNoImage は応答に画像パーツが含まれていなかったことを示します。
	ErrNoImage = errors.New("no image data in response")
)

// ImageOutput は Core の内部解析結果
type ImageOutput struct {
	Data     []byte
	MimeType string
}
