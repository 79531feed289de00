package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidRequest はリクエストの検証に失敗したことを示します。
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrQuotaExceeded は利用枠を超えたためにジョブが拒否されたことを示します。
	ErrQuotaExceeded = errors.New("generation quota exceeded")
	// ErrUpstream は代替手段のない上流サービスの失敗でジョブが中断したことを示します。
	ErrUpstream = errors.New("upstream service failure")
)

// BackgroundMode はフレーム背景の扱いです。
type BackgroundMode string

const (
	BackgroundTransparent BackgroundMode = "transparent"
	BackgroundSolid       BackgroundMode = "solid"
)

const (
	DefaultStyle      = "pixel-art"
	MaxConceptLength  = 500
	DefaultMaxFrames  = 16
	MinCanvasSize     = 32
	MaxCanvasSize     = 1024
	DefaultCanvasSize = 256
)

// GenerationRequest は1ジョブ分の生成要求です。受理後は変更しません。
type GenerationRequest struct {
	Concept    string         `json:"concept"`
	Style      string         `json:"style"`
	FrameCount int            `json:"frameCount"`
	CanvasSize int            `json:"canvasSize"`
	Background BackgroundMode `json:"background"`
	// ReferenceURL は1枚目のフレームに添付する任意の参照画像URLです。
	ReferenceURL string `json:"referenceImageUrl,omitempty"`
}

// Normalize は省略されたフィールドに既定値を補ったコピーを返します。
func (r GenerationRequest) Normalize() GenerationRequest {
	r.Concept = strings.TrimSpace(r.Concept)
	r.Style = strings.TrimSpace(r.Style)
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	if r.Background == "" {
		r.Background = BackgroundSolid
	}
	if r.CanvasSize == 0 {
		r.CanvasSize = DefaultCanvasSize
	}
	return r
}

// Validate はリクエストを検証します。maxFrames が 0 以下の場合は DefaultMaxFrames を使います。
func (r GenerationRequest) Validate(maxFrames int) error {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if r.Concept == "" {
		return fmt.Errorf("%w: concept is required", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(r.Concept) > MaxConceptLength {
		return fmt.Errorf("%w: concept must be at most %d characters", ErrInvalidRequest, MaxConceptLength)
	}
	if r.FrameCount < 1 || r.FrameCount > maxFrames {
		return fmt.Errorf("%w: frameCount must be between 1 and %d", ErrInvalidRequest, maxFrames)
	}
	if r.CanvasSize < MinCanvasSize || r.CanvasSize > MaxCanvasSize {
		return fmt.Errorf("%w: canvasSize must be between %d and %d", ErrInvalidRequest, MinCanvasSize, MaxCanvasSize)
	}
	switch r.Background {
	case BackgroundTransparent, BackgroundSolid:
	default:
		return fmt.Errorf("%w: unsupported background %q", ErrInvalidRequest, r.Background)
	}
	return nil
}

// QuotaDecision は利用枠チェックの結果です。
type QuotaDecision struct {
	Allowed bool
	Reason  string
}
