package domain

import (
	"context"
	"errors"
	"fmt"
)

// EventType は進捗イベントの種別です。
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// IsTerminal は complete か error のどちらかであれば true を返します。
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// ProgressEvent はクライアントへ順序通りに送られる追記専用イベントです。
type ProgressEvent struct {
	Type         EventType `json:"type"`
	Message      string    `json:"message,omitempty"`
	Progress     int       `json:"progress"`
	CurrentFrame int       `json:"currentFrame,omitempty"`
	TotalFrames  int       `json:"totalFrames,omitempty"`
	Data         any       `json:"data,omitempty"`
}

// エラーイベントとHTTPエラー応答で共通に使う分類コードです。
const (
	CodeInvalidRequest = "invalid_request"
	CodeQuotaExceeded  = "quota_exceeded"
	CodeUpstream       = "upstream_error"
	CodeCanceled       = "canceled"
	CodeInternal       = "internal_error"
)

// ErrorDetail は error イベントの data に載る分類情報です。
type ErrorDetail struct {
	Code string `json:"code"`
}

// ErrorCode は err を分類コードに変換します。
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	case errors.Is(err, ErrUpstream):
		return CodeUpstream
	default:
		return CodeInternal
	}
}

// ErrorFromCode は error イベントから呼び出し側で判定できるエラーを復元します。
func ErrorFromCode(code, message string) error {
	var base error
	switch code {
	case CodeInvalidRequest:
		base = ErrInvalidRequest
	case CodeQuotaExceeded:
		base = ErrQuotaExceeded
	case CodeCanceled:
		base = context.Canceled
	case CodeUpstream:
		base = ErrUpstream
	default:
		return errors.New(message)
	}
	return fmt.Errorf("%w: %s", base, message)
}
