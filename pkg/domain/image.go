package domain

// FrameParameters は LLM が提案する任意の変形パラメータです。
type FrameParameters struct {
	Scale    *float64 `json:"scale,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	Opacity  *float64 `json:"opacity,omitempty"`
}

// FramePlanEntry はフレーム計画の1要素です。
type FramePlanEntry struct {
	Index       int             `json:"index"`
	Description string          `json:"description"`
	Parameters  FrameParameters `json:"parameters"`
}

// ImageResponse は生成された画像データとそのメタデータです。
type ImageResponse struct {
	Data     []byte
	MimeType string
}

// OutcomeKind はフレーム合成の結果種別です。
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomePlaceholder
)

func (k OutcomeKind) String() string {
	if k == OutcomePlaceholder {
		return "placeholder"
	}
	return "success"
}

// FrameOutcome は1フレーム分の状態遷移の記録です。
// Placeholder の場合 Data には固定のプレースホルダー画像が入り、Err に原因が残ります。
type FrameOutcome struct {
	Index  int
	Kind   OutcomeKind
	Data   []byte
	Prompt string
	Err    error
}

// EncodingPNG は合成に渡すフレームのエンコーディングです。
const EncodingPNG = "png"

// FrameImage はアトラス合成に渡すフレーム画像です。
// Encoding はデコードできたフレームでは常に EncodingPNG です。空の場合は画像として読めず、合成時にそのセルは空白になります。
type FrameImage struct {
	Index    int
	Data     []byte
	Encoding string
}
