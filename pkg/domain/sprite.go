package domain

// FrameRect はアトラス内の1フレームの矩形です。
type FrameRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Size はピクセル単位の寸法です。
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

// AtlasMeta はアトラス全体のメタデータです。
type AtlasMeta struct {
	Image      string `json:"image,omitempty"`
	Size       Size   `json:"size"`
	Format     string `json:"format"`
	FPS        int    `json:"fps"`
	FrameCount int    `json:"frameCount"`
}

// SpriteAtlas は呼び出し元へそのまま返却されるアトラス定義です。
type SpriteAtlas struct {
	Frames map[string]FrameRect `json:"frames"`
	Meta   AtlasMeta            `json:"meta"`
}

// Grid はアトラスの列数と行数です。
type Grid struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// FrameRef は完了イベントに含める個別フレームの参照です。
type FrameRef struct {
	Index       int    `json:"index"`
	Image       string `json:"image"`
	Placeholder bool   `json:"placeholder"`
}

// GenerationResult は complete イベントの data に載る最終成果物です。
type GenerationResult struct {
	JobID         string           `json:"jobId"`
	FramePlan     []FramePlanEntry `json:"framePlan"`
	Frames        []FrameRef       `json:"frames"`
	SpriteSheet   string           `json:"spriteSheet"`
	Atlas         SpriteAtlas      `json:"atlas"`
	CSS           string           `json:"css"`
	Prompts       []string         `json:"prompts"`
	FailedFrames  []int            `json:"failedFrames"`
	SkippedFrames []int            `json:"skippedFrames"`
	Grid          Grid             `json:"grid"`
	DurationMs    int64            `json:"durationMs"`
}
