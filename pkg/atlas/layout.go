// Package atlas はフレーム画像をグリッド状のスプライトシートに合成し、
// 再生用のメタデータと CSS を生成します。
package atlas

import (
	"fmt"
	"math"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

const (
	DefaultFPS   = 10
	FormatGrid   = "grid"
	DefaultImage = "spritesheet.png"
)

// GridSize はフレーム数から列数と行数を求めます。
// Assemble と GenerateCSS は必ずこの関数を経由して同じ値を使います。
func GridSize(frameCount int) (cols, rows int) {
	if frameCount <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(frameCount))))
	rows = (frameCount + cols - 1) / cols
	return cols, rows
}

// FrameKey はアトラスの frames マップで使うキーです。
func FrameKey(index int) string {
	return fmt.Sprintf("frame_%d", index)
}

// FrameRect はグリッド上の index 番目のフレーム矩形を返します。
func FrameRect(index, cols, canvasSize int) domain.FrameRect {
	return domain.FrameRect{
		X: (index % cols) * canvasSize,
		Y: (index / cols) * canvasSize,
		W: canvasSize,
		H: canvasSize,
	}
}
