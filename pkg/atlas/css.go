package atlas

import (
	"fmt"
	"strings"
)

// DefaultClassName は生成する CSS のクラス名です。
const DefaultClassName = "sprite-animation"

// GenerateCSS はスプライトシートを再生する CSS を生成します。
// 1行のグリッドは steps(frameCount) の単純な横送り、複数行のグリッドはフレームごとの
// キーフレームで行を跨いで再生します。
func GenerateCSS(className string, frameCount, canvasSize, fps int) string {
	if className == "" {
		className = DefaultClassName
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	cols, rows := GridSize(frameCount)
	if cols == 0 {
		return ""
	}
	sheetW, sheetH := cols*canvasSize, rows*canvasSize
	duration := float64(frameCount) / float64(fps)
	keyframes := className + "-play"

	var sb strings.Builder
	fmt.Fprintf(&sb, ".%s {\n", className)
	fmt.Fprintf(&sb, "  width: %dpx;\n", canvasSize)
	fmt.Fprintf(&sb, "  height: %dpx;\n", canvasSize)
	sb.WriteString("  background-repeat: no-repeat;\n")
	fmt.Fprintf(&sb, "  background-size: %dpx %dpx;\n", sheetW, sheetH)

	if rows == 1 {
		fmt.Fprintf(&sb, "  animation: %s %.2fs steps(%d) infinite;\n", keyframes, duration, frameCount)
		sb.WriteString("}\n\n")
		fmt.Fprintf(&sb, "@keyframes %s {\n", keyframes)
		sb.WriteString("  from { background-position: 0 0; }\n")
		fmt.Fprintf(&sb, "  to { background-position: -%dpx 0; }\n", sheetW)
		sb.WriteString("}\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "  animation: %s %.2fs steps(1, end) infinite;\n", keyframes, duration)
	sb.WriteString("}\n\n")
	fmt.Fprintf(&sb, "@keyframes %s {\n", keyframes)
	for i := range frameCount {
		r := FrameRect(i, cols, canvasSize)
		pct := float64(i) * 100 / float64(frameCount)
		fmt.Fprintf(&sb, "  %.4g%% { background-position: %s %s; }\n", pct, cssOffset(r.X), cssOffset(r.Y))
	}
	last := FrameRect(frameCount-1, cols, canvasSize)
	fmt.Fprintf(&sb, "  100%% { background-position: %s %s; }\n", cssOffset(last.X), cssOffset(last.Y))
	sb.WriteString("}\n")
	return sb.String()
}

func cssOffset(v int) string {
	if v == 0 {
		return "0"
	}
	return fmt.Sprintf("-%dpx", v)
}
