package atlas

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"golang.org/x/image/draw"
)

// Result は合成済みスプライトシートとそのメタデータです。
type Result struct {
	PNG   []byte
	Atlas domain.SpriteAtlas
	Grid  domain.Grid
	// Skipped は合成に失敗して空白のまま残したフレーム番号です。
	Skipped []int
}

// Assembler はフレーム画像を決定的なグリッドに配置します。
type Assembler struct {
	fps int
}

// NewAssembler は Assembler を生成します。fps が 0 以下なら DefaultFPS を使います。
func NewAssembler(fps int) *Assembler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Assembler{fps: fps}
}

// FPS はメタデータに記録する再生速度です。
func (a *Assembler) FPS() int {
	return a.fps
}

// Assemble は frames を canvasSize 四方のセルに並べた PNG を生成します。
// 個々のフレームのデコードや配置に失敗してもジョブは止めず、そのセルを透明のまま残します。
func (a *Assembler) Assemble(ctx context.Context, frames []domain.FrameImage, canvasSize int) (*Result, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to assemble")
	}
	if canvasSize <= 0 {
		return nil, fmt.Errorf("invalid canvas size: %d", canvasSize)
	}

	cols, rows := GridSize(len(frames))
	width, height := cols*canvasSize, rows*canvasSize
	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))

	atlas := domain.SpriteAtlas{
		Frames: make(map[string]domain.FrameRect, len(frames)),
		Meta: domain.AtlasMeta{
			Image:      DefaultImage,
			Size:       domain.Size{W: width, H: height},
			Format:     FormatGrid,
			FPS:        a.fps,
			FrameCount: len(frames),
		},
	}

	var skipped []int
	for i, frame := range frames {
		rect := FrameRect(i, cols, canvasSize)
		if err := composite(canvas, frame.Data, rect); err != nil {
			slog.WarnContext(ctx, "フレームの合成に失敗したため空白のままにします", "index", i, "error", err)
			skipped = append(skipped, i)
			continue
		}
		atlas.Frames[FrameKey(i)] = rect
	}

	png, err := imgutil.EncodePNG(canvas)
	if err != nil {
		return nil, fmt.Errorf("スプライトシートのエンコードに失敗しました: %w", err)
	}

	return &Result{
		PNG:     png,
		Atlas:   atlas,
		Grid:    domain.Grid{Cols: cols, Rows: rows},
		Skipped: skipped,
	}, nil
}

func composite(canvas *image.NRGBA, data []byte, rect domain.FrameRect) error {
	img, err := imgutil.Decode(data)
	if err != nil {
		return err
	}
	fitted, err := imgutil.CoverFit(img, rect.W)
	if err != nil {
		return err
	}
	dst := image.Rect(rect.X, rect.Y, rect.X+rect.W, rect.Y+rect.H)
	draw.Draw(canvas, dst, fitted, image.Point{}, draw.Src)
	return nil
}
