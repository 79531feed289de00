package imgutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	DefaultChromaTolerance = 40.0
	maxCornerBlock         = 20
)

// Estimator は背景色の推定方式です。
type Estimator int

const (
	// EstimatorCorners は四隅のブロック平均から背景色を推定します。
	EstimatorCorners Estimator = iota
	// EstimatorDominant は画像全体の支配色を背景色とみなします。
	EstimatorDominant
)

// ParseEstimator は設定値の文字列を Estimator に変換します。未知の値は EstimatorCorners です。
func ParseEstimator(s string) Estimator {
	if s == "dominant" {
		return EstimatorDominant
	}
	return EstimatorCorners
}

func (e Estimator) String() string {
	if e == EstimatorDominant {
		return "dominant"
	}
	return "corners"
}

// BackgroundRemover は推定した背景色との RGB 距離でアルファマスクを作るクロマキー処理です。
// 状態を持たないため複数フレームから並行に呼び出せます。
type BackgroundRemover struct {
	tolerance float64
	feather   float64
	estimator Estimator
}

// NewBackgroundRemover は BackgroundRemover を生成します。
// tolerance が 0 以下なら既定値、feather が 0 以下なら tolerance と同じ値を使います。
func NewBackgroundRemover(tolerance, feather float64, estimator Estimator) *BackgroundRemover {
	if tolerance <= 0 {
		tolerance = DefaultChromaTolerance
	}
	if feather <= 0 {
		feather = tolerance
	}
	return &BackgroundRemover{
		tolerance: tolerance,
		feather:   feather,
		estimator: estimator,
	}
}

// Apply は背景除去を行い PNG を返します。失敗した場合は元のデータをそのまま返します。
func (r *BackgroundRemover) Apply(ctx context.Context, data []byte) []byte {
	out, err := r.Remove(data)
	if err != nil {
		slog.WarnContext(ctx, "背景除去に失敗したため元画像を使用します", "error", err)
		return data
	}
	return out
}

// Remove は画像データの背景を透過した PNG を返します。
func (r *BackgroundRemover) Remove(data []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("background removal panicked: %v", rec)
		}
	}()

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(r.RemoveImage(img))
}

// RemoveImage は背景色に近い画素を透過させた新しい画像を返します。RGB 値は保持されます。
func (r *BackgroundRemover) RemoveImage(img image.Image) *image.NRGBA {
	src := ToNRGBA(img)
	bg := r.estimate(src)

	b := src.Bounds()
	out := image.NewNRGBA(b)
	for y := range b.Dy() {
		for x := range b.Dx() {
			c := src.NRGBAAt(x, y)
			d := rgbDistance(c, bg)
			if d < r.tolerance {
				c.A = 0
			} else {
				factor := math.Min(1, d/r.feather)
				c.A = uint8(math.Round(float64(c.A) * factor))
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// EstimateBackground は設定された方式で背景色を推定します。
func (r *BackgroundRemover) EstimateBackground(img image.Image) colorful.Color {
	return r.estimate(ToNRGBA(img))
}

func (r *BackgroundRemover) estimate(img *image.NRGBA) colorful.Color {
	if r.estimator == EstimatorDominant {
		if cands := dominantcolor.FindWeight(img, 1); len(cands) > 0 {
			c := cands[0].RGBA
			return nrgbaToColorful(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return estimateFromCorners(img)
}

// estimateFromCorners は四隅のブロック平均をさらに平均して背景色を求めます。
func estimateFromCorners(img *image.NRGBA) colorful.Color {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	block := max(1, min(maxCornerBlock, w/10, h/10))

	origins := [4]image.Point{
		{0, 0},
		{w - block, 0},
		{0, h - block},
		{w - block, h - block},
	}

	var sum colorful.Color
	for _, o := range origins {
		m := blockMean(img, image.Rect(o.X, o.Y, o.X+block, o.Y+block))
		sum.R += m.R
		sum.G += m.G
		sum.B += m.B
	}
	return colorful.Color{R: sum.R / 4, G: sum.G / 4, B: sum.B / 4}
}

func blockMean(img *image.NRGBA, rect image.Rectangle) colorful.Color {
	var mean colorful.Color
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			c := nrgbaToColorful(img.NRGBAAt(x, y))
			mean.R += c.R
			mean.G += c.G
			mean.B += c.B
			n++
		}
	}
	if n == 0 {
		return mean
	}
	return colorful.Color{R: mean.R / float64(n), G: mean.G / float64(n), B: mean.B / float64(n)}
}

// nrgbaToColorful は非乗算の RGB をそのまま使います。
// colorful.MakeColor は乗算済みの値を使うので、透過済み画素の色が失われてしまう。
func nrgbaToColorful(c color.NRGBA) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

// rgbDistance は 0..255 スケールのユークリッド RGB 距離です。
func rgbDistance(c color.NRGBA, bg colorful.Color) float64 {
	return nrgbaToColorful(c).DistanceRgb(bg) * 255
}
