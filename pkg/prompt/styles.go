package prompt

import (
	"sort"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

const (
	// FallbackStyleDescriptor は未知のスタイルキーに対して返す記述です。
	FallbackStyleDescriptor = "clean, consistent 2D game art style with clear outlines"
	// FallbackBackgroundDescriptor は未知の背景モードに対して返す記述です。
	FallbackBackgroundDescriptor = "plain uniform solid-color background"
)

var styleDescriptors = map[string]string{
	"pixel-art":  "retro pixel art, crisp square pixels, limited 16-bit color palette, no anti-aliasing",
	"cartoon":    "bold cartoon style, thick clean outlines, flat saturated colors, simple cel shading",
	"anime":      "anime style, clean line art, vibrant colors, cel shading",
	"realistic":  "photorealistic rendering, natural lighting, detailed textures",
	"watercolor": "soft watercolor painting, gentle color bleeding, paper texture",
	"flat":       "flat vector illustration, geometric shapes, no gradients, minimal detail",
	"chibi":      "cute chibi style, oversized head, small body, rounded shapes, pastel colors",
	"sketch":     "hand-drawn pencil sketch, loose line work, monochrome shading",
}

var backgroundDescriptors = map[domain.BackgroundMode]string{
	// 透過モードでも生成時は単色背景にしておき、後段のクロマキー処理で抜く。
	domain.BackgroundTransparent: "perfectly flat single solid color background (pure white), no shadows, no gradients, no scenery, suitable for chroma-key removal",
	domain.BackgroundSolid:       "simple solid-color background that stays identical in every frame",
}

// ResolveStyle はスタイルキーをプロンプト用の記述に変換します。未知のキーにはフォールバックを返します。
func ResolveStyle(key string) string {
	if d, ok := styleDescriptors[key]; ok {
		return d
	}
	return FallbackStyleDescriptor
}

// ResolveBackground は背景モードをプロンプト用の記述に変換します。
func ResolveBackground(mode domain.BackgroundMode) string {
	if d, ok := backgroundDescriptors[mode]; ok {
		return d
	}
	return FallbackBackgroundDescriptor
}

// Styles は既知のスタイルキーをソートして返します。
func Styles() []string {
	keys := make([]string, 0, len(styleDescriptors))
	for k := range styleDescriptors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BackgroundModes は受け付ける背景モードの一覧です。
func BackgroundModes() []domain.BackgroundMode {
	return []domain.BackgroundMode{domain.BackgroundTransparent, domain.BackgroundSolid}
}
