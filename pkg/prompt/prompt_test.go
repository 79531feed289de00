package prompt

import (
	"sort"
	"strings"
	"testing"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestResolveStyle(t *testing.T) {
	t.Run("既知のキーは専用の記述を返すのだ", func(t *testing.T) {
		assert.Contains(t, ResolveStyle("pixel-art"), "pixel art")
	})

	t.Run("未知のキーや空文字はフォールバックを返すのだ", func(t *testing.T) {
		assert.Equal(t, FallbackStyleDescriptor, ResolveStyle("vaporwave"))
		assert.Equal(t, FallbackStyleDescriptor, ResolveStyle(""))
	})
}

func TestResolveBackground(t *testing.T) {
	assert.Contains(t, ResolveBackground(domain.BackgroundTransparent), "chroma-key")
	assert.NotEqual(t, FallbackBackgroundDescriptor, ResolveBackground(domain.BackgroundSolid))
	assert.Equal(t, FallbackBackgroundDescriptor, ResolveBackground("gradient"))
}

func TestStyles(t *testing.T) {
	styles := Styles()
	assert.True(t, sort.StringsAreSorted(styles))
	assert.Contains(t, styles, "pixel-art")
	for _, s := range styles {
		assert.NotEqual(t, FallbackStyleDescriptor, ResolveStyle(s))
	}
}

func TestFramePrompts(t *testing.T) {
	fc := FrameContext{Concept: "growing star", StyleDescriptor: "STYLE", BackgroundDescriptor: "BG", TotalFrames: 4}

	first := FirstFramePrompt(fc, "a tiny star")
	assert.True(t, strings.HasPrefix(first, "Create the first frame of a growing star animation"))
	assert.Contains(t, first, "a tiny star")
	assert.Contains(t, first, "Style: STYLE")
	assert.Contains(t, first, "Background: BG")
	assert.Contains(t, first, "centered")

	chained := ChainedFramePrompt(fc, 2, 1, "the star doubles in size")
	assert.Contains(t, chained, "frame 3 of 4")
	assert.Contains(t, chained, "The attached image is the previous frame.")
	assert.Contains(t, chained, "Change only the following: the star doubles in size")

	skipped := ChainedFramePrompt(fc, 3, 1, "the star shines")
	assert.Contains(t, skipped, "frame 4 of 4")
	assert.NotContains(t, skipped, "previous frame")
	assert.Contains(t, skipped, "The attached image is frame 2, the most recent frame that was generated successfully.")

	standalone := StandaloneFramePrompt(fc, 1, "slightly bigger")
	assert.Contains(t, standalone, "frame 2 of 4")
	assert.NotContains(t, standalone, "attached image")
}

func TestPlannerInstructions(t *testing.T) {
	assert.Contains(t, PlannerSystemInstruction(), "background and the camera")
	user := PlannerUserInstruction("growing star", "STYLE", 5)
	assert.Contains(t, user, "5-frame animation of: growing star")
	assert.Contains(t, user, `"frames"`)
}
