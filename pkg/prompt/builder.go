package prompt

import (
	"fmt"
	"strings"
)

// FrameContext はフレーム用プロンプトの組み立てに必要な共通情報です。
type FrameContext struct {
	Concept              string
	StyleDescriptor      string
	BackgroundDescriptor string
	TotalFrames          int
}

// PlannerSystemInstruction はフレーム間で被写体・背景・カメラを固定させるための指示です。
func PlannerSystemInstruction() string {
	return strings.Join([]string{
		"You are an animation director planning the frames of a short looping sprite animation.",
		"The same subject must appear in every frame with an identical design, proportions, colors and outfit.",
		"The background and the camera (framing, angle, distance) must not change between frames.",
		"Only the pose, motion or effect described for each frame may change.",
		"Answer with JSON only.",
	}, " ")
}

// PlannerUserInstruction はフレーム記述のリストを要求する指示です。
func PlannerUserInstruction(concept, styleDescriptor string, frameCount int) string {
	return fmt.Sprintf(
		"Plan a %d-frame animation of: %s.\n"+
			"Art style: %s.\n"+
			"Return exactly %d frames in order as JSON of the form "+
			`{"frames":[{"description":"...","scale":1.0,"rotation":0,"opacity":1.0}]}`+
			". Each description states only what changes in that frame. scale, rotation (degrees) and opacity are optional.",
		frameCount, concept, styleDescriptor, frameCount,
	)
}

// FirstFramePrompt は1枚目のフレーム(テキストのみ)のプロンプトです。
func FirstFramePrompt(fc FrameContext, description string) string {
	return fmt.Sprintf(
		"Create the first frame of a %s animation. %s. Style: %s. Background: %s. Keep the subject centered and fully inside the square frame.",
		fc.Concept, description, fc.StyleDescriptor, fc.BackgroundDescriptor,
	)
}

// ChainedFramePrompt は最後に成功したフレームを参照画像として添付する場合のプロンプトです。
// referenceIndex は添付するフレームの番号で、直前のフレームが失敗していれば index-1 より前になります。
func ChainedFramePrompt(fc FrameContext, index, referenceIndex int, description string) string {
	reference := "the previous frame"
	if referenceIndex < index-1 {
		reference = fmt.Sprintf("frame %d, the most recent frame that was generated successfully", referenceIndex+1)
	}
	return fmt.Sprintf(
		"This is frame %d of %d of a %s animation. The attached image is %s. "+
			"Keep the exact same subject design, art style, lighting, background and camera framing as the attached image. "+
			"Change only the following: %s. Style: %s. Background: %s. Keep the subject centered.",
		index+1, fc.TotalFrames, fc.Concept, reference, description, fc.StyleDescriptor, fc.BackgroundDescriptor,
	)
}

// StandaloneFramePrompt は参照できる成功フレームがない場合のプロンプトです。
func StandaloneFramePrompt(fc FrameContext, index int, description string) string {
	return fmt.Sprintf(
		"Create frame %d of %d of a %s animation. %s. Style: %s. Background: %s. Keep the subject centered and fully inside the square frame.",
		index+1, fc.TotalFrames, fc.Concept, description, fc.StyleDescriptor, fc.BackgroundDescriptor,
	)
}

// ReferenceHint は1枚目に利用者指定の参照画像を添付するときに付け加える指示です。
const ReferenceHint = "Use the attached image as the visual reference for the subject's design."
