package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/prompt"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"
)

// PlanStatus は LLM 応答の解析結果の種別です。
type PlanStatus int

const (
	PlanOK PlanStatus = iota
	PlanParseError
	PlanCountMismatch
)

func (s PlanStatus) String() string {
	switch s {
	case PlanOK:
		return "ok"
	case PlanCountMismatch:
		return "count_mismatch"
	default:
		return "parse_error"
	}
}

// PlanResult は LLM 応答を解析したタグ付きの結果です。
// Entries は Status が PlanOK のときだけ有効です。
type PlanResult struct {
	Status  PlanStatus
	Entries []domain.FramePlanEntry
	Got     int
	Err     error
}

type rawFrame struct {
	Description string   `json:"description"`
	Scale       *float64 `json:"scale"`
	Rotation    *float64 `json:"rotation"`
	Opacity     *float64 `json:"opacity"`
}

// Planner は LLM を1回呼び出してフレーム計画を作ります。
type Planner struct {
	aiClient GenerativeModel
	model    string
}

// NewPlanner は Planner を初期化するのだ。
func NewPlanner(aiClient GenerativeModel, model string) (*Planner, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient is required")
	}
	if model == "" {
		return nil, fmt.Errorf("text model name is required")
	}
	return &Planner{aiClient: aiClient, model: model}, nil
}

// Plan は常にちょうど frameCount 件のフレーム計画を返します。
// 応答が解析できない場合や件数が合わない場合は定型の計画に置き換えます。
// LLM 呼び出し自体の失敗はエラーとして返します。
func (p *Planner) Plan(ctx context.Context, concept, styleKey string, frameCount int) ([]domain.FramePlanEntry, error) {
	if frameCount <= 0 {
		return nil, fmt.Errorf("frameCount must be positive: %d", frameCount)
	}

	parts := []*genai.Part{{Text: prompt.PlannerUserInstruction(concept, prompt.ResolveStyle(styleKey), frameCount)}}
	opts := gemini.GenerateOptions{SystemPrompt: prompt.PlannerSystemInstruction()}

	resp, err := p.aiClient.GenerateWithParts(ctx, p.model, parts, opts)
	if err != nil {
		return nil, fmt.Errorf("フレーム計画の生成に失敗しました: %w", err)
	}

	result := ParsePlan(responseText(resp), frameCount)
	switch result.Status {
	case PlanOK:
		return result.Entries, nil
	case PlanCountMismatch:
		slog.WarnContext(ctx, "フレーム計画の件数が一致しないため定型の計画を使用します", "want", frameCount, "got", result.Got)
	case PlanParseError:
		slog.WarnContext(ctx, "フレーム計画を解析できないため定型の計画を使用します", "error", result.Err)
	}
	return FallbackPlan(concept, frameCount), nil
}

// FallbackPlan は "Frame i of <concept> animation" 形式の定型計画を返します。
func FallbackPlan(concept string, frameCount int) []domain.FramePlanEntry {
	plan := make([]domain.FramePlanEntry, frameCount)
	for i := range plan {
		plan[i] = domain.FramePlanEntry{
			Index:       i,
			Description: fmt.Sprintf("Frame %d of %s animation", i+1, concept),
		}
	}
	return plan
}

// ParsePlan は LLM のテキスト応答をフレーム計画として解析します。
// {"frames":[...]} 形式、オブジェクトの配列、文字列の配列を受け付けます。
func ParsePlan(text string, frameCount int) PlanResult {
	items, err := extractPlanItems(text)
	if err != nil {
		return PlanResult{Status: PlanParseError, Err: err}
	}

	entries := make([]domain.FramePlanEntry, 0, len(items))
	for i, raw := range items {
		entry, err := parseFrame(raw)
		if err != nil {
			return PlanResult{Status: PlanParseError, Err: fmt.Errorf("frame %d: %w", i, err)}
		}
		entry.Index = i
		entries = append(entries, entry)
	}

	if len(entries) != frameCount {
		return PlanResult{Status: PlanCountMismatch, Got: len(entries)}
	}
	return PlanResult{Status: PlanOK, Entries: entries, Got: len(entries)}
}

func parseFrame(raw json.RawMessage) (domain.FramePlanEntry, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.FramePlanEntry{}, errors.New("empty description")
		}
		return domain.FramePlanEntry{Description: s}, nil
	}

	var f rawFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return domain.FramePlanEntry{}, err
	}
	desc := strings.TrimSpace(f.Description)
	if desc == "" {
		return domain.FramePlanEntry{}, errors.New("empty description")
	}
	return domain.FramePlanEntry{
		Description: desc,
		Parameters: domain.FrameParameters{
			Scale:    f.Scale,
			Rotation: f.Rotation,
			Opacity:  f.Opacity,
		},
	}, nil
}

// extractPlanItems はコードフェンスや前後の説明文に埋もれたフレーム要素の配列を探します。
// 各 '{' と '[' の位置から JSON 値を1つずつ読み、{"frames":[...]} か文字列やオブジェクトの配列を最初に見つけた時点で返します。
// 説明文中の "[1]" のような値は読み飛ばし、読めた値の内側は探しません。
func extractPlanItems(text string) ([]json.RawMessage, error) {
	var firstErr error
	for i := 0; i < len(text); {
		off := strings.IndexAny(text[i:], "{[")
		if off < 0 {
			break
		}
		start := i + off

		dec := json.NewDecoder(strings.NewReader(text[start:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			i = start + 1
			continue
		}
		i = start + int(dec.InputOffset())

		items, err := planItems(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return items, nil
	}
	if firstErr == nil {
		firstErr = errors.New("no JSON payload in response")
	}
	return nil, firstErr
}

func planItems(raw json.RawMessage) ([]json.RawMessage, error) {
	if raw[0] == '{' {
		var wrapper struct {
			Frames []json.RawMessage `json:"frames"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, err
		}
		if wrapper.Frames == nil {
			return nil, errors.New(`missing "frames" field`)
		}
		return wrapper.Frames, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || (item[0] != '"' && item[0] != '{') {
			return nil, fmt.Errorf("unexpected plan element %s", item)
		}
	}
	return items, nil
}
