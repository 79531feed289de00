package generator

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/imgutil"
	"github.com/shouni/go-gemini-client/pkg/gemini"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// --- Mocks ---

type aiCall struct {
	model string
	parts []*genai.Part
	opts  gemini.GenerateOptions
}

type mockAIClient struct {
	mu           sync.Mutex
	calls        []aiCall
	generateFunc func(call aiCall) (*gemini.Response, error)
}

func (m *mockAIClient) GenerateContent(ctx context.Context, model string, prompt string) (*gemini.Response, error) {
	return m.GenerateWithParts(ctx, model, []*genai.Part{{Text: prompt}}, gemini.GenerateOptions{})
}

func (m *mockAIClient) GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error) {
	call := aiCall{model: model, parts: parts, opts: opts}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc(call)
	}
	return imageResponse([]byte("fake")), nil
}

type mockHTTPClient struct {
	data []byte
	err  error
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	return m.data, m.err
}

type executorCall struct {
	prompt    string
	reference []byte
}

// mockExecutor は呼び出しごとに results を順番に返します。
type mockExecutor struct {
	calls   []executorCall
	results []executorResult
	onCall  func(i int)
}

type executorResult struct {
	data []byte
	err  error
}

func (m *mockExecutor) GenerateImage(ctx context.Context, prompt string, reference []byte) (*domain.ImageResponse, error) {
	i := len(m.calls)
	m.calls = append(m.calls, executorCall{prompt: prompt, reference: reference})
	if m.onCall != nil {
		m.onCall(i)
	}
	if i >= len(m.results) {
		return &domain.ImageResponse{Data: []byte{byte(i)}, MimeType: "image/png"}, nil
	}
	r := m.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return &domain.ImageResponse{Data: r.data, MimeType: "image/png"}, nil
}

// --- Helpers ---

func imageResponse(data []byte) *gemini.Response {
	return &gemini.Response{
		RawResponse: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{
					Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}}},
				},
				FinishReason: genai.FinishReasonStop,
			}},
		},
	}
}

func textResponse(text string) *gemini.Response {
	return &gemini.Response{
		RawResponse: &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content:      &genai.Content{Parts: []*genai.Part{{Text: text}}},
				FinishReason: genai.FinishReasonStop,
			}},
		},
	}
}

func testPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.SetNRGBA(x, y, c)
		}
	}
	data, err := imgutil.EncodePNG(img)
	require.NoError(t, err)
	return data
}
