// Package server は生成パイプラインを HTTP で公開します。
//
// POST /api/generate は進捗イベントを1行1JSONで逐次返し、
// POST /api/generate/sync は完了まで待って最終成果物だけを返します。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shouni/gemini-sprite-kit/pkg/domain"
	"github.com/shouni/gemini-sprite-kit/pkg/prompt"
)

const (
	// UserIDHeader は呼び出し元の利用者を識別するヘッダーです。認証は行いません。
	UserIDHeader      = "X-User-ID"
	anonymousUser     = "anonymous"
	defaultMaxBody    = 64 << 10
	ndjsonContentType = "application/x-ndjson"
)

// Generator はサーバーが利用する生成パイプラインです。
type Generator interface {
	Validate(req domain.GenerationRequest) error
	Run(ctx context.Context, req domain.GenerationRequest, userID string) <-chan domain.ProgressEvent
	Generate(ctx context.Context, req domain.GenerationRequest, userID string) (*domain.GenerationResult, error)
}

// Pinger はヘルスチェックで依存先の疎通を確認します。
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrorResponse は API のエラー応答です。
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Options はサーバーの任意設定です。
type Options struct {
	// Pinger は nil を許容します。
	Pinger       Pinger
	MaxBodyBytes int64
}

// Server は HTTP ハンドラーを束ねます。
type Server struct {
	gen     Generator
	pinger  Pinger
	maxBody int64
	router  chi.Router
}

// New はルーティングを組み立てた Server を返します。
func New(gen Generator, opts Options) (*Server, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	s := &Server{gen: gen, pinger: opts.Pinger, maxBody: opts.MaxBodyBytes}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/styles", s.handleStyles)
		r.Post("/generate", s.handleGenerateStream)
		r.Post("/generate/sync", s.handleGenerateSync)
	})
	s.router = r
	return s, nil
}

// Handler は http.Server に渡すハンドラーです。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			slog.WarnContext(r.Context(), "ヘルスチェックでストアに接続できません", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"styles":      prompt.Styles(),
		"backgrounds": prompt.BackgroundModes(),
	})
}

// handleGenerateStream は検証に通ったリクエストだけをストリームで処理します。
// 接続が切れた場合はジョブもキャンセルされます。
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", ndjsonContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	var writeErr error
	for ev := range s.gen.Run(ctx, req, userID(r)) {
		if writeErr != nil {
			continue
		}
		if writeErr = enc.Encode(ev); writeErr == nil {
			writeErr = rc.Flush()
		}
		if writeErr != nil {
			slog.WarnContext(ctx, "進捗イベントを書き込めないためジョブを中断します", "error", writeErr)
			cancel()
		}
	}
}

func (s *Server) handleGenerateSync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.gen.Generate(r.Context(), req, userID(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (domain.GenerationRequest, bool) {
	var req domain.GenerationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidRequest, err))
		return req, false
	}
	req = req.Normalize()
	if err := s.gen.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return req, false
	}
	return req, true
}

func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		return id
	}
	return anonymousUser
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("レスポンスの書き込みに失敗しました", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error(), Code: domain.ErrorCode(err)})
}
