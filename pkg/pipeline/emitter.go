package pipeline

import (
	"context"

	"github.com/shouni/gemini-sprite-kit/pkg/domain"
)

// 各段階に割り当てる進捗の範囲です。
const (
	progressPlanned     = 15
	progressSynthesized = 85
	progressBackground  = 88
	progressAssembled   = 95
	progressFinishing   = 99
	progressComplete    = 100
)

// emitter は1ジョブ分のイベント列を順序通りにチャネルへ送ります。
// 進捗は単調非減少に丸められ、終端イベントの後は何も送りません。
type emitter struct {
	ctx  context.Context
	out  chan<- domain.ProgressEvent
	last int
	done bool
}

func newEmitter(ctx context.Context, out chan<- domain.ProgressEvent) *emitter {
	return &emitter{ctx: ctx, out: out}
}

func (e *emitter) status(progress int, message string) {
	e.emit(domain.ProgressEvent{Type: domain.EventStatus, Progress: progress, Message: message})
}

func (e *emitter) frame(progress, current, total int, message string) {
	e.emit(domain.ProgressEvent{
		Type:         domain.EventProgress,
		Progress:     progress,
		Message:      message,
		CurrentFrame: current,
		TotalFrames:  total,
	})
}

func (e *emitter) complete(result *domain.GenerationResult) {
	e.emit(domain.ProgressEvent{
		Type:     domain.EventComplete,
		Progress: progressComplete,
		Message:  "Sprite sheet generated",
		Data:     result,
	})
}

func (e *emitter) fail(err error) {
	e.emit(domain.ProgressEvent{
		Type:    domain.EventError,
		Message: err.Error(),
		Data:    domain.ErrorDetail{Code: domain.ErrorCode(err)},
	})
}

func (e *emitter) emit(ev domain.ProgressEvent) {
	if e.done {
		return
	}
	// 100 は complete だけが使う
	if ev.Type != domain.EventComplete {
		ev.Progress = min(ev.Progress, progressFinishing)
	}
	ev.Progress = max(ev.Progress, e.last)
	e.last = ev.Progress

	if ev.Type.IsTerminal() {
		e.done = true
		if e.ctx.Err() != nil {
			// 受信側が既にいない場合は届かなくてもよい
			select {
			case e.out <- ev:
			default:
			}
			return
		}
	}

	select {
	case e.out <- ev:
	case <-e.ctx.Done():
	}
}
