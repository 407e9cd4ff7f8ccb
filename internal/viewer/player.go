package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aurapacs/portal/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultPrefetchConnections bounds concurrent background frame loads.
const DefaultPrefetchConnections = 6

var (
	ErrSuperseded      = errors.New("series selection superseded")
	ErrNoStack         = errors.New("no frame stack loaded")
	ErrIndexOutOfRange = errors.New("frame index out of range")
	ErrUnknownTool     = errors.New("unknown tool")
)

// State is the player's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateSeriesLoading
	StateReady
	StateCleared
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeriesLoading:
		return "series-loading"
	case StateReady:
		return "ready"
	case StateCleared:
		return "cleared"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Options struct {
	Scheme              string
	APIBase             string
	PrefetchConnections int
	Tool                Tool
}

// Player sequences series selection, frame navigation and tool changes
// against a Renderer. It owns the renderer for its lifetime.
type Player struct {
	renderer    Renderer
	scheme      string
	apiBase     string
	connections int

	mu       sync.Mutex
	state    State
	frames   []FrameRef
	index    int
	tool     Tool
	loading  int // in-flight loads of the current generation
	gen      uint64
	prefetch *prefetchRun
}

type prefetchRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(renderer Renderer, opts Options) *Player {
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}
	if opts.PrefetchConnections <= 0 {
		opts.PrefetchConnections = DefaultPrefetchConnections
	}
	if opts.Tool == "" {
		opts.Tool = ToolWindowLevel
	}
	return &Player{
		renderer:    renderer,
		scheme:      opts.Scheme,
		apiBase:     opts.APIBase,
		connections: opts.PrefetchConnections,
		tool:        opts.Tool,
	}
}

// SelectSeries makes series the current stack. A series with no instances
// clears the display. Otherwise the first frame is loaded and shown, the
// stack is registered at index 0, tools are bound and the remaining frames
// are prefetched in the background.
//
// A later selection supersedes this one; the superseded call returns
// ErrSuperseded and leaves the renderer alone.
func (p *Player) SelectSeries(ctx context.Context, studyUID string, series models.Series) error {
	frames := BuildFrames(p.scheme, p.apiBase, studyUID, series)

	p.mu.Lock()
	p.stopPrefetchLocked()
	p.gen++
	gen := p.gen

	if len(frames) == 0 {
		defer p.mu.Unlock()
		p.frames = nil
		p.index = 0
		p.loading = 0
		p.state = StateCleared
		if err := p.renderer.ClearStack(); err != nil {
			return fmt.Errorf("failed to clear stack: %w", err)
		}
		if err := p.renderer.ResetViewport(); err != nil {
			return fmt.Errorf("failed to reset viewport: %w", err)
		}
		slog.Debug("Series has no instances", "study_uid", studyUID, "series_uid", series.UID())
		return nil
	}

	p.frames = frames
	p.index = 0
	p.loading = 1
	p.state = StateSeriesLoading
	p.mu.Unlock()

	img, err := p.renderer.LoadFrame(ctx, frames[0])

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return ErrSuperseded
	}
	p.loading--
	if err != nil {
		p.dropStackLocked()
		return fmt.Errorf("failed to load first frame: %w", err)
	}

	if err := p.renderer.DisplayFrame(img, false); err != nil {
		p.dropStackLocked()
		return fmt.Errorf("failed to display first frame: %w", err)
	}
	if err := p.renderer.RegisterStack(frameIDs(frames), 0); err != nil {
		p.dropStackLocked()
		return fmt.Errorf("failed to register stack: %w", err)
	}
	if err := p.bindToolsLocked(); err != nil {
		p.dropStackLocked()
		return err
	}
	p.state = StateReady

	if len(frames) > 1 {
		p.startPrefetchLocked(ctx, frames[1:])
	}
	slog.Info("Series ready", "study_uid", studyUID, "series_uid", series.UID(), "frames", len(frames))
	return nil
}

// SetTool changes the tool bound to the primary button. The stack position
// and the wheel binding are not touched.
func (p *Player) SetTool(tool Tool) error {
	switch tool {
	case ToolZoom, ToolPan, ToolWindowLevel:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tool = tool
	if p.state != StateReady {
		return nil
	}
	if err := p.renderer.SetActiveTool(tool, BindingPrimaryButton); err != nil {
		return fmt.Errorf("failed to set tool: %w", err)
	}
	return nil
}

// SetIndex loads and shows frame index of the current stack, keeping the
// viewport. On failure the index stays where it was.
func (p *Player) SetIndex(ctx context.Context, index int) error {
	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return ErrNoStack
	}
	if index < 0 || index >= len(p.frames) {
		n := len(p.frames)
		p.mu.Unlock()
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	gen := p.gen
	ref := p.frames[index]
	p.loading++
	p.mu.Unlock()

	img, err := p.renderer.LoadFrame(ctx, ref)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return ErrSuperseded
	}
	p.loading--
	if err != nil {
		return fmt.Errorf("failed to load frame %d: %w", index, err)
	}
	if err := p.renderer.DisplayFrame(img, true); err != nil {
		return fmt.Errorf("failed to display frame %d: %w", index, err)
	}
	p.index = index
	return nil
}

// Scroll moves delta frames through the stack, clamped to its ends.
func (p *Player) Scroll(ctx context.Context, delta int) error {
	p.mu.Lock()
	if p.state != StateReady {
		p.mu.Unlock()
		return ErrNoStack
	}
	target := min(max(p.index+delta, 0), len(p.frames)-1)
	current := p.index
	p.mu.Unlock()

	if target == current {
		return nil
	}
	return p.SetIndex(ctx, target)
}

// Reset clears viewport transforms. Series and index are unchanged.
func (p *Player) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return nil
	}
	if err := p.renderer.ResetViewport(); err != nil {
		return fmt.Errorf("failed to reset viewport: %w", err)
	}
	return nil
}

// Close stops background work and drops any stale in-flight results.
func (p *Player) Close() {
	p.mu.Lock()
	run := p.prefetch
	p.stopPrefetchLocked()
	p.gen++
	p.state = StateIdle
	p.loading = 0
	p.mu.Unlock()

	if run != nil {
		<-run.done
	}
}

// WaitPrefetch blocks until the current background prefetch finishes.
func (p *Player) WaitPrefetch() {
	p.mu.Lock()
	run := p.prefetch
	p.mu.Unlock()
	if run != nil {
		<-run.done
	}
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Loading reports whether any frame load of the current selection is
// still in flight.
func (p *Player) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading > 0
}

func (p *Player) Tool() Tool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tool
}

// Frames returns a copy of the current stack.
func (p *Player) Frames() []FrameRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.frames)
}

// dropStackLocked returns to idle after a selection failed, so no stale
// stack is reported.
func (p *Player) dropStackLocked() {
	p.frames = nil
	p.index = 0
	p.state = StateIdle
}

func (p *Player) bindToolsLocked() error {
	if err := p.renderer.SetActiveTool(p.tool, BindingPrimaryButton); err != nil {
		return fmt.Errorf("failed to set tool: %w", err)
	}
	if err := p.renderer.SetActiveTool(ToolStackScroll, BindingWheel); err != nil {
		return fmt.Errorf("failed to bind stack scroll: %w", err)
	}
	return nil
}

func (p *Player) startPrefetchLocked(ctx context.Context, frames []FrameRef) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &prefetchRun{cancel: cancel, done: make(chan struct{})}
	p.prefetch = run

	go func() {
		defer close(run.done)
		defer cancel()

		var g errgroup.Group
		g.SetLimit(p.connections)
		for _, ref := range frames {
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				if _, err := p.renderer.LoadFrame(ctx, ref); err != nil && ctx.Err() == nil {
					slog.Warn("Prefetch failed", "frame_id", ref.ID, "err", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (p *Player) stopPrefetchLocked() {
	if p.prefetch != nil {
		p.prefetch.cancel()
	}
}
