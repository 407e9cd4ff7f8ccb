package viewer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aurapacs/portal/internal/dicomstore"
	"github.com/dustin/go-humanize"
)

// FrameSource fetches the Part-10 payload of one instance.
type FrameSource interface {
	Frame(ctx context.Context, studyUID, seriesUID, sopUID string) ([]byte, error)
}

// StoreFrames adapts a dicomstore.Store to FrameSource.
type StoreFrames struct {
	Store dicomstore.Store
}

func (s StoreFrames) Frame(ctx context.Context, studyUID, seriesUID, sopUID string) ([]byte, error) {
	rc, err := s.Store.RetrieveInstance(ctx, studyUID, seriesUID, sopUID)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// FileRenderer is a headless Renderer for the command line. Loaded frames
// are cached in memory and the displayed frame is written to OutputDir as
// current.dcm.
type FileRenderer struct {
	source    FrameSource
	outputDir string

	mu        sync.Mutex
	cache     map[string][]byte
	stack     []string
	index     int
	displayed FrameRef
	tools     map[Binding]Tool
	resets    int
}

func NewFileRenderer(source FrameSource, outputDir string) *FileRenderer {
	return &FileRenderer{
		source:    source,
		outputDir: outputDir,
		cache:     make(map[string][]byte),
		tools:     make(map[Binding]Tool),
	}
}

func (r *FileRenderer) LoadFrame(ctx context.Context, ref FrameRef) (*Image, error) {
	r.mu.Lock()
	data, ok := r.cache[ref.ID]
	r.mu.Unlock()
	if ok {
		return &Image{Ref: ref, Data: data}, nil
	}

	data, err := r.source.Frame(ctx, ref.StudyInstanceUID, ref.SeriesInstanceUID, ref.SOPInstanceUID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[ref.ID] = data
	r.mu.Unlock()
	slog.Debug("Frame loaded", "frame_id", ref.ID, "size", humanize.Bytes(uint64(len(data))))
	return &Image{Ref: ref, Data: data}, nil
}

func (r *FileRenderer) DisplayFrame(img *Image, preserveViewport bool) error {
	if img == nil {
		return fmt.Errorf("no image to display")
	}
	if r.outputDir != "" {
		if err := os.MkdirAll(r.outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
		if err := os.WriteFile(r.CurrentPath(), img.Data, 0644); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.displayed = img.Ref
	for i, id := range r.stack {
		if id == img.Ref.ID {
			r.index = i
			break
		}
	}
	if !preserveViewport {
		r.resets++
	}
	return nil
}

func (r *FileRenderer) RegisterStack(frameIDs []string, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = append([]string(nil), frameIDs...)
	r.index = index
	return nil
}

func (r *FileRenderer) ClearStack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stack = nil
	r.index = 0
	r.displayed = FrameRef{}
	if r.outputDir != "" {
		if err := os.Remove(r.CurrentPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear frame: %w", err)
		}
	}
	return nil
}

func (r *FileRenderer) SetActiveTool(tool Tool, binding Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[binding] = tool
	return nil
}

func (r *FileRenderer) ResetViewport() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	return nil
}

// CurrentPath is where the displayed frame is written.
func (r *FileRenderer) CurrentPath() string {
	return filepath.Join(r.outputDir, "current.dcm")
}

// Displayed returns the frame on screen and its stack position.
func (r *FileRenderer) Displayed() (FrameRef, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayed, r.index
}

// Cached returns how many frames are held in memory.
func (r *FileRenderer) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// ToolFor returns the tool bound to binding.
func (r *FileRenderer) ToolFor(binding Binding) Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tools[binding]
}

// Resets counts viewport resets, including the implicit one on a fresh display.
func (r *FileRenderer) Resets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}
