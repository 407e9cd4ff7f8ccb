package viewer

import (
	"context"
	"fmt"
)

// Tool is an interactive viewport tool.
type Tool string

const (
	ToolZoom        Tool = "Zoom"
	ToolPan         Tool = "Pan"
	ToolWindowLevel Tool = "Wwwc"
	ToolStackScroll Tool = "StackScrollMouseWheel"
)

// ParseTool maps a user-facing tool name to a Tool. Stack scrolling is not
// selectable; it is always bound to the wheel.
func ParseTool(name string) (Tool, error) {
	switch name {
	case "zoom", string(ToolZoom):
		return ToolZoom, nil
	case "pan", string(ToolPan):
		return ToolPan, nil
	case "wwwc", "window", "window-level", string(ToolWindowLevel):
		return ToolWindowLevel, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

// Binding is the input a tool is bound to.
type Binding int

const (
	BindingPrimaryButton Binding = iota + 1
	BindingWheel
)

func (b Binding) String() string {
	switch b {
	case BindingPrimaryButton:
		return "mouse-1"
	case BindingWheel:
		return "wheel"
	}
	return "unknown"
}

// Image is a loaded frame as handed back by a Renderer.
type Image struct {
	Ref  FrameRef
	Data []byte
}

// Renderer is the display surface the Player drives. Decoding, windowing and
// painting are its business; the Player only sequences calls.
type Renderer interface {
	// LoadFrame fetches and decodes one frame. Implementations may cache.
	LoadFrame(ctx context.Context, ref FrameRef) (*Image, error)
	// DisplayFrame shows img. With preserveViewport the current pan, zoom
	// and window settings are kept.
	DisplayFrame(img *Image, preserveViewport bool) error
	// RegisterStack attaches the frame list and current index to the viewport.
	RegisterStack(frameIDs []string, index int) error
	// ClearStack removes any registered stack and blanks the viewport.
	ClearStack() error
	SetActiveTool(tool Tool, binding Binding) error
	// ResetViewport clears pan, zoom and window transforms and refits the
	// displayed frame.
	ResetViewport() error
}
