package protocol

import "fmt"

// AnnounceAgent registers the sending connection as a session host.
type AnnounceAgent struct {
	DeviceName   string   `json:"deviceName"`
	OS           string   `json:"os"`
	Region       string   `json:"region,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func (*AnnounceAgent) isMessage() {}

func (a *AnnounceAgent) Validate() error {
	if a.DeviceName == "" {
		return fmt.Errorf("deviceName required")
	}
	if a.OS == "" {
		return fmt.Errorf("os required")
	}
	return nil
}

// ViewerJoin attaches the sending connection to a session by code.
type ViewerJoin struct {
	Code     string `json:"code"`
	Nickname string `json:"nickname"`
}

func (*ViewerJoin) isMessage() {}

func (v *ViewerJoin) Validate() error {
	if len(v.Code) < 5 {
		return fmt.Errorf("code too short")
	}
	if len(v.Nickname) < 1 || len(v.Nickname) > 32 {
		return fmt.Errorf("nickname must be 1-32 characters")
	}
	return nil
}

// Frame is one encoded screen capture from the agent.
type Frame struct {
	Data      string `json:"data"`
	Mime      string `json:"mime"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func (*Frame) isMessage() {}

func (f *Frame) Validate() error {
	if len(f.Data) < 10 {
		return fmt.Errorf("frame data too short")
	}
	if f.Mime == "" {
		f.Mime = "image/jpeg"
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if f.Bytes <= 0 {
		return fmt.Errorf("bytes must be positive")
	}
	return nil
}

// Input event kinds.
const (
	InputMouseMove  = "mouse_move"
	InputMouseDown  = "mouse_down"
	InputMouseUp    = "mouse_up"
	InputMouseWheel = "mouse_wheel"
	InputKeyDown    = "key_down"
	InputKeyUp      = "key_up"
	InputText       = "text"
)

// InputEvent is the closed variant set of viewer input. Kind selects which
// fields are meaningful; Validate enforces the per-kind shape.
type InputEvent struct {
	Kind   string          `json:"kind"`
	X      float64         `json:"x,omitempty"`
	Y      float64         `json:"y,omitempty"`
	Button string          `json:"button,omitempty"`
	DeltaX float64         `json:"deltaX,omitempty"`
	DeltaY float64         `json:"deltaY,omitempty"`
	Key    string          `json:"key,omitempty"`
	Meta   map[string]bool `json:"meta,omitempty"`
	Text   string          `json:"text,omitempty"`
}

func (*InputEvent) isMessage() {}

func validButton(b string) bool {
	return b == "left" || b == "middle" || b == "right"
}

func (e *InputEvent) Validate() error {
	switch e.Kind {
	case InputMouseMove:
		if e.X < 0 || e.X > 1 || e.Y < 0 || e.Y > 1 {
			return fmt.Errorf("mouse_move coordinates must be in [0,1]")
		}
	case InputMouseDown, InputMouseUp:
		if !validButton(e.Button) {
			return fmt.Errorf("invalid mouse button %q", e.Button)
		}
	case InputMouseWheel:
		// deltas are unbounded
	case InputKeyDown, InputKeyUp:
		if len(e.Key) < 1 || len(e.Key) > 16 {
			return fmt.Errorf("key must be 1-16 characters")
		}
	case InputText:
		if len(e.Text) < 1 || len(e.Text) > 64 {
			return fmt.Errorf("text must be 1-64 characters")
		}
	default:
		return fmt.Errorf("unknown input kind %q", e.Kind)
	}
	return nil
}

// Chat is a chat line from either side of a session.
type Chat struct {
	Message  string `json:"message"`
	Nickname string `json:"nickname"`
}

func (*Chat) isMessage() {}

func (c *Chat) Validate() error {
	if len(c.Message) < 1 || len(c.Message) > 400 {
		return fmt.Errorf("message must be 1-400 characters")
	}
	if len(c.Nickname) < 1 || len(c.Nickname) > 32 {
		return fmt.Errorf("nickname must be 1-32 characters")
	}
	return nil
}

// File transfer directions.
const (
	DirectionAgentToViewer = "agent_to_viewer"
	DirectionViewerToAgent = "viewer_to_agent"
)

// FileOffer announces an upcoming chunked file transfer.
type FileOffer struct {
	FileID    string `json:"fileId"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	Mime      string `json:"mime,omitempty"`
	Direction string `json:"direction"`
}

func (*FileOffer) isMessage() {}

func (f *FileOffer) Validate() error {
	if len(f.FileID) < 8 {
		return fmt.Errorf("fileId too short")
	}
	if f.Name == "" {
		return fmt.Errorf("name required")
	}
	if f.Size < 0 {
		return fmt.Errorf("size must be non-negative")
	}
	if f.Direction != DirectionAgentToViewer && f.Direction != DirectionViewerToAgent {
		return fmt.Errorf("invalid direction %q", f.Direction)
	}
	return nil
}

// FileChunk carries one base64 piece of an offered file.
type FileChunk struct {
	FileID string `json:"fileId"`
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Data   string `json:"data"`
	Done   bool   `json:"done,omitempty"`
}

func (*FileChunk) isMessage() {}

func (f *FileChunk) Validate() error {
	if len(f.FileID) < 8 {
		return fmt.Errorf("fileId too short")
	}
	if f.Index < 0 {
		return fmt.Errorf("index must be non-negative")
	}
	if f.Total < 1 {
		return fmt.Errorf("total must be positive")
	}
	if f.Data == "" {
		return fmt.Errorf("data required")
	}
	return nil
}

// Heartbeat is a liveness ping with optional client telemetry. Pointer
// fields preserve which values were actually supplied, so the forwarded
// viewer_heartbeat carries exactly what the viewer sent.
type Heartbeat struct {
	FPS     *float64 `json:"fps,omitempty"`
	CPU     *float64 `json:"cpu,omitempty"`
	Latency *float64 `json:"latency,omitempty"`
}

func (*Heartbeat) isMessage() {}
