package domain

import (
	"encoding"
	"strings"
)

type Mode string

const (
	ModeText2Pano Mode = "text2pano"
	ModeOutpaint  Mode = "outpaint"
)

// Valid reports whether m is one of the recognized inference modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeText2Pano, ModeOutpaint:
		return true
	}
	return false
}

var (
	_ encoding.BinaryMarshaler = Mode("")
	_ encoding.TextMarshaler   = Mode("")
)

func (m Mode) MarshalBinary() ([]byte, error) { return []byte(string(m)), nil }
func (m Mode) MarshalText() ([]byte, error)   { return []byte(string(m)), nil }

// TaskMessage is one unit of panorama work consumed from the task queue.
// Values are never mutated after decode.
type TaskMessage struct {
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
	Mode   Mode   `json:"mode"`
	// ImagePath is the reference image; only outpaint uses it.
	ImagePath string `json:"image_path,omitempty"`
	// TextPath points to a file with one prompt per view.
	TextPath string `json:"text_path,omitempty"`
	GenVideo bool   `json:"gen_video,omitempty"`
}

// HasImage reports whether a non-blank reference image was supplied.
func (t TaskMessage) HasImage() bool {
	return strings.TrimSpace(t.ImagePath) != ""
}
