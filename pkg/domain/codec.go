package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedPayload marks queue items that cannot be decoded into a message.
// Such items carry no trustworthy task id and are dropped by the worker.
var ErrMalformedPayload = errors.New("malformed payload")

// taskWire uses pointers so that a missing key can be told apart from an empty value.
type taskWire struct {
	TaskID    *string `json:"task_id" validate:"required"`
	Text      *string `json:"text" validate:"required"`
	Mode      string  `json:"mode" validate:"omitempty,oneof=text2pano outpaint"`
	ImagePath *string `json:"image_path"`
	TextPath  *string `json:"text_path"`
	GenVideo  *bool   `json:"gen_video"`
}

type resultWire struct {
	TaskID     *string  `json:"task_id" validate:"required"`
	Success    *bool    `json:"success" validate:"required"`
	OutputDir  string   `json:"output_dir"`
	ImagePaths []string `json:"image_paths"`
	Message    string   `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeTask parses a task queue payload. Business rules such as the outpaint
// image requirement are left to the dispatcher.
func DecodeTask(payload []byte) (TaskMessage, error) {
	var w taskWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return TaskMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(w); err != nil {
		return TaskMessage{}, malformed(err)
	}
	if strings.TrimSpace(*w.TaskID) == "" {
		return TaskMessage{}, fmt.Errorf("%w: task_id is blank", ErrMalformedPayload)
	}

	t := TaskMessage{
		TaskID: *w.TaskID,
		Text:   *w.Text,
		Mode:   Mode(w.Mode),
	}
	if t.Mode == "" {
		t.Mode = ModeText2Pano
	}
	if w.ImagePath != nil {
		t.ImagePath = *w.ImagePath
	}
	if w.TextPath != nil {
		t.TextPath = *w.TextPath
	}
	if w.GenVideo != nil {
		t.GenVideo = *w.GenVideo
	}
	return t, nil
}

// EncodeTask writes an empty mode as text2pano, the value DecodeTask would
// assume for it.
func EncodeTask(t TaskMessage) ([]byte, error) {
	if t.Mode == "" {
		t.Mode = ModeText2Pano
	}
	return json.Marshal(t)
}

func EncodeResult(r ResultMessage) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeResult(payload []byte) (ResultMessage, error) {
	var w resultWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return ResultMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(w); err != nil {
		return ResultMessage{}, malformed(err)
	}
	return ResultMessage{
		TaskID:     *w.TaskID,
		Success:    *w.Success,
		OutputDir:  w.OutputDir,
		ImagePaths: w.ImagePaths,
		Message:    w.Message,
	}, nil
}

func malformed(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, "missing "+fe.Field())
		case "oneof":
			parts = append(parts, fmt.Sprintf("unknown %s %q", fe.Field(), fe.Value()))
		default:
			parts = append(parts, fmt.Sprintf("invalid %s", fe.Field()))
		}
	}
	return fmt.Errorf("%w: %s", ErrMalformedPayload, strings.Join(parts, "; "))
}
