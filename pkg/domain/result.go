package domain

// InferenceResult is what the dispatcher hands back for a single task,
// before the task id is attached.
type InferenceResult struct {
	Success    bool
	OutputDir  string
	ImagePaths []string
	Message    string
}

// ResultMessage is pushed to the result queue, exactly one per consumed task.
type ResultMessage struct {
	TaskID     string   `json:"task_id"`
	Success    bool     `json:"success"`
	OutputDir  string   `json:"output_dir,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty"`
	Message    string   `json:"message,omitempty"`
}

func NewResultMessage(taskID string, res InferenceResult) ResultMessage {
	return ResultMessage{
		TaskID:     taskID,
		Success:    res.Success,
		OutputDir:  res.OutputDir,
		ImagePaths: res.ImagePaths,
		Message:    res.Message,
	}
}

// Failed builds an unsuccessful InferenceResult carrying msg.
func Failed(msg string) InferenceResult {
	return InferenceResult{Success: false, Message: msg}
}
