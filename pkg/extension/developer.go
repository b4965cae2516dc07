package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

// maxShellOutput caps the bytes of shell output fed back to the model.
const maxShellOutput = 16 * 1024

// NewDeveloperExtension returns the built-in developer extension: shell
// plus basic file tools, rooted at workingDir.
func NewDeveloperExtension(workingDir string) *Extension {
	return &Extension{
		Name:         "developer",
		Instructions: "Run shell commands and read, write and list files in the working directory.",
		Handlers: []Handler{
			&shellTool{workingDir: workingDir},
			&readFileTool{},
			&writeFileTool{},
			&listFilesTool{},
		},
		Resources: []Resource{
			{
				URI:       "developer://working_dir",
				Name:      "Working directory",
				Content:   workingDir,
				Timestamp: time.Now(),
				Active:    true,
			},
		},
	}
}

// --- Shell Tool ---

type shellTool struct {
	workingDir string
}

func (t *shellTool) Name() string { return "shell" }

func (t *shellTool) Description() string {
	return "Execute a shell command and return its combined output. Arguments: command (string)."
}

func (t *shellTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The command to execute."},
		},
		"required": []string{"command"},
	}
}

func (t *shellTool) Execute(ctx context.Context, input map[string]any) ([]message.Content, error) {
	command, ok := input["command"].(string)
	if !ok || command == "" {
		return nil, InvalidParametersError("argument 'command' is required and must be a string")
	}

	slog.Info("Running shell command", "command", command)
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.workingDir
	out, err := cmd.CombinedOutput()
	if len(out) > maxShellOutput {
		out = append(out[:maxShellOutput], []byte("\n... output truncated")...)
	}
	if err != nil {
		// A failing command is a result, not a dispatch failure. The exit
		// status and output go back to the model so it can react.
		return []message.Content{
			message.TextItem(fmt.Sprintf("command failed: %v\n%s", err, out)),
		}, nil
	}
	return []message.Content{message.TextItem(string(out))}, nil
}

// --- Read File Tool ---

type readFileTool struct{}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read the contents of a file. Arguments: path (string)."
}

func (t *readFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The file path to read."},
		},
		"required": []string{"path"},
	}
}

func (t *readFileTool) Execute(ctx context.Context, input map[string]any) ([]message.Content, error) {
	path, ok := input["path"].(string)
	if !ok {
		return nil, InvalidParametersError("argument 'path' is required and must be a string")
	}

	slog.Info("Reading file", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ExecutionError("reading file", err)
	}
	return []message.Content{message.TextItem(string(data))}, nil
}

// --- Write File Tool ---

type writeFileTool struct{}

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) Description() string {
	return "Write content to a file. Arguments: path (string), content (string)."
}

func (t *writeFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string", "description": "The file path to write to."},
			"content": map[string]any{"type": "string", "description": "The content to write."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, input map[string]any) ([]message.Content, error) {
	path, ok := input["path"].(string)
	if !ok {
		return nil, InvalidParametersError("argument 'path' is required and must be a string")
	}
	content, ok := input["content"].(string)
	if !ok {
		return nil, InvalidParametersError("argument 'content' is required and must be a string")
	}

	slog.Info("Writing file", "path", path, "size", len(content))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ExecutionError("creating directories", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, ExecutionError("writing file", err)
	}
	return []message.Content{message.TextItem("success")}, nil
}

// --- List Files Tool ---

type listFilesTool struct{}

func (t *listFilesTool) Name() string { return "ls" }

func (t *listFilesTool) Description() string {
	return "List files in a directory. Arguments: path (string)."
}

func (t *listFilesTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "The directory path to list."},
		},
		"required": []string{"path"},
	}
}

func (t *listFilesTool) Execute(ctx context.Context, input map[string]any) ([]message.Content, error) {
	path, ok := input["path"].(string)
	if !ok {
		return nil, InvalidParametersError("argument 'path' is required and must be a string")
	}

	slog.Info("Listing files", "path", path)
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, ExecutionError("listing directory", err)
	}

	var out string
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		if out != "" {
			out += "\n"
		}
		out += e.Name() + suffix
	}
	return []message.Content{message.TextItem(out)}, nil
}
