package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opsqueue/queueworker/internal/task"
)

// manifest is the on-disk descriptor for one plugin: plugins/*.json. A
// plugin names an out-of-process subprocess rather than a source file
// executed in-process, so the worker never loads or compiles arbitrary
// code at startup.
type manifest struct {
	Name        string   `json:"name"`
	Tool        string   `json:"tool"`
	Description string   `json:"description,omitempty"`
	Command     string   `json:"command"`
	Args        []string `json:"args,omitempty"`
}

// pluginRequest is sent on the subprocess's stdin, one JSON object,
// followed by EOF.
type pluginRequest struct {
	Task       *task.Task `json:"task"`
	PromptFile string     `json:"prompt_file"`
}

// pluginResponse is read from the subprocess's stdout after it exits.
type pluginResponse struct {
	Executable string   `json:"executable"`
	Arguments  []string `json:"arguments"`
	Error      string   `json:"error,omitempty"`
}

// subprocessResolver invokes a plugin's declared command once per
// resolution, feeding it the task and prompt file as JSON on stdin and
// reading back a Command as JSON on stdout.
type subprocessResolver struct {
	name    string
	command string
	args    []string
}

func (r *subprocessResolver) ResolveCommand(t *task.Task, promptFile string) (Command, error) {
	reqBody, err := json.Marshal(pluginRequest{Task: t, PromptFile: promptFile})
	if err != nil {
		return Command{}, fmt.Errorf("plugin %s: encoding request: %w", r.name, err)
	}

	cmd := exec.Command(r.command, r.args...)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Command{}, fmt.Errorf("plugin %s: %w: %s", r.name, err, stderr.String())
	}

	var resp pluginResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Command{}, fmt.Errorf("plugin %s: decoding response: %w", r.name, err)
	}
	if resp.Error != "" {
		return Command{}, fmt.Errorf("plugin %s: %s", r.name, resp.Error)
	}

	return Command{Executable: resp.Executable, Arguments: resp.Arguments}, nil
}

// LoadPlugins scans dir for *.json manifests and registers a
// subprocessResolver for each into reg. A manifest that is unreadable,
// malformed, or missing its tool/command fields is skipped; the caller
// logs the returned per-file errors as warnings rather than aborting
// startup.
func LoadPlugins(reg *Registry, dir string) []error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{fmt.Errorf("reading plugin directory %s: %w", dir, err)}
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := loadManifest(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", entry.Name(), err))
			continue
		}
		reg.RegisterPlugin(m.Tool, &subprocessResolver{
			name:    m.Name,
			command: m.Command,
			args:    m.Args,
		})
	}
	return errs
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Tool == "" {
		return nil, fmt.Errorf("missing tool key")
	}
	if m.Command == "" {
		return nil, fmt.Errorf("missing command")
	}
	if m.Name == "" {
		m.Name = m.Tool
	}
	return &m, nil
}
