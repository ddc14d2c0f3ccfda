package flow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// SubprocessDriver launches a shell command and streams its stdout to
// onLine, returning its exit code. The default driver is a plain
// os/exec.Cmd; subprocess.DockerDriver is the container-isolated
// alternative, wired in by callers that import that package explicitly
// (kept out of the core package so that using SubProcessStep never forces
// a Docker client dependency).
type SubprocessDriver interface {
	Run(ctx context.Context, command, cwd string, env map[string]string, shell bool, onLine func(line string)) (exitCode int, err error)
}

// hostDriver runs the command directly on the host via os/exec.
type hostDriver struct{}

func (hostDriver) Run(ctx context.Context, command, cwd string, env map[string]string, shell bool, onLine func(string)) (int, error) {
	var cmd *exec.Cmd
	if shell {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	} else {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return -1, fmt.Errorf("flow: empty command")
		}
		cmd = exec.CommandContext(ctx, fields[0], fields[1:]...)
	}
	cmd.Dir = cwd
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return -1, err
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// SubProcessStep launches a command template, substituting {input_name}
// placeholders with input values, and monitors stdout for progress
// markers.
type SubProcessStep struct {
	baseNode
	CommandTemplate string
	Cwd             string
	Env             map[string]string
	Shell           bool
	RunPython       bool
	StartedRe       *regexp.Regexp
	ProgressRe      *regexp.Regexp
	DoneRe          *regexp.Regexp
	Driver          SubprocessDriver
}

// NewSubProcessStep constructs a SubProcessStep. A nil Driver defaults to
// running the command directly on the host.
func NewSubProcessStep(id, command string, inputProps, outputProps []PropertySet, persistent bool) *SubProcessStep {
	s := &SubProcessStep{baseNode: baseNode{id: id, persistent: persistent}, CommandTemplate: command}
	s.inputs = s.buildPorts(s, inputProps, false)
	if len(outputProps) == 0 {
		outputProps = []PropertySet{{Name: ReturnOutput}}
	}
	s.outputs = s.buildPorts(s, outputProps, true)
	return s
}

func (s *SubProcessStep) Kind() string { return "subprocess" }

func (s *SubProcessStep) invoke(ctx *ExecContext) error {
	tmpDir, err := os.MkdirTemp("", "flow-subproc-"+s.id+"-")
	if err != nil {
		return &OperationFailedError{StepID: s.id, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	command, readFromPaths, err := s.buildCommand(tmpDir)
	if err != nil {
		return err
	}
	if s.RunPython {
		command = "python3 " + command
	}

	driver := s.Driver
	if driver == nil {
		driver = hostDriver{}
	}

	var lastLabel, lastMsg string
	var totalWork, worked float64
	started := false

	onLine := func(line string) {
		if !started && s.StartedRe != nil {
			if m := matchNamed(s.StartedRe, line); m != nil {
				lastLabel = m["label"]
				if tw, ok := m["total_work"]; ok {
					fmt.Sscanf(tw, "%f", &totalWork)
				}
				ctx.Monitor.Start(lastLabel, totalWork)
				started = true
				return
			}
		}
		if s.ProgressRe != nil {
			if m := matchNamed(s.ProgressRe, line); m != nil {
				if w, ok := m["work"]; ok {
					var delta float64
					fmt.Sscanf(w, "%f", &delta)
					worked += delta
					ctx.Monitor.Worked(delta)
				}
				if msg, ok := m["msg"]; ok {
					lastMsg = msg
					ctx.Monitor.SetMessage(lastMsg)
				}
				return
			}
		}
		if s.DoneRe != nil {
			if matchNamed(s.DoneRe, line) != nil {
				ctx.Monitor.Done()
			}
		}
	}

	exitCode, runErr := driver.Run(ctx.Ctx, command, s.Cwd, s.Env, s.Shell, onLine)
	if runErr != nil {
		return &SubprocessFailedError{StepID: s.id, ExitCode: exitCode, Detail: runErr.Error()}
	}
	if exitCode != 0 {
		return &SubprocessFailedError{StepID: s.id, ExitCode: exitCode, Detail: "non-zero exit"}
	}

	return s.collectOutputs(readFromPaths)
}

// buildCommand substitutes {input_name} placeholders: inputs declared with
// a write_to property are serialized as JSON to a temp file whose path is
// substituted; others are substituted by their literal string form
//.
func (s *SubProcessStep) buildCommand(tmpDir string) (string, map[string]string, error) {
	command := s.CommandTemplate
	readFromPaths := map[string]string{}
	for _, p := range s.inputs {
		v, _ := p.Value()
		placeholder := "{" + p.name + "}"
		if !strings.Contains(command, placeholder) {
			continue
		}
		if p.meta.WriteTo != "" {
			path := filepath.Join(tmpDir, p.meta.WriteTo)
			data, err := json.Marshal(v)
			if err != nil {
				return "", nil, &OperationFailedError{StepID: s.id, Err: err}
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return "", nil, &OperationFailedError{StepID: s.id, Err: err}
			}
			command = strings.ReplaceAll(command, placeholder, path)
		} else {
			command = strings.ReplaceAll(command, placeholder, fmt.Sprintf("%v", v))
		}
	}
	for _, p := range s.outputs {
		if p.meta.ReadFrom != "" {
			readFromPaths[p.name] = filepath.Join(tmpDir, p.meta.ReadFrom)
		}
	}
	return command, readFromPaths, nil
}

// collectOutputs reads and JSON-decodes every read_from output path after
// a successful exit.
func (s *SubProcessStep) collectOutputs(readFromPaths map[string]string) error {
	for _, p := range s.outputs {
		path, ok := readFromPaths[p.name]
		if !ok {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return &OperationFailedError{StepID: s.id, Err: err}
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return &OperationFailedError{StepID: s.id, Err: err}
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return &OperationFailedError{StepID: s.id, Err: err}
		}
		p.SetValue(v)
	}
	return nil
}

// matchNamed returns the named capture groups of re's first match in
// line, or nil if no match.
func matchNamed(re *regexp.Regexp, line string) map[string]string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	out := map[string]string{}
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}
