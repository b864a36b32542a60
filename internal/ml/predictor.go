package ml

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PythonLoader serves pickled scikit-learn pipelines (.pkl, .joblib) and ONNX
// graphs through a long-lived Python helper. Load copies the artifact into a
// private directory and the helper unpickles that copy once, so later changes
// to the original file never reach the running model. The helper answers one
// request at a time.
type PythonLoader struct {
	// PythonPath overrides interpreter discovery when set.
	PythonPath string
	// Timeout bounds helper startup and each request. Zero means 5s.
	Timeout time.Duration
}

type pythonClassifier struct {
	pythonPath string
	dir        string // snapshot and helper script, removed on Close
	scriptPath string
	modelPath  string
	timeout    time.Duration

	mu     sync.Mutex
	proc   *helperProcess
	closed bool
}

type helperProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

type helperRequest struct {
	Columns []string `json:"columns"`
	Row     []any    `json:"row"`
}

type helperResponse struct {
	Probabilities []float64 `json:"probabilities"`
	ModelType     string    `json:"model_type"`
	Error         string    `json:"error,omitempty"`
}

// Load resolves an interpreter, snapshots the artifact and starts the helper.
// The helper's first line reports the model type and doubles as a self-check.
func (l PythonLoader) Load(ctx context.Context, path string) (_ *Artifact, err error) {
	pythonPath := l.PythonPath
	if pythonPath == "" {
		found, err := findPython()
		if err != nil {
			return nil, err
		}
		pythonPath = found
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dir, err := os.MkdirTemp("", "churn-model-*")
	if err != nil {
		return nil, errors.Wrap(err, "create helper dir")
	}
	defer func() {
		if err != nil {
			os.RemoveAll(dir)
		}
	}()

	snapshot := filepath.Join(dir, "model"+strings.ToLower(filepath.Ext(path)))
	if err := copyFile(path, snapshot); err != nil {
		return nil, errors.Wrap(err, "snapshot artifact")
	}
	scriptPath := filepath.Join(dir, "churn_inference.py")
	if err := os.WriteFile(scriptPath, []byte(inferenceScript), 0o600); err != nil {
		return nil, errors.Wrap(err, "write inference helper")
	}

	c := &pythonClassifier{
		pythonPath: pythonPath,
		dir:        dir,
		scriptPath: scriptPath,
		modelPath:  snapshot,
		timeout:    timeout,
	}

	c.mu.Lock()
	modelType, err := c.startLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "artifact self-check")
	}

	log.Info().
		Str("python_path", pythonPath).
		Str("model_path", path).
		Str("model_type", modelType).
		Msg("Python model helper ready")

	return &Artifact{Classifier: c, ModelType: modelType, ConcurrentSafe: false}, nil
}

func (c *pythonClassifier) PredictProba(ctx context.Context, v Vector) ([2]float64, error) {
	req := &helperRequest{Columns: v.Names(), Row: make([]any, len(v))}
	for i, cell := range v {
		if !cell.Categorical && (math.IsNaN(cell.Num) || math.IsInf(cell.Num, 0)) {
			return [2]float64{}, fmt.Errorf("column %s is not finite", cell.Name)
		}
		req.Row[i] = cell.Value()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return [2]float64{}, errors.New("model helper is closed")
	}
	if c.proc == nil {
		// A previous request killed the helper; it reloads the private snapshot.
		log.Warn().Str("model_path", c.modelPath).Msg("Restarting model helper")
		if _, err := c.startLocked(ctx); err != nil {
			return [2]float64{}, errors.Wrap(err, "restart model helper")
		}
	}

	resp, err := c.exchangeLocked(ctx, req)
	if err != nil {
		return [2]float64{}, err
	}

	if len(resp.Probabilities) != 2 {
		return [2]float64{}, fmt.Errorf("expected 2 probabilities, got %d", len(resp.Probabilities))
	}
	for i, p := range resp.Probabilities {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return [2]float64{}, fmt.Errorf("invalid probability %d: %f", i, p)
		}
	}
	return [2]float64{resp.Probabilities[0], resp.Probabilities[1]}, nil
}

// Close stops the helper and removes the snapshot.
func (c *pythonClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.stopLocked()
	return os.RemoveAll(c.dir)
}

func (c *pythonClassifier) startLocked(ctx context.Context) (string, error) {
	cmd := exec.Command(c.pythonPath, c.scriptPath, "serve", c.modelPath)
	cmd.Stderr = stderrLog{}
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", errors.Wrap(err, "start model helper")
	}
	c.proc = &helperProcess{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}

	resp, err := c.exchangeLocked(ctx, nil)
	if err != nil {
		c.stopLocked()
		return "", err
	}
	if resp.ModelType == "" {
		c.stopLocked()
		return "", errors.New("helper reported no model type")
	}
	return resp.ModelType, nil
}

// exchangeLocked sends req (nothing when nil) and reads one response line.
// A timeout or a broken pipe kills the helper; the next request restarts it.
func (c *pythonClassifier) exchangeLocked(ctx context.Context, req *helperRequest) (*helperResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		resp *helperResponse
		err  error
	}
	p := c.proc
	done := make(chan result, 1)
	go func() {
		resp, err := p.roundTrip(req)
		done <- result{resp, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		c.stopLocked()
		<-done
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("model helper timeout after %v", c.timeout)
		}
		return nil, ctx.Err()
	}

	if r.err != nil {
		c.stopLocked()
		return nil, r.err
	}
	if r.resp.Error != "" {
		return nil, fmt.Errorf("model helper: %s", r.resp.Error)
	}
	return r.resp, nil
}

func (c *pythonClassifier) stopLocked() {
	p := c.proc
	if p == nil {
		return
	}
	c.proc = nil

	p.stdin.Close()
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	// Wait closes our end of stdout, which unblocks a pending read.
	p.cmd.Wait()
}

func (p *helperProcess) roundTrip(req *helperRequest) (*helperResponse, error) {
	if req != nil {
		line, err := json.Marshal(req)
		if err != nil {
			return nil, errors.Wrap(err, "marshal helper request")
		}
		if _, err := p.stdin.Write(append(line, '\n')); err != nil {
			return nil, errors.Wrap(err, "write helper request")
		}
	}

	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, errors.Wrap(err, "model helper exited")
	}
	var resp helperResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, errors.Wrapf(err, "parse helper response %q", strings.TrimSpace(string(line)))
	}
	return &resp, nil
}

// stderrLog forwards helper diagnostics to the debug log.
type stderrLog struct{}

func (stderrLog) Write(b []byte) (int, error) {
	if msg := strings.TrimSpace(string(b)); msg != "" {
		log.Debug().Str("stderr", msg).Msg("Model helper output")
	}
	return len(b), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o400)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func findPython() (string, error) {
	var candidates []string
	if venv := os.Getenv("VIRTUAL_ENV"); venv != "" {
		candidates = append(candidates,
			filepath.Join(venv, "bin", "python3"),
			filepath.Join(venv, "bin", "python"),
			filepath.Join(venv, "Scripts", "python.exe"),
		)
	}
	if execPath, err := os.Executable(); err == nil {
		for _, root := range []string{filepath.Dir(execPath), filepath.Dir(filepath.Dir(execPath))} {
			candidates = append(candidates,
				filepath.Join(root, "venv", "bin", "python3"),
				filepath.Join(root, ".venv", "bin", "python3"),
			)
		}
	}
	for _, name := range []string{"python3", "python", "python3.12", "python3.11", "python3.10"} {
		if p, err := exec.LookPath(name); err == nil {
			candidates = append(candidates, p)
		}
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		cmd := exec.Command(candidate, "-c", "import sys; exit(0 if sys.version_info[0] == 3 else 1)")
		if err := cmd.Run(); err == nil {
			log.Debug().Str("python_path", candidate).Msg("Using Python interpreter")
			return candidate, nil
		}
	}

	return "", errors.New("no Python 3 interpreter found for pickle/ONNX artifacts")
}

const inferenceScript = `#!/usr/bin/env python3
import json
import sys

# Library chatter must not corrupt the response stream.
OUT = sys.stdout
sys.stdout = sys.stderr


def reply(obj):
    OUT.write(json.dumps(obj) + "\n")
    OUT.flush()


def fail(msg):
    reply({"error": msg})
    sys.exit(1)


def load(path):
    if path.endswith(".onnx"):
        try:
            import onnxruntime as ort
        except ImportError:
            fail("onnxruntime not installed")
        return ort.InferenceSession(path)
    try:
        import joblib
        return joblib.load(path)
    except ImportError:
        import pickle
        with open(path, "rb") as fh:
            return pickle.load(fh)


def predict(model, req):
    cols, row = req["columns"], req["row"]
    if hasattr(model, "get_inputs"):
        import numpy as np
        feeds = {}
        for inp in model.get_inputs():
            if inp.name not in cols:
                raise ValueError("onnx input %s not in feature vector" % inp.name)
            v = row[cols.index(inp.name)]
            dtype = object if isinstance(v, str) else np.float32
            feeds[inp.name] = np.array([[v]], dtype=dtype)
        outputs = model.run(None, feeds)
        proba = outputs[-1][0]
        if isinstance(proba, dict):
            proba = [proba.get(0, proba.get("0", 0.0)), proba.get(1, proba.get("1", 0.0))]
        return [float(p) for p in proba]
    try:
        import pandas as pd
        rows = pd.DataFrame([row], columns=cols)
    except ImportError:
        rows = [row]
    return [float(p) for p in model.predict_proba(rows)[0]]


def main():
    if len(sys.argv) != 3 or sys.argv[1] != "serve":
        fail("usage: churn_inference.py serve <model_path>")
    try:
        model = load(sys.argv[2])
    except SystemExit:
        raise
    except Exception as exc:
        fail(str(exc))

    name = "OnnxModel" if hasattr(model, "get_inputs") else type(model).__name__
    reply({"model_type": name})

    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        try:
            reply({"probabilities": predict(model, json.loads(line))})
        except Exception as exc:
            reply({"error": str(exc)})


if __name__ == "__main__":
    main()
`
