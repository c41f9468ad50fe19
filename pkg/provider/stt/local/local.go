// Package local provides an STT backend that runs a Whisper script as a
// subprocess on the host.
//
// The script is invoked as "<python> <script> <wav path>". On success it exits
// 0 and prints a JSON object as the first value on stdout:
//
//	{"transcript": "...", "language": "th", "segments": [...]}
//
// Anything printed after that object (commonly the bare transcript line) is
// ignored. Diagnostics go to stderr and are attached to the error when the
// script exits non-zero.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/scrumscribe/pkg/provider/stt"
)

const (
	defaultPython   = "python3"
	defaultLanguage = "th"
	defaultTimeout  = 5 * time.Minute

	// maxStderr bounds the stderr excerpt kept in errors.
	maxStderr = 2048

	// waitDelay bounds how long output pipes may stay open after the script
	// is killed on cancellation.
	waitDelay = 2 * time.Second
)

var _ stt.Backend = (*Backend)(nil)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithPython sets the interpreter binary. Defaults to "python3".
func WithPython(bin string) Option {
	return func(b *Backend) { b.python = bin }
}

// WithTempDir sets where temporary WAV files are written. Defaults to
// [os.TempDir].
func WithTempDir(dir string) Option {
	return func(b *Backend) { b.tempDir = dir }
}

// WithLanguage sets the language reported when the script omits one.
// Defaults to "th".
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// WithTimeout bounds one script run. The script is killed when it expires.
// Defaults to 5 minutes; zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithEnv appends environment variables ("KEY=value") to the subprocess
// environment.
func WithEnv(env ...string) Option {
	return func(b *Backend) { b.env = append(b.env, env...) }
}

// Backend implements stt.Backend by running a local transcription script.
type Backend struct {
	script   string
	python   string
	tempDir  string
	language string
	timeout  time.Duration
	env      []string
}

// New creates a Backend that runs script. script must be non-empty.
func New(script string, opts ...Option) (*Backend, error) {
	if script == "" {
		return nil, errors.New("local: script must not be empty")
	}
	b := &Backend{
		script:   script,
		python:   defaultPython,
		language: defaultLanguage,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name returns "local".
func (b *Backend) Name() string { return "local" }

type scriptOutput struct {
	Transcript string            `json:"transcript"`
	Confidence *float64          `json:"confidence"`
	Language   string            `json:"language"`
	Segments   []stt.WireSegment `json:"segments"`
	Duration   float64           `json:"duration"`
}

// ExitError reports a non-zero exit of the transcription script.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("local: script exited with code %d: %s", e.Code, e.Stderr)
}

// Transcribe writes req.Audio to a temporary WAV file and runs the script on
// it. The file is removed afterwards.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	path, err := b.writeTemp(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("local: failed to remove temp audio", "path", path, "err", err)
		}
	}()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.python, b.script, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("local: run script: %w", ctxErr)
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, &ExitError{Code: ee.ExitCode(), Stderr: tail(stderr.String(), maxStderr)}
		}
		return nil, fmt.Errorf("local: run script: %w", err)
	}

	var out scriptOutput
	if err := json.NewDecoder(&stdout).Decode(&out); err != nil {
		return nil, fmt.Errorf("local: parse script output: %w", err)
	}
	text := strings.TrimSpace(out.Transcript)
	if text == "" {
		return nil, stt.ErrNoSpeech
	}

	res := &stt.Result{
		SpeakerID:  req.SpeakerID,
		Text:       text,
		Confidence: stt.DefaultConfidence,
		Timestamp:  time.Now(),
		Language:   b.language,
		Segments:   stt.Segments(out.Segments),
		Backend:    b.Name(),
		Duration:   time.Duration(out.Duration * float64(time.Second)),
	}
	if out.Confidence != nil && *out.Confidence > 0 {
		res.Confidence = *out.Confidence
	}
	if out.Language != "" {
		res.Language = out.Language
	}
	return res, nil
}

func (b *Backend) writeTemp(req stt.Request) (string, error) {
	f, err := os.CreateTemp(b.tempDir, "utterance-*.wav")
	if err != nil {
		return "", fmt.Errorf("local: create temp file: %w", err)
	}
	if _, err := f.Write(req.Audio); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("local: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("local: close temp file: %w", err)
	}
	return f.Name(), nil
}

// tail keeps at most the last n bytes of s, starting on a rune boundary.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
