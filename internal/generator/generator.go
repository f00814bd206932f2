// Package generator invokes the external response-generation script as a
// subprocess. The script receives a JSON document on stdin and is expected
// to print a JSON reply on stdout within the configured timeout.
//
// Input format (matches the script contract):
//
//	{
//	  "message":   "User message text",
//	  "files":     [{"path": "...", "originalName": "...", "mimetype": "..."}],
//	  "sessionId": "unique-session-id",
//	  "timestamp": "2024-01-01T12:00:00.000Z"
//	}
//
// Output format:
//
//	{
//	  "response": "Reply to display to the user",
//	  "confidence": 0.95, "intent": "...", "entities": [...],
//	  "actions": [...], "metadata": {}
//	}
//
// Parsing is deliberately permissive: stdout that is not valid JSON (or JSON
// of the wrong shape) but non-empty is accepted as the reply text verbatim.
// A non-zero exit, empty output, or an exceeded timeout is a generation
// failure; the timeout kills the process.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrTimeout is returned when the script did not finish within the bound.
// The subprocess has been killed by the time this is returned.
var ErrTimeout = errors.New("generator timed out")

// ErrEmptyOutput is returned when the script exited successfully but wrote
// nothing usable to stdout.
var ErrEmptyOutput = errors.New("generator produced no output")

// FileRef describes one validated attachment passed to the script.
type FileRef struct {
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimetype"`
}

// Input is the JSON document written to the script's stdin.
type Input struct {
	Message   string    `json:"message"`
	Files     []FileRef `json:"files"`
	SessionID string    `json:"sessionId"`
	Timestamp string    `json:"timestamp"`
}

// Result is the parsed (or fallback) outcome of a successful invocation.
//
// Structured is true when stdout parsed as the expected JSON shape; in the
// fallback case only Response and Raw are populated.
type Result struct {
	Response   string         `json:"response"`
	Confidence float64        `json:"confidence,omitempty"`
	Intent     string         `json:"intent,omitempty"`
	Entities   []string       `json:"entities,omitempty"`
	Actions    []string       `json:"actions,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	Structured bool   `json:"-"`
	Raw        string `json:"-"`
}

// IntentLabel renders the machine intent ("support_request") as a
// human-readable label ("Support Request") for UI payloads.
func (r *Result) IntentLabel() string {
	if r.Intent == "" {
		return ""
	}
	words := strings.ReplaceAll(r.Intent, "_", " ")
	return cases.Title(language.English).String(words)
}

var (
	genRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generator_invocations_total",
			Help: "Total response-generator invocations by outcome.",
		},
		[]string{"outcome"}, // ok | raw | timeout | error
	)
	genLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generator_duration_seconds",
			Help:    "Wall-clock duration of response-generator invocations.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)
)

func init() {
	prometheus.MustRegister(genRuns, genLatency)
}

// Script runs the configured command once per Generate call.
//
// Command and Args name the interpreter and script, e.g.
// {Command: "python3", Args: ["scripts/initialize.py"]}. Timeout bounds the
// whole invocation; zero means DefaultTimeout.
type Script struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// DefaultTimeout bounds a generator run when Script.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Generate runs the script with in encoded on stdin and returns the parsed
// result. The ctx deadline and the configured timeout both bound the run;
// whichever fires first kills the subprocess and yields ErrTimeout.
func (s *Script) Generate(ctx context.Context, in Input) (*Result, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode generator input: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	genLatency.Observe(time.Since(start).Seconds())

	if ctx.Err() == context.DeadlineExceeded {
		genRuns.WithLabelValues("timeout").Inc()
		return nil, ErrTimeout
	}
	if runErr != nil {
		genRuns.WithLabelValues("error").Inc()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("generator failed: %w: %s", runErr, msg)
		}
		return nil, fmt.Errorf("generator failed: %w", runErr)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		genRuns.WithLabelValues("error").Inc()
		return nil, ErrEmptyOutput
	}

	res := parseOutput(out)
	if res.Structured {
		genRuns.WithLabelValues("ok").Inc()
	} else {
		genRuns.WithLabelValues("raw").Inc()
	}
	return res, nil
}

// parseOutput attempts the structured shape first and falls back to treating
// the whole text as the reply. The fallback must be preserved: scripts that
// print plain text are valid generators.
func parseOutput(out string) *Result {
	var res Result
	if err := json.Unmarshal([]byte(out), &res); err == nil && strings.TrimSpace(res.Response) != "" {
		res.Structured = true
		res.Raw = out
		return &res
	}
	return &Result{Response: out, Raw: out}
}
