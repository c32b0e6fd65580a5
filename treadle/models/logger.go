package models

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LogLine struct {
	Kind     string     `json:"kind"` // "data" or "control"
	StepIdx  int        `json:"step"`
	Stream   string     `json:"stream,omitempty"`
	Content  string     `json:"content,omitempty"`
	StepName string     `json:"step_name,omitempty"`
	Status   StatusKind `json:"status,omitempty"`
}

func NewDataLogLine(idx int, content, stream string) LogLine {
	return LogLine{Kind: "data", StepIdx: idx, Stream: stream, Content: content}
}

func NewControlLogLine(idx int, step Step, status StatusKind) LogLine {
	return LogLine{Kind: "control", StepIdx: idx, StepName: step.Name(), Status: status}
}

// WorkflowLogger appends JSONL log lines for one workflow run.
// Secret values passed to Redact are scrubbed from data lines before
// they ever reach disk.
type WorkflowLogger struct {
	file    *os.File
	encoder *json.Encoder
	redact  []string
}

func NewWorkflowLogger(baseDir string, wid WorkflowId) (*WorkflowLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	path := LogFilePath(baseDir, wid)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating log file: %w", err)
	}

	return &WorkflowLogger{
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

func LogFilePath(baseDir string, wid WorkflowId) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.log", wid.String()))
}

// Redact registers secret values to scrub from subsequent data lines.
func (l *WorkflowLogger) Redact(values []string) {
	l.redact = append(l.redact, values...)
}

func (l *WorkflowLogger) Close() error {
	return l.file.Close()
}

func (l *WorkflowLogger) DataWriter(idx int, stream string) io.Writer {
	return &dataWriter{
		logger: l,
		idx:    idx,
		stream: stream,
	}
}

func (l *WorkflowLogger) ControlWriter(idx int, step Step, stepStatus StatusKind) io.Writer {
	return &controlWriter{
		logger:     l,
		idx:        idx,
		step:       step,
		stepStatus: stepStatus,
	}
}

type dataWriter struct {
	logger *WorkflowLogger
	idx    int
	stream string
}

func (w *dataWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	for _, v := range w.logger.redact {
		line = strings.ReplaceAll(line, v, "***")
	}
	entry := NewDataLogLine(w.idx, line, w.stream)
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(p), nil
}

type controlWriter struct {
	logger     *WorkflowLogger
	idx        int
	step       Step
	stepStatus StatusKind
}

func (w *controlWriter) Write(_ []byte) (int, error) {
	entry := NewControlLogLine(w.idx, w.step, w.stepStatus)
	if err := w.logger.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(w.step.Name()), nil
}
