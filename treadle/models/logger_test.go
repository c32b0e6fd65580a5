package models

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStep struct {
	name string
}

func (s testStep) Name() string          { return s.name }
func (s testStep) Command() string       { return "true" }
func (s testStep) Kind() StepKind        { return StepKindUser }
func (s testStep) ContinueOnError() bool { return false }

func testLoggerWid() WorkflowId {
	return WorkflowId{
		RunId: RunId{Repo: "acme/widgets", Rkey: "rkey1"},
		Name:  "lint.yml",
	}
}

func readLogLines(t *testing.T, path string) []LogLine {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []LogLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line LogLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())

	return lines
}

func TestWorkflowLogger_RedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	wid := testLoggerWid()

	l, err := NewWorkflowLogger(dir, wid)
	require.NoError(t, err)

	l.Redact([]string{"hunter2", "s3cr3t"})

	w := l.DataWriter(0, "stdout")
	_, err = w.Write([]byte("the token is hunter2\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("s3cr3t appears twice: s3cr3t\n"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	path := LogFilePath(dir, wid)

	// the plaintext never reaches disk, in any line
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "s3cr3t")

	lines := readLogLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "the token is ***", lines[0].Content)
	assert.Equal(t, "*** appears twice: ***", lines[1].Content)
	assert.Equal(t, "stdout", lines[0].Stream)
	assert.Equal(t, "data", lines[0].Kind)
}

func TestWorkflowLogger_RedactAppliesToLaterValues(t *testing.T) {
	dir := t.TempDir()
	wid := testLoggerWid()

	l, err := NewWorkflowLogger(dir, wid)
	require.NoError(t, err)

	l.Redact([]string{"first"})
	l.Redact([]string{"second"})

	_, err = l.DataWriter(0, "stdout").Write([]byte("first then second\n"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	lines := readLogLines(t, LogFilePath(dir, wid))
	require.Len(t, lines, 1)
	assert.Equal(t, "*** then ***", lines[0].Content)
}

func TestWorkflowLogger_ControlLines(t *testing.T) {
	dir := t.TempDir()
	wid := testLoggerWid()

	l, err := NewWorkflowLogger(dir, wid)
	require.NoError(t, err)

	step := testStep{name: "lint"}
	_, err = l.ControlWriter(1, step, StatusKindRunning).Write(nil)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	lines := readLogLines(t, LogFilePath(dir, wid))
	require.Len(t, lines, 1)
	assert.Equal(t, "control", lines[0].Kind)
	assert.Equal(t, 1, lines[0].StepIdx)
	assert.Equal(t, "lint", lines[0].StepName)
	assert.Equal(t, StatusKindRunning, lines[0].Status)
}
