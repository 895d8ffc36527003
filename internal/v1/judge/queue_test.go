package judge

import (
	"context"
	"errors"
	"testing"

	"github.com/giilbert/radix/internal/v1/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSandbox struct {
	stdout string
	stderr string
	err    error
}

func (f fakeSandbox) Execute(ctx context.Context, language, source string) (ExecutionResult, error) {
	if f.err != nil {
		return ExecutionResult{}, f.err
	}
	return ExecutionResult{Stdout: f.stdout, Stderr: f.stderr}, nil
}

func harnessLine(programOutput string) string {
	return outputMarker + `{"runtime":5,"program_output":[` + programOutput + `]}`
}

func TestQueueSubmitPassesMatchingTestCase(t *testing.T) {
	sandbox := fakeSandbox{stdout: harnessLine("2")}
	q := NewQueue(sandbox, NewNoopCache())
	defer q.Close()

	testCases := []domain.TestCase{{Input: "[1, 1]", Output: "2"}}
	result, err := q.Submit(context.Background(), "python", "def solve(a, b): return a + b", testCases)
	require.NoError(t, err)
	assert.Len(t, result.OkayTests, 1)
	assert.Empty(t, result.FailedTests)
}

func TestQueueSubmitFailsMismatchedTestCase(t *testing.T) {
	sandbox := fakeSandbox{stdout: harnessLine("3")}
	q := NewQueue(sandbox, NewNoopCache())
	defer q.Close()

	testCases := []domain.TestCase{{Input: "[1, 1]", Output: "2"}}
	result, err := q.Submit(context.Background(), "python", "def solve(a, b): return a + b", testCases)
	require.NoError(t, err)
	assert.Empty(t, result.OkayTests)
	assert.Len(t, result.FailedTests, 1)
}

func TestQueueSubmitPropagatesSandboxError(t *testing.T) {
	sandbox := fakeSandbox{err: errors.New("sandbox down")}
	q := NewQueue(sandbox, NewNoopCache())
	defer q.Close()

	_, err := q.Submit(context.Background(), "python", "def solve(): pass", nil)
	assert.Error(t, err)
}

func TestQueueSubmitStderrFailsEvenWithValidHarnessOutput(t *testing.T) {
	sandbox := fakeSandbox{stdout: harnessLine("2"), stderr: "warning: deprecated"}
	q := NewQueue(sandbox, NewNoopCache())
	defer q.Close()

	testCases := []domain.TestCase{{Input: "[1, 1]", Output: "2"}}
	_, err := q.Submit(context.Background(), "python", "def solve(a, b): return a + b", testCases)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deprecated")
}

func TestQueueSubmitUnsupportedLanguage(t *testing.T) {
	q := NewQueue(fakeSandbox{}, NewNoopCache())
	defer q.Close()

	_, err := q.Submit(context.Background(), "rust", "fn main() {}", nil)
	assert.Error(t, err)
}

func TestQueueSubmitWithNoopCacheRunsSandboxEveryTime(t *testing.T) {
	sandbox := &countingSandbox{stdout: harnessLine("2")}
	q := NewQueue(sandbox, NewNoopCache())
	defer q.Close()

	testCases := []domain.TestCase{{Input: "[1, 1]", Output: "2"}}
	_, err := q.Submit(context.Background(), "python", "def solve(a, b): return a + b", testCases)
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), "python", "def solve(a, b): return a + b", testCases)
	require.NoError(t, err)

	assert.Equal(t, 2, sandbox.calls)
}

type countingSandbox struct {
	stdout string
	calls  int
}

func (c *countingSandbox) Execute(ctx context.Context, language, source string) (ExecutionResult, error) {
	c.calls++
	return ExecutionResult{Stdout: c.stdout}, nil
}
