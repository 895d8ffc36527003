package judge

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/giilbert/radix/internal/v1/domain"
)

// outputMarker is the literal line prefix the harness prints before its
// single JSON result line, per spec.md §4.4.
const outputMarker = "[[RADIX TEST OUTPUT]] "

// pistonJobPathPattern strips the sandbox's internal job path from
// stderr so clients never see infrastructure details.
var pistonJobPathPattern = regexp.MustCompile(`/piston/jobs/[A-Za-z0-9-]+/`)

// pythonHarness wraps user code with a driver that feeds each test
// case's parsed input into solve(*args), collects the outputs, and
// prints the single marked result line the judge worker parses back
// out of stdout.
const pythonHarnessTemplate = `
import json
import time

__radix_inputs__ = json.loads(%s)

def __radix_main__():
    __radix_start__ = time.time()
    __radix_output__ = []
    for __radix_args__ in __radix_inputs__:
        __radix_output__.append(solve(*__radix_args__))
    __radix_runtime_ms__ = int((time.time() - __radix_start__) * 1000)
    print(%q + json.dumps({"runtime": __radix_runtime_ms__, "program_output": __radix_output__}))

__radix_main__()
`

// parsedInputs JSON-parses each test case's Input field, silently
// skipping any that fail to parse, per spec.md §4.4.
func parsedInputs(testCases []domain.TestCase) []json.RawMessage {
	inputs := make([]json.RawMessage, 0, len(testCases))
	for _, tc := range testCases {
		var v json.RawMessage
		if err := json.Unmarshal([]byte(tc.Input), &v); err != nil {
			continue
		}
		inputs = append(inputs, v)
	}
	return inputs
}

// buildSource prepares the source file submitted to the sandbox. Only
// python gets a harness; javascript is submitted as-is (the spec only
// prescribes harness behavior for python).
func buildSource(language, code string, testCases []domain.TestCase) (string, error) {
	switch language {
	case "python":
		inputs := parsedInputs(testCases)
		inputsJSON, err := json.Marshal(inputs)
		if err != nil {
			return "", fmt.Errorf("marshal harness inputs: %w", err)
		}
		// inputsJSON is embedded as a Python string literal holding JSON text.
		quotedInputs := fmt.Sprintf("%q", string(inputsJSON))
		harness := fmt.Sprintf(pythonHarnessTemplate, quotedInputs, outputMarker)
		return code + "\n" + harness, nil
	case "javascript":
		return code, nil
	default:
		return "", fmt.Errorf("unsupported language %q", language)
	}
}

type harnessResult struct {
	RuntimeMs      int64             `json:"runtime"`
	ProgramOutput  []json.RawMessage `json:"program_output"`
}

// sanitizeStderr strips internal sandbox job paths from stderr before
// it is ever shown to a submitter.
func sanitizeStderr(stderr string) string {
	return pistonJobPathPattern.ReplaceAllString(stderr, "")
}

// lastNonEmptyLine returns the last non-blank line of s.
func lastNonEmptyLine(s string) (string, bool) {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			return line, true
		}
	}
	return "", false
}

// parseHarnessOutput extracts the marked result line from stdout and
// decodes it, per spec.md §4.4's post-processing rules.
func parseHarnessOutput(stdout string) (harnessResult, error) {
	line, ok := lastNonEmptyLine(stdout)
	if !ok || !strings.HasPrefix(line, outputMarker) {
		return harnessResult{}, fmt.Errorf("program did not output anything")
	}
	jsonPart := strings.TrimPrefix(line, outputMarker)
	var res harnessResult
	if err := json.Unmarshal([]byte(jsonPart), &res); err != nil {
		return harnessResult{}, fmt.Errorf("decode harness output: %w", err)
	}
	return res, nil
}

// canonicalJSON re-marshals arbitrary JSON text into a canonical form
// so structurally-equal values compare equal regardless of
// whitespace/key order in the original source.
func canonicalJSON(raw string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func canonicalJSONRaw(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// projectResult pairs program_output[i] with testCases[i] by index
// (length = min of both) and buckets each pair into okay/failed per
// spec.md §4.4.
func projectResult(testCases []domain.TestCase, res harnessResult) domain.JudgingResult {
	n := len(testCases)
	if len(res.ProgramOutput) < n {
		n = len(res.ProgramOutput)
	}

	out := domain.JudgingResult{RuntimeMs: res.RuntimeMs}
	for i := 0; i < n; i++ {
		tc := testCases[i]
		gotCanon, gotErr := canonicalJSONRaw(res.ProgramOutput[i])
		wantCanon, wantErr := canonicalJSON(tc.Output)

		if gotErr == nil && wantErr == nil && gotCanon == wantCanon {
			out.OkayTests = append(out.OkayTests, tc)
			continue
		}
		out.FailedTests = append(out.FailedTests, domain.FailedTestCase{
			Input:    tc.Input,
			Output:   string(res.ProgramOutput[i]),
			Expected: tc.Output,
		})
	}
	return out
}
