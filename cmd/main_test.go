package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// runMainEnv makes the test binary behave as the unnatural command, so it
// can be configured as its own estimator process.
const runMainEnv = "UC_TEST_RUN_MAIN"

func TestMain(m *testing.M) {
	if os.Getenv(runMainEnv) == "1" {
		os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// setup writes a config and a small project and returns the config path
// and project directory.
func setup(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "app.yaml")
	writeFile(t, configPath, fmt.Sprintf(`app:
  log_level: error
corpus:
  read_path: %s
model:
  order: 3
  window_size: 4
store:
  path: %s
`, filepath.Join(dir, "corpus", "corpus.txt"), filepath.Join(dir, "results.db")))

	project := filepath.Join(dir, "project")
	writeFile(t, filepath.Join(project, "add.py"), "def add(a, b):\n    return a + b\n")
	writeFile(t, filepath.Join(project, "loop.py"), "for i in range(10):\n    print(add(i, 1))\n")
	writeFile(t, filepath.Join(project, "broken.py"), "print((1,\n")
	writeFile(t, filepath.Join(project, "notes.txt"), "not source\n")
	return configPath, project
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_TrainQueryRankStats(t *testing.T) {
	configPath, project := setup(t)

	code, out, errOut := runCLI(t, "-config", configPath, "train", project)
	if code != exitOK {
		t.Fatalf("train exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "trained 2 files, 1 failed") || !strings.Contains(out, "FAILED "+filepath.Join(project, "broken.py")) {
		t.Fatalf("Unexpected train output %q", out)
	}

	code, out, errOut = runCLI(t, "-config", configPath, "query", "-code", "def add(a, b):\n    return a + b\n")
	if code != exitOK {
		t.Fatalf("query exited %d: %s", code, errOut)
	}
	inCorpus, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		t.Fatalf("Expected a score, got %q", out)
	}

	code, out, _ = runCLI(t, "-config", configPath, "query", "-code", "while not done: yield lambda *k: ~k\n")
	if code != exitOK {
		t.Fatalf("query exited %d", code)
	}
	outOfCorpus, _ := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if inCorpus >= outOfCorpus {
		t.Fatalf("Expected in-corpus score %f below out-of-corpus score %f", inCorpus, outOfCorpus)
	}

	code, out, errOut = runCLI(t, "-config", configPath, "rank", "-top", "2", filepath.Join(project, "loop.py"))
	if code != exitOK {
		t.Fatalf("rank exited %d: %s", code, errOut)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 3 || !strings.HasPrefix(lines[1], "1. window ") {
		t.Fatalf("Unexpected rank output %q", out)
	}

	code, out, errOut = runCLI(t, "-config", configPath, "stats")
	if code != exitOK {
		t.Fatalf("stats exited %d: %s", code, errOut)
	}
	var stats statsOutput
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("Failed to decode stats %q: %v", out, err)
	}
	if stats.Corpus.Backend != "local" || stats.Corpus.Model == nil || stats.Corpus.Model.Records != 2 {
		t.Fatalf("Unexpected corpus stats %+v", stats.Corpus)
	}
	if len(stats.Runs) != 2 || stats.Runs[0].Kind != "rank" || stats.Runs[1].Kind != "train" {
		t.Fatalf("Unexpected runs %+v", stats.Runs)
	}
}

func TestRun_TrainNothing(t *testing.T) {
	configPath, project := setup(t)

	code, out, _ := runCLI(t, "-config", configPath, "train", filepath.Join(project, "broken.py"))
	if code != exitError {
		t.Fatalf("Expected exit %d when nothing trains, got %d", exitError, code)
	}
	if !strings.Contains(out, "trained 0 files, 1 failed") {
		t.Fatalf("Unexpected train output %q", out)
	}
}

func TestRun_RankShortFile(t *testing.T) {
	configPath, project := setup(t)
	short := filepath.Join(project, "short.py")
	writeFile(t, short, "x\n")

	code, _, errOut := runCLI(t, "-config", configPath, "rank", "-window", "50", short)
	if code != exitError || !strings.Contains(errOut, "window size 50") {
		t.Fatalf("Expected a short-input failure, got %d: %s", code, errOut)
	}
}

func TestRun_Usage(t *testing.T) {
	configPath, project := setup(t)

	cases := map[string][]string{
		"no command":      {"-config", configPath},
		"unknown command": {"-config", configPath, "bogus"},
		"bad flag":        {"-config", configPath, "-nope", "stats"},
		"train no args":   {"-config", configPath, "train"},
		"query both":      {"-config", configPath, "query", "-code", "x", filepath.Join(project, "add.py")},
		"query neither":   {"-config", configPath, "query"},
		"rank no file":    {"-config", configPath, "rank"},
		"rank bad window": {"-config", configPath, "rank", "-window", "0", filepath.Join(project, "add.py")},
		"estimate":        {"-config", configPath, "estimate"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if code, _, _ := runCLI(t, args...); code != exitUsage {
				t.Fatalf("Expected exit %d, got %d", exitUsage, code)
			}
		})
	}
}

func TestRun_Estimate(t *testing.T) {
	configPath, _ := setup(t)
	corpusPath := filepath.Join(t.TempDir(), "corpus.txt")
	writeFile(t, corpusPath, "a b c <ENDMARKER>\n")

	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader("Q a b c <ENDMARKER>\nT a b d <ENDMARKER>\nX\n")
	code := run([]string{"-config", configPath, "estimate", corpusPath}, stdin, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("estimate exited %d: %s", code, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected three replies, got %q", stdout.String())
	}
	if _, err := strconv.ParseFloat(lines[0], 64); err != nil {
		t.Fatalf("Expected a score reply, got %q", lines[0])
	}
	if lines[1] != "OK" || !strings.HasPrefix(lines[2], "ERR ") {
		t.Fatalf("Unexpected replies %q", lines[1:])
	}
}

func TestRun_ProcessBackendRunsEstimate(t *testing.T) {
	_, project := setup(t)
	t.Setenv(runMainEnv, "1")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "process.yaml")
	writeFile(t, configPath, fmt.Sprintf(`app:
  log_level: error
corpus:
  read_path: %q
  estimator_binary: %q
  estimator_args: ["-config", %q, "estimate"]
model:
  order: 3
  window_size: 4
`, filepath.Join(dir, "corpus.txt"), os.Args[0], configPath))

	code, out, errOut := runCLI(t, "-config", configPath, "train", project)
	if code != exitOK {
		t.Fatalf("train exited %d: %s", code, errOut)
	}
	if !strings.Contains(out, "trained 2 files, 1 failed") {
		t.Fatalf("Unexpected train output %q", out)
	}

	code, out, errOut = runCLI(t, "-config", configPath, "query", "-code", "def add(a, b):\n    return a + b\n")
	if code != exitOK {
		t.Fatalf("query exited %d: %s", code, errOut)
	}
	inCorpus, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		t.Fatalf("Expected a score, got %q", out)
	}

	code, out, errOut = runCLI(t, "-config", configPath, "query", "-code", "while not done: yield lambda *k: ~k\n")
	if code != exitOK {
		t.Fatalf("query exited %d: %s", code, errOut)
	}
	outOfCorpus, _ := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if inCorpus >= outOfCorpus {
		t.Fatalf("Expected in-corpus score %f below out-of-corpus score %f", inCorpus, outOfCorpus)
	}

	code, out, _ = runCLI(t, "-config", configPath, "stats")
	if code != exitOK || !strings.Contains(out, `"backend": "process"`) {
		t.Fatalf("Expected the process backend, got %d: %s", code, out)
	}
}
