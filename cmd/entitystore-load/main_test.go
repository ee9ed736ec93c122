package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"entitystore/internal/config"
)

const fixture = `{
  "page": [
    {"id": 1, "title": "Home", "folder": {"id": 10, "name": "Root"}},
    {"id": 2, "title": "About", "folder": 10, "creator": {"id": "u1", "groups": [{"id": 7}]}},
    {"id": 3, "title": "Contact", "folder": 10}
  ],
  "message": [
    {"id": "m1", "sender": "u1"}
  ]
}`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		config.EnvFile, config.EnvMaxSyncBatch, config.EnvEvictionDelay,
		config.EnvWorkerConcurrency, config.EnvWorkerQueue, config.EnvLogLevel,
	} {
		t.Setenv(name, "")
	}
}

func TestCLILoadsFixture(t *testing.T) {
	clearEnv(t)
	path := writeFixture(t, fixture)
	for _, maxSync := range []string{"100", "1"} {
		var stdout, stderr bytes.Buffer
		code := cli([]string{"-fixture", path, "-watch", "page", "-log-level", "error", "-max-sync", maxSync}, &stdout, &stderr)
		if code != 0 {
			t.Fatalf("max-sync %s: exit %d: %s", maxSync, code, stderr.String())
		}
		out := stdout.String()
		for _, want := range []string{
			"page: 3\n",
			"folder: 1\n",
			"user: 1\n",
			"group: 1\n",
			"message: 1\n",
			"watched page:",
			"3 cached",
			"entitystore_denormalize_calls_total{type=page}",
		} {
			if !strings.Contains(out, want) {
				t.Fatalf("max-sync %s: output missing %q:\n%s", maxSync, want, out)
			}
		}
	}
}

func TestCLIErrors(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"missing fixture flag", nil, 2},
		{"bad flag", []string{"-nope"}, 2},
		{"unreadable fixture", []string{"-fixture", filepath.Join(t.TempDir(), "missing.json")}, 1},
		{"unknown type", []string{"-fixture", writeFixture(t, `{"widget": [{"id": 1}]}`)}, 1},
		{"raw without id", []string{"-fixture", writeFixture(t, `{"page": [{"title": "x"}]}`), "-log-level", "error"}, 1},
		{"bad log level", []string{"-fixture", writeFixture(t, `{}`), "-log-level", "loud"}, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := cli(c.args, &stdout, &stderr); code != c.code {
				t.Fatalf("exit %d, want %d (stderr: %s)", code, c.code, stderr.String())
			}
		})
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	clearEnv(t)
	orig, origArgs := exitFunc, os.Args
	defer func() { exitFunc, os.Args = orig, origArgs }()
	var got int
	exitFunc = func(code int) { got = code }
	os.Args = []string{"entitystore-load"}
	main()
	if got != 2 {
		t.Fatalf("exit code = %d, want 2", got)
	}
}
