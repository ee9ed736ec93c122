package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingT struct {
	testing.TB
	failed string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, args ...any) {
	r.failed = fmt.Sprintf(format, args...)
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestInternalPackage(t *testing.T) {
	forbidden := InternalPackage("entitymanager", "worker")
	cases := []struct {
		in   string
		want bool
	}{
		{"entitystore/internal/entitymanager", true},
		{"entitystore/internal/worker/sub", true},
		{"entitystore/internal/workers", false},
		{"entitystore/internal/reactive", false},
		{"other/internal/worker", false},
	}
	for _, c := range cases {
		if got := forbidden(c.in); got != c.want {
			t.Fatalf("InternalPackage(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestThirdParty(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"fmt", false},
		{"encoding/json", false},
		{"entitystore/pkg/domain", false},
		{"go.uber.org/zap", true},
		{"github.com/google/go-cmp/cmp", true},
		{"", false},
	}
	for _, c := range cases {
		if got := ThirdParty(c.in); got != c.want {
			t.Fatalf("ThirdParty(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if !AnyInternal("entitystore/internal/config") || AnyInternal("entitystore/pkg/domain") {
		t.Fatalf("AnyInternal predicate mismatch")
	}
}

func TestAssertNoDirectImportsSkipsTestsAndDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "main_test.go", "package tmp\nimport \"go.uber.org/zap\"\nvar _ = zap.L\n")
	writeFile(t, dir, "notes.txt", "import \"go.uber.org/zap\"")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, filepath.Join(dir, "sub"), "sub.go", "package sub\nimport \"go.uber.org/zap\"\nvar _ = zap.L\n")

	AssertNoDirectImports(t, dir, ThirdParty, "only the package itself is scanned")
}

func TestAssertNoDirectImportsReportsViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package tmp\nimport (\n\t\"fmt\"\n\tz \"go.uber.org/zap\"\n)\nvar _ = fmt.Sprint\nvar _ = z.L\n")

	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, dir, ThirdParty, "no third party")
	if !strings.Contains(rec.failed, "go.uber.org/zap (in a.go)") {
		t.Fatalf("violation not reported: %q", rec.failed)
	}
}

func TestAssertNoTransitiveDependency(t *testing.T) {
	orig := goListDeps
	defer func() { goListDeps = orig }()
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nentitystore/pkg/domain\nentitystore/internal/worker\n"), nil
	}

	AssertNoTransitiveDependency(t, ".", InternalPackage("entitymanager"), "clean")

	rec := &recordingT{TB: t}
	AssertNoTransitiveDependency(rec, ".", InternalPackage("worker"), "store must not pull the worker")
	if !strings.Contains(rec.failed, "entitystore/internal/worker") {
		t.Fatalf("violation not reported: %q", rec.failed)
	}
}
