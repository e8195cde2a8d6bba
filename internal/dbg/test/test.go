// Package test builds the fixture programs debugged by integration tests.
package test

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

var tmpDir string

// Build compiles fixtures/<name>.go without optimisations and returns the
// path of the binary. The test is skipped without a go toolchain.
func Build(t testing.TB, name string) string {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not found")
	}
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot find source file")

	fixt := filepath.Join(filepath.Dir(filename), "fixtures", name+".go")
	binary := filepath.Join(tmpDir, name)
	if _, err := os.Stat(binary); err == nil {
		return binary
	}

	cmd := exec.Command("go", "build", "-gcflags=all=-N -l", "-o", binary, fixt)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build %s: %s", name, out)
	return binary
}

// Run runs the tests of m with a scratch directory for the fixtures.
func Run(m *testing.M) int {
	var err error
	tmpDir, err = os.MkdirTemp("", "caesar-")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer os.RemoveAll(tmpDir)
	return m.Run()
}
