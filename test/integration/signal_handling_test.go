//go:build integration

// Package integration runs the built discord-gate binary as a process.
//
// Run with: go test -v ./test/integration/... -tags=integration
package integration

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestServerGracefulShutdown(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "discord-gate-test")

	buildCmd := exec.Command("go", "build", "-o", binary, ".")
	buildCmd.Dir = "../../"
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build server: %v\n%s", err, out)
	}

	t.Run("SIGTERM handling", func(t *testing.T) {
		testSignalHandling(t, binary, syscall.SIGTERM)
	})

	t.Run("SIGINT handling", func(t *testing.T) {
		testSignalHandling(t, binary, syscall.SIGINT)
	})
}

func testSignalHandling(t *testing.T, binary string, signal syscall.Signal) {
	port := freePort(t)

	cmd := exec.Command(binary, "serve", "--env-file", "", "--metrics-addr", "")
	cmd.Env = append(os.Environ(),
		"CLIENT_ID=1042",
		"CLIENT_SECRET=integration-secret",
		"CLIENT_REDIRECT_URI=http://127.0.0.1/_oauth2/callback",
		"JWT_SECRET=0123456789abcdef0123456789abcdef",
		"GUILD_ID=613425648685547541",
		"ROLE_ID=613425648685547549",
		"HOST=127.0.0.1",
		fmt.Sprintf("PORT=%d", port),
	)

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	waitReady(t, fmt.Sprintf("http://127.0.0.1:%d/readyz", port))

	if err := cmd.Process.Signal(signal); err != nil {
		t.Fatalf("Failed to send %s signal: %v", signal, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			t.Fatalf("Server exited with %v after %s, want a clean exit", exitError, signal)
		} else if err != nil {
			t.Fatalf("Process exited with unexpected error: %v", err)
		}
		t.Logf("Server gracefully handled %s signal", signal)
	case <-time.After(10 * time.Second):
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("Failed to force kill process: %v", err)
		}
		t.Fatalf("Server did not exit within 10 seconds after %s signal", signal)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve a port: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func waitReady(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Server at %s did not become ready", url)
}
