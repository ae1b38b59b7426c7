package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/manager"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

func portFilePath() string {
	return filepath.Join(config.BaseDir(), "port")
}

// writeActivePort records the control API port for client subcommands
// to discover.
func writeActivePort(port int) {
	_ = ensureDir(config.BaseDir())
	_ = os.WriteFile(portFilePath(), []byte(fmt.Sprintf("%d", port)), 0o644)
}

func removeActivePort() {
	os.Remove(portFilePath())
}

// readActivePort returns 0 if no instance is running.
func readActivePort() int {
	data, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(string(data), "%d", &port)
	return port
}

func requireRunningInstance() int {
	port := readActivePort()
	if port == 0 {
		fmt.Fprintln(os.Stderr, "Error: fetchd is not running. Start it with 'fetchd run'.")
		os.Exit(1)
	}
	return port
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func fetchSnapshot(port int) (manager.Snapshot, error) {
	resp, err := httpClient.Get(fmt.Sprintf("http://127.0.0.1:%d/snapshot", port))
	if err != nil {
		return manager.Snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return manager.Snapshot{}, fmt.Errorf("server returned %s: %s", resp.Status, body)
	}
	var snap manager.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return manager.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

func postTaskAction(port int, id, action string) error {
	return postEmpty(fmt.Sprintf("http://127.0.0.1:%d/tasks/%s/%s", port, id, action))
}

func postControlAction(port int, action string) error {
	return postEmpty(fmt.Sprintf("http://127.0.0.1:%d/control/%s", port, action))
}

func postEmpty(url string) error {
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("connecting to fetchd: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, body)
	}
	return nil
}

func postManifest(port int, path string) error {
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(fmt.Sprintf("http://127.0.0.1:%d/manifest", port), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to fetchd: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, respBody)
	}
	return nil
}
