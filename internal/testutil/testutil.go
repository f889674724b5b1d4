package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// SampleProjectJSON is a two-node, one-edge project used across packages.
const SampleProjectJSON = `{
  "schemaVersion": "1.0.0",
  "mediaColorSpace": "Rec.709",
  "projectFps": 30,
  "projectResolution": {"width": 1920, "height": 1080},
  "nodes": [
    {
      "id": "n1",
      "type": "MediaInput",
      "params": {"path": "Assets/input.mp4"},
      "inputs": {},
      "outputs": ["video"],
      "cachePolicy": "auto",
      "position": {"x": 0, "y": 0}
    },
    {
      "id": "n2",
      "type": "ExposureAdjust",
      "params": {"exposure": 0.5},
      "inputs": {"video": "n1:video"},
      "outputs": ["video"],
      "cachePolicy": "auto",
      "position": {"x": 300, "y": 0}
    }
  ],
  "edges": [
    {"from": "n1:video", "to": "n2:video"}
  ],
  "assets": [
    {
      "id": "asset-1",
      "path": "Assets/input.mp4",
      "hash": "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
      "proxyPath": "Proxies/asset-1/input_proxy.mp4",
      "colorSpace": "Rec.709",
      "bitDepth": 10
    }
  ],
  "metadata": {
    "previewProxy": {"enabled": true, "scale": 0.5}
  }
}
`

func RepoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("unable to locate testutil source file")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("create parent directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteSampleProject writes SampleProjectJSON under dir and returns its path.
func WriteSampleProject(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sample.nveproj")
	WriteFile(t, path, []byte(SampleProjectJSON))
	return path
}

func MustReadFile(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path) // #nosec G304 -- test helper for controlled paths.
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return content
}

// MustDecodeJSON decodes raw into a generic map.
func MustDecodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode json: %v\n%s", err, string(raw))
	}
	return decoded
}

func FormatJSON(raw []byte) string {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	encoded, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return string(raw)
	}
	return fmt.Sprintf("%s\n", string(encoded))
}
