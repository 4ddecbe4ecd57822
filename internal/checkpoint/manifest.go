// Package checkpoint persists and restores trained controller parameters.
//
// A checkpoint directory holds any number of parameter bundles plus a
// manifest file named "checkpoint" that records which bundle is the latest:
//
//	model_checkpoint_path: "model.ckpt-2000.json"
//	all_model_checkpoint_paths: "model.ckpt-1000.json"
//	all_model_checkpoint_paths: "model.ckpt-2000.json"
//
// Paths in the manifest are relative to the directory unless absolute.
package checkpoint

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ManifestName is the file that names the latest checkpoint.
const ManifestName = "checkpoint"

const (
	latestKey = "model_checkpoint_path"
	allKey    = "all_model_checkpoint_paths"
)

// Manifest is the parsed content of a checkpoint manifest.
type Manifest struct {
	Latest string
	All    []string
}

// ParseManifest reads manifest lines of the form `key: "value"`. Unknown
// keys are ignored.
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("manifest line %d: missing ':'", n)
		}
		value, err := strconv.Unquote(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", n, err)
		}
		switch strings.TrimSpace(key) {
		case latestKey:
			m.Latest = value
		case allKey:
			m.All = append(m.All, value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if m.Latest == "" {
		return nil, fmt.Errorf("manifest has no %s entry", latestKey)
	}
	return m, nil
}

// Bytes renders the manifest.
func (m *Manifest) Bytes() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", latestKey, strconv.Quote(m.Latest))
	for _, p := range m.All {
		fmt.Fprintf(&b, "%s: %s\n", allKey, strconv.Quote(p))
	}
	return []byte(b.String())
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
