package checkpoint

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/copyleftdev/dro/internal/controller"
)

// BundleName is the file name used for the bundle saved at step.
func BundleName(step int) string {
	return fmt.Sprintf("model.ckpt-%d.json", step)
}

// Save writes params as the checkpoint for step and makes it the latest in
// the manifest. Both files are replaced atomically.
func Save(dir string, step int, params *controller.Params) (string, error) {
	if step < 0 {
		return "", fmt.Errorf("checkpoint step must be non-negative, got %d", step)
	}
	data, err := encodeBundle(step, params)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	name := BundleName(step)
	path := filepath.Join(dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}

	m, err := readManifest(dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		m = &Manifest{}
	} else if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	m.Latest = name
	if !slices.Contains(m.All, name) {
		m.All = append(m.All, name)
	}
	if err := writeAtomic(filepath.Join(dir, ManifestName), m.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

// List returns every bundle path recorded in the manifest of dir, oldest
// first. A directory without a manifest has no checkpoints.
func List(dir string) ([]string, error) {
	m, err := readManifest(dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := m.All
	if !slices.Contains(names, m.Latest) {
		names = append(names, m.Latest)
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = resolve(dir, n)
	}
	return paths, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
