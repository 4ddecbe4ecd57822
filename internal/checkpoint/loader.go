package checkpoint

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/errors"
)

// Latest resolves the manifest in dir to the path of the newest bundle.
// Every failure is a *errors.CheckpointNotFoundError.
func Latest(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", &errors.CheckpointNotFoundError{Dir: dir, Reason: "directory does not exist"}
	}
	if !info.IsDir() {
		return "", &errors.CheckpointNotFoundError{Dir: dir, Reason: "not a directory"}
	}

	m, err := readManifest(dir)
	if stderrors.Is(err, fs.ErrNotExist) {
		return "", &errors.CheckpointNotFoundError{Dir: dir, Reason: "no " + ManifestName + " manifest"}
	}
	if err != nil {
		return "", &errors.CheckpointNotFoundError{Dir: dir, Reason: err.Error()}
	}

	path := resolve(dir, m.Latest)
	if _, err := os.Stat(path); err != nil {
		return "", &errors.CheckpointNotFoundError{Dir: dir, Reason: fmt.Sprintf("manifest names missing file %s", m.Latest)}
	}
	return path, nil
}

// Load reads the bundle at path.
func Load(path string) (*controller.Params, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return decodeBundle(data)
}

// Loader restores controllers from checkpoint directories.
type Loader struct {
	log *zap.Logger
}

// NewLoader returns a Loader that reports restores on log. A nil log is
// replaced by a no-op logger.
func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log.Named("checkpoint")}
}

// Restore loads the latest checkpoint in dir and builds an LSTM controller
// from it. The stored shape must match want exactly. A missing or unreadable
// checkpoint is a *errors.CheckpointNotFoundError; there is no fallback to
// untrained weights.
func (l *Loader) Restore(dir string, want controller.Shape) (*controller.LSTM, error) {
	path, err := Latest(dir)
	if err != nil {
		l.log.Error("checkpoint not found", zap.String("dir", dir), zap.Error(err))
		return nil, err
	}

	params, step, err := Load(path)
	if err != nil {
		l.log.Error("checkpoint unreadable", zap.String("path", path), zap.Error(err))
		return nil, &errors.CheckpointNotFoundError{Dir: dir, Reason: fmt.Sprintf("%s: %v", filepath.Base(path), err)}
	}
	if params.Shape != want {
		return nil, errors.Errorf("checkpoint %s has shape %+v, settings require %+v", path, params.Shape, want).
			WithComponent("checkpoint").
			WithOperation("restore")
	}

	cell, err := controller.NewLSTM(params)
	if err != nil {
		return nil, errors.Wrap(err, "build controller").WithComponent("checkpoint").WithOperation("restore")
	}
	l.log.Info("restored checkpoint",
		zap.String("path", path),
		zap.Int("step", step),
		zap.Int("hidden", want.Hidden),
		zap.Int("layers", want.Layers),
	)
	return cell, nil
}
