package container

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/execabs"
)

// EnsureImage makes sure the SIF image the batch script executes with exists
// at sifPath, building it from the registry reference when absent. Builds go
// to a temporary file in the same directory followed by a rename, so a
// concurrent run never observes a partially written image.
func EnsureImage(ctx context.Context, logger *slog.Logger, source, sifPath string) error {
	if sifPath == "" {
		return errors.New("no image path configured")
	}
	if _, err := os.Stat(sifPath); err == nil {
		logger.Debug("Container image already present", "path", sifPath)
		return nil
	}
	if source == "" {
		return errors.Errorf("image %s is missing and no source is configured", sifPath)
	}

	apptainer, err := execabs.LookPath("apptainer")
	if err != nil {
		if apptainer, err = execabs.LookPath("singularity"); err != nil {
			return errors.New("neither apptainer nor singularity found in PATH")
		}
	}

	dir := filepath.Dir(sifPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating image directory")
	}
	tmp, err := os.CreateTemp(dir, ".build-*.sif")
	if err != nil {
		return errors.Wrap(err, "creating temporary image file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	logger.Info("Building container image", "source", source, "path", sifPath)
	cmd := execabs.CommandContext(ctx, apptainer, "build", "--force", tmpPath, source)
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "apptainer build failed: %s", string(output))
	}
	if err := os.Rename(tmpPath, sifPath); err != nil {
		return errors.Wrap(err, "installing built image")
	}
	return nil
}
