// Package artifacts manages the files produced by a recombination run: folder
// bootstrap, typed artifact handles, safe deletion and gzip compaction.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"slabrecon/internal/models"
	"slabrecon/pkg/nifti"
	"slabrecon/pkg/volumeops"
)

var (
	// ErrNonEmptyOutputDir is returned when the output directory already has contents
	ErrNonEmptyOutputDir = errors.New("please provide an empty output dir")

	// ErrUnsafeDeletion is returned when a file outside its designated directory
	// is about to be deleted
	ErrUnsafeDeletion = errors.New("cannot safely remove")

	// ErrUnknownArtifact is returned when an artifact was never written
	ErrUnknownArtifact = errors.New("unknown artifact")
)

// Arena owns the output, debug and temp directories of a run and tracks where
// every artifact lives. It is safe for concurrent use.
type Arena struct {
	// OutputDir receives the recombined results
	OutputDir string

	// DebugDir receives every intermediate volume
	DebugDir string

	// TempDir is the scratch area handed to the aligner
	TempDir string

	logger *zap.Logger

	mu    sync.Mutex
	paths map[Key]string
}

// Prepare creates the output directory (which must be missing or empty) with
// its debug and temp subfolders.
func Prepare(outputDir string, logger *zap.Logger) (*Arena, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := os.ReadDir(outputDir)
	switch {
	case err == nil && len(entries) > 0:
		return nil, fmt.Errorf("%w: %s", ErrNonEmptyOutputDir, outputDir)
	case err != nil && !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to inspect output directory: %w", err)
	}

	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, err
	}

	a := &Arena{
		OutputDir: abs,
		DebugDir:  filepath.Join(abs, "debug"),
		TempDir:   filepath.Join(abs, "temp"),
		logger:    logger,
		paths:     make(map[Key]string),
	}
	for _, dir := range []string{a.OutputDir, a.DebugDir, a.TempDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return a, nil
}

// Path returns the location of the artifact: where it was last stored, or where
// it would be written next.
func (a *Arena) Path(key Key) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.paths[key]; ok {
		return p
	}
	return a.defaultPath(key)
}

func (a *Arena) defaultPath(key Key) string {
	dir := a.DebugDir
	if key.InOutputDir() {
		dir = a.OutputDir
	}
	ext := ".nii.gz"
	if key.Uncompressed() {
		ext = ".nii"
	}
	return filepath.Join(dir, key.BaseName()+ext)
}

// Put writes v as the artifact key and records its location
func (a *Arena) Put(key Key, v *models.Volume) (string, error) {
	path := a.Path(key)
	if err := nifti.Save(path, v); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}
	a.mu.Lock()
	a.paths[key] = path
	a.mu.Unlock()
	a.logger.Debug("artifact written", zap.Stringer("artifact", key), zap.String("path", path))
	return path, nil
}

// Get loads the artifact key from disk
func (a *Arena) Get(key Key) (*models.Volume, error) {
	path, ok := a.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArtifact, key)
	}
	return nifti.Load(path)
}

// Lookup returns the recorded location of an artifact
func (a *Arena) Lookup(key Key) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.paths[key]
	return p, ok
}

// Import copies an external volume (.nii or .nii.gz) into the arena as key,
// decoding it so that the stored copy follows the key's compression. Volumes
// not in RAS voxel order are reoriented first, so every axis-indexed stage
// works on physical axes.
func (a *Arena) Import(key Key, src string) (*models.Volume, string, error) {
	v, err := nifti.Load(src)
	if err != nil {
		return nil, "", err
	}
	if err := v.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid volume %s: %w", src, err)
	}
	orient, err := volumeops.Orientation(v)
	if err != nil {
		return nil, "", fmt.Errorf("invalid orientation in %s: %w", src, err)
	}
	if orient != "RAS" {
		if v, err = volumeops.Canonicalize(v); err != nil {
			return nil, "", err
		}
		a.logger.Debug("input reoriented to RAS",
			zap.String("path", src),
			zap.String("orientation", orient))
	}
	path, err := a.Put(key, v)
	if err != nil {
		return nil, "", err
	}
	return v, path, nil
}

// Compact gzips every listed artifact still stored as plain .nii and safely
// removes the uncompressed original.
func (a *Arena) Compact(keys ...Key) error {
	for _, key := range keys {
		path, ok := a.Lookup(key)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownArtifact, key)
		}
		if nifti.IsCompressed(path) {
			continue
		}
		if filepath.Ext(path) != ".nii" {
			return fmt.Errorf("image extension should be .nii: %s", path)
		}

		gzPath := path + ".gz"
		if err := CompressFile(path, gzPath); err != nil {
			return err
		}
		if err := SafeRemove(path, a.DebugDir); err != nil {
			return err
		}

		a.mu.Lock()
		a.paths[key] = gzPath
		a.mu.Unlock()

		if info, err := os.Stat(gzPath); err == nil {
			a.logger.Debug("artifact compacted",
				zap.Stringer("artifact", key),
				zap.String("size", humanize.Bytes(uint64(info.Size()))))
		}
	}
	return nil
}

// Outputs lists the artifacts stored in the output directory, sorted by path
func (a *Arena) Outputs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for key, p := range a.paths {
		if key.InOutputDir() {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveTemp deletes the scratch directory
func (a *Arena) RemoveTemp() error {
	info, err := os.Stat(a.TempDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("folder %s does not exist", a.TempDir)
	}
	return os.RemoveAll(a.TempDir)
}

// SafeRemove deletes path only if it resolves to a regular file somewhere below dir
func SafeRemove(path, dir string) error {
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fmt.Errorf("file %s does not exist: %w", path, err)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("%w: directory %s: %v", ErrUnsafeDeletion, dir, err)
	}
	realPath, _ = filepath.Abs(realPath)
	realDir, _ = filepath.Abs(realDir)

	if !strings.HasPrefix(realPath, realDir+string(os.PathSeparator)) {
		return fmt.Errorf("%w: %s does not belong to %s", ErrUnsafeDeletion, path, dir)
	}

	info, err := os.Stat(realPath)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("file %s does not exist", path)
	}
	return os.Remove(realPath)
}

// CompressFile writes a gzip copy of src to dst
func CompressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	zw := gzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	return zw.Close()
}

// CopyFile copies src to dst byte for byte
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
