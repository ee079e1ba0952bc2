package alignment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"slabrecon/internal/models"
	"slabrecon/pkg/nifti"
)

func ramp(w, h, d int) *models.Volume {
	v := models.NewVolume(w, h, d)
	for i := range v.Data {
		v.Data[i] = float64(i + 1)
	}
	return v
}

func TestNew(t *testing.T) {
	a, err := New(Options{})
	require.NoError(t, err)
	assert.IsType(t, &ResampleAligner{}, a)
	assert.NoError(t, Check(a))

	a, err = New(Options{Engine: EngineCommand, Command: "spm-coreg", OutputPrefix: "r"})
	require.NoError(t, err)
	assert.IsType(t, &CommandAligner{}, a)

	_, err = New(Options{Engine: EngineCommand})
	assert.Error(t, err)
	_, err = New(Options{Engine: "fsl"})
	assert.Error(t, err)
}

func TestResampleIdentity(t *testing.T) {
	in := ramp(3, 4, 2)
	in.Datatype = models.Int16

	out, err := (&ResampleAligner{}).Resample(models.NewVolume(3, 4, 2), in)
	require.NoError(t, err)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, models.Int16, out.Datatype)
}

func TestResampleOntoShiftedGrid(t *testing.T) {
	in := ramp(4, 1, 1)
	ref := models.NewVolume(4, 1, 1)
	ref.Affine[0][3] = 1 // reference voxel x sits on source voxel x+1

	out, err := (&ResampleAligner{}).Resample(ref, in)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 4, 0}, out.Data)
	assert.Equal(t, ref.Affine, out.Affine)
}

func TestResampleOntoCoarserGrid(t *testing.T) {
	in := ramp(2, 4, 1)
	in.Affine[1][1] = 0.5
	in.VoxelSize[1] = 0.5

	ref := models.NewVolume(2, 2, 1)
	out, err := (&ResampleAligner{}).Resample(ref, in)
	require.NoError(t, err)
	// reference row y samples source row 2y
	assert.Equal(t, []float64{1, 2, 5, 6}, out.Data)
}

func TestResampleWithTransform(t *testing.T) {
	in := ramp(3, 1, 1)
	shift := mat.NewDense(4, 4, []float64{
		1, 0, 0, -1,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	out, err := (&ResampleAligner{Transform: shift}).Resample(models.NewVolume(3, 1, 1), in)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, out.Data)
}

func TestResampleSingularSource(t *testing.T) {
	in := ramp(2, 2, 2)
	in.Affine[2][2] = 0
	_, err := (&ResampleAligner{}).Resample(models.NewVolume(2, 2, 2), in)
	assert.ErrorIs(t, err, ErrAlignmentFailure)
}

func writeVolume(t *testing.T, path string, v *models.Volume) {
	t.Helper()
	require.NoError(t, nifti.Save(path, v))
}

func TestResampleAlignerOverwritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "lr.nii")
	src := filepath.Join(dir, "s.nii")
	comp := filepath.Join(dir, "phantom.nii")

	writeVolume(t, ref, models.NewVolume(2, 2, 2))
	big := ramp(4, 4, 4)
	writeVolume(t, src, big)
	ones := models.NewVolume(4, 4, 4)
	for i := range ones.Data {
		ones.Data[i] = 1
	}
	writeVolume(t, comp, ones)

	require.NoError(t, (&ResampleAligner{}).Align(context.Background(), ref, src, comp))

	for _, p := range []string{src, comp} {
		v, err := nifti.Load(p)
		require.NoError(t, err)
		assert.Equal(t, [3]int{2, 2, 2}, v.Dims())
	}
}

func TestResampleAlignerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := (&ResampleAligner{}).Align(ctx, "a", "b", "c")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResampleAlignerMissingReference(t *testing.T) {
	dir := t.TempDir()
	err := (&ResampleAligner{}).Align(context.Background(),
		filepath.Join(dir, "missing.nii"), filepath.Join(dir, "s.nii"), filepath.Join(dir, "p.nii"))
	assert.ErrorIs(t, err, ErrAlignmentFailure)
}

// fakeTool writes a shell script that behaves like a coregistration tool: it
// leaves a prefixed copy of source and companion next to them.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available")
	}
	path := filepath.Join(t.TempDir(), "coreg.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestCommandAligner(t *testing.T) {
	tool := fakeTool(t, `set -e
for f in "$2" "$3"; do
  cp "$f" "$(dirname "$f")/r$(basename "$f")"
done
echo "marker" > "$(dirname "$2")/ran"`)

	dir := t.TempDir()
	scratch := t.TempDir()
	ref := filepath.Join(dir, "lr.nii")
	src := filepath.Join(dir, "s.nii")
	comp := filepath.Join(dir, "p.nii")
	writeVolume(t, ref, models.NewVolume(2, 2, 2))
	writeVolume(t, src, ramp(2, 2, 2))
	writeVolume(t, comp, ramp(2, 2, 2))

	a := &CommandAligner{Command: tool, ScratchDir: scratch}
	require.NoError(t, a.Available())
	require.NoError(t, a.Align(context.Background(), ref, src, comp))

	_, err := os.Stat(filepath.Join(scratch, "ran"))
	assert.NoError(t, err, "tool must run on the scratch copies")
	_, err = os.Stat(filepath.Join(scratch, "rs.nii"))
	assert.NoError(t, err)

	v, err := nifti.Load(src)
	require.NoError(t, err)
	assert.Equal(t, ramp(2, 2, 2).Data, v.Data)
}

func TestCommandAlignerExpandsArgs(t *testing.T) {
	tool := fakeTool(t, `set -e
[ "$1" = "-p" ] || exit 3
for f in "$4" "$5"; do
  cp "$f" "$(dirname "$f")/$2$(basename "$f")"
done`)

	dir := t.TempDir()
	ref := filepath.Join(dir, "lr.nii")
	src := filepath.Join(dir, "s.nii")
	comp := filepath.Join(dir, "p.nii")
	writeVolume(t, ref, models.NewVolume(2, 2, 2))
	writeVolume(t, src, ramp(2, 2, 2))
	writeVolume(t, comp, ramp(2, 2, 2))

	a := &CommandAligner{
		Command:      tool,
		Args:         []string{"-p", "{prefix}", "{reference}", "{source}", "{companion}"},
		OutputPrefix: "reg_",
		ScratchDir:   t.TempDir(),
	}
	require.NoError(t, a.Align(context.Background(), ref, src, comp))
}

func TestCommandAlignerFailure(t *testing.T) {
	tool := fakeTool(t, `echo "registration diverged" >&2; exit 1`)

	dir := t.TempDir()
	src := filepath.Join(dir, "s.nii")
	comp := filepath.Join(dir, "p.nii")
	writeVolume(t, src, ramp(2, 2, 2))
	writeVolume(t, comp, ramp(2, 2, 2))

	a := &CommandAligner{Command: tool, ScratchDir: t.TempDir()}
	err := a.Align(context.Background(), filepath.Join(dir, "lr.nii"), src, comp)
	require.ErrorIs(t, err, ErrAlignmentFailure)
	assert.Contains(t, err.Error(), "registration diverged")
}

func TestCommandAlignerMissingOutput(t *testing.T) {
	tool := fakeTool(t, `exit 0`)

	dir := t.TempDir()
	src := filepath.Join(dir, "s.nii")
	comp := filepath.Join(dir, "p.nii")
	writeVolume(t, src, ramp(2, 2, 2))
	writeVolume(t, comp, ramp(2, 2, 2))

	a := &CommandAligner{Command: tool, ScratchDir: t.TempDir()}
	err := a.Align(context.Background(), filepath.Join(dir, "lr.nii"), src, comp)
	assert.ErrorIs(t, err, ErrAlignmentFailure)
}

func TestCommandAlignerUnavailable(t *testing.T) {
	a := &CommandAligner{Command: "definitely-not-a-coregistration-tool"}
	assert.ErrorIs(t, a.Available(), ErrAlignmentFailure)
	assert.ErrorIs(t, Check(a), ErrAlignmentFailure)
}
