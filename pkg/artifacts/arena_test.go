package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slabrecon/internal/models"
	"slabrecon/pkg/nifti"
)

var slab1b = models.SlabID{Repetition: 1, Block: models.BlockB}

func TestKeyNames(t *testing.T) {
	slab2a := models.SlabID{Repetition: 2, Block: models.BlockA}
	cases := map[Key]string{
		SlabKey(slab1b, StageInput):                  "s1b",
		SlabKey(slab2a, StageReference):              "lr_2a",
		SlabKey(slab2a, StageDuplicated):             "s2a_duplicated",
		SlabKey(slab1b, StageWithGap):                "s1b_with_gap",
		SlabKey(slab1b, StagePhantom):                "phantom_one_s1b",
		SlabKey(slab2a, StagePhantomGap):             "phantom_one_gap_s2a",
		SlabKey(slab2a, StageFloat):                  "s2a_float",
		RepetitionKey(2, StageRepetitionPhantom):     "phantom_one_gap_s2",
		RepetitionKey(1, StageRepetitionSum):         "rs1_float",
		RepetitionKey(2, StageRepetitionPonderated):  "rs2_float_ponderated",
		WholeKey(StageWholePhantom):                  "phantom_one_gap_s",
		WholeKey(StageWholeSum):                      "rs_float",
		WholeKey(StageWholePonderated):               "rs_float_ponderated",
		WholeKey(StageSumOfPonderated):               "rs_1_2_float_ponderated",
	}
	for key, want := range cases {
		assert.Equal(t, want, key.BaseName())
	}
}

func TestPrepareRejectsNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("x"), 0644))

	_, err := Prepare(dir, nil)
	assert.ErrorIs(t, err, ErrNonEmptyOutputDir)
}

func TestPrepareCreatesFolders(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	a, err := Prepare(dir, nil)
	require.NoError(t, err)

	for _, d := range []string{a.OutputDir, a.DebugDir, a.TempDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// an existing empty directory is accepted too
	empty := t.TempDir()
	_, err = Prepare(empty, nil)
	assert.NoError(t, err)
}

func TestPutGetAndPaths(t *testing.T) {
	a, err := Prepare(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)

	v := models.NewVolume(2, 2, 2)
	v.Data[3] = 4

	floatKey := SlabKey(slab1b, StageFloat)
	path, err := a.Put(floatKey, v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.DebugDir, "s1b_float.nii"), path)

	got, err := a.Get(floatKey)
	require.NoError(t, err)
	assert.Equal(t, v.Data, got.Data)

	outKey := WholeKey(StageWholePonderated)
	path, err = a.Put(outKey, v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.OutputDir, "rs_float_ponderated.nii.gz"), path)
	assert.Equal(t, []string{path}, a.Outputs())

	_, err = a.Get(SlabKey(slab1b, StageDuplicated))
	assert.ErrorIs(t, err, ErrUnknownArtifact)
}

func TestImportDecompresses(t *testing.T) {
	src := filepath.Join(t.TempDir(), "input.nii.gz")
	v := models.NewVolume(3, 1, 1)
	v.Data = []float64{1, 2, 3}
	require.NoError(t, nifti.Save(src, v))

	a, err := Prepare(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)

	got, path, err := a.Import(SlabKey(slab1b, StageInput), src)
	require.NoError(t, err)
	assert.Equal(t, v.Data, got.Data)
	assert.Equal(t, ".nii", filepath.Ext(path))
}

func TestImportReorientsToRAS(t *testing.T) {
	src := filepath.Join(t.TempDir(), "sagittal.nii")
	v := models.NewVolume(1, 2, 3)
	v.Data = []float64{1, 2, 3, 4, 5, 6}
	// voxel y runs along world z, voxel z along world -y
	v.Affine = [4][4]float64{
		{1, 0, 0, 0},
		{0, 0, -1, 0},
		{0, 1, 0, 0},
		{0, 0, 0, 1},
	}
	require.NoError(t, nifti.Save(src, v))

	a, err := Prepare(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)

	got, path, err := a.Import(SlabKey(slab1b, StageInput), src)
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 3, 2}, got.Dims())
	assert.Equal(t, [4]float64{0, 1, 0, -2}, got.Affine[1])
	assert.Equal(t, [4]float64{0, 0, 1, 0}, got.Affine[2])
	assert.Equal(t, []float64{5, 3, 1, 6, 4, 2}, got.Data)

	stored, err := nifti.Load(path)
	require.NoError(t, err)
	assert.Equal(t, got.Dims(), stored.Dims())
	assert.Equal(t, got.Data, stored.Data)
}

func TestCompact(t *testing.T) {
	a, err := Prepare(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)

	key := SlabKey(slab1b, StageInput)
	v := models.NewVolume(2, 2, 1)
	v.Data = []float64{1, 2, 3, 4}
	path, err := a.Put(key, v)
	require.NoError(t, err)

	require.NoError(t, a.Compact(key))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	gz, ok := a.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, path+".gz", gz)

	got, err := a.Get(key)
	require.NoError(t, err)
	assert.Equal(t, v.Data, got.Data)

	// compacting twice is a no-op
	require.NoError(t, a.Compact(key))
}

func TestSafeRemove(t *testing.T) {
	root := t.TempDir()
	scratch := filepath.Join(root, "temp")
	require.NoError(t, os.MkdirAll(scratch, 0755))

	inside := filepath.Join(scratch, "a.nii")
	outside := filepath.Join(root, "b.nii")
	require.NoError(t, os.WriteFile(inside, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(outside, []byte("b"), 0644))

	require.NoError(t, SafeRemove(inside, scratch))
	_, err := os.Stat(inside)
	assert.True(t, os.IsNotExist(err))

	err = SafeRemove(outside, scratch)
	assert.ErrorIs(t, err, ErrUnsafeDeletion)
	_, err = os.Stat(outside)
	assert.NoError(t, err, "file outside the scratch dir must survive")

	// a sibling directory sharing the prefix is still outside
	sibling := filepath.Join(root, "temp2")
	require.NoError(t, os.MkdirAll(sibling, 0755))
	trap := filepath.Join(sibling, "c.nii")
	require.NoError(t, os.WriteFile(trap, []byte("c"), 0644))
	assert.ErrorIs(t, SafeRemove(trap, scratch), ErrUnsafeDeletion)

	// symlinks are resolved before the check
	link := filepath.Join(scratch, "link.nii")
	require.NoError(t, os.Symlink(outside, link))
	assert.ErrorIs(t, SafeRemove(link, scratch), ErrUnsafeDeletion)
}

func TestRemoveTemp(t *testing.T) {
	a, err := Prepare(filepath.Join(t.TempDir(), "out"), nil)
	require.NoError(t, err)
	require.NoError(t, a.RemoveTemp())
	assert.Error(t, a.RemoveTemp())
}
