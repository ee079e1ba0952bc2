package artifacts

import (
	"fmt"

	"slabrecon/internal/models"
)

// Stage identifies what an artifact holds within the pipeline
type Stage int

const (
	// Per-slab artifacts, stored in the debug directory
	StageInput Stage = iota
	StageReference
	StageDuplicated
	StageWithGap
	StagePhantom
	StagePhantomGap
	StageFloat

	// Per-repetition artifacts; only Slab.Repetition is significant
	StageRepetitionPhantom
	StageRepetitionSum
	StageRepetitionPonderated

	// Whole-run artifacts; Slab is ignored
	StageWholePhantom
	StageWholeSum
	StageWholePonderated
	StageSumOfPonderated
)

// Key is a typed handle to one artifact of a run
type Key struct {
	Slab  models.SlabID
	Stage Stage
}

// SlabKey builds the key of a per-slab artifact
func SlabKey(id models.SlabID, stage Stage) Key {
	return Key{Slab: id, Stage: stage}
}

// RepetitionKey builds the key of a per-repetition artifact
func RepetitionKey(repetition int, stage Stage) Key {
	return Key{Slab: models.SlabID{Repetition: repetition}, Stage: stage}
}

// WholeKey builds the key of a whole-run artifact
func WholeKey(stage Stage) Key {
	return Key{Stage: stage}
}

// BaseName returns the file name of the artifact without extension
func (k Key) BaseName() string {
	rep, blk := k.Slab.Repetition, k.Slab.Block
	switch k.Stage {
	case StageInput:
		return fmt.Sprintf("s%d%s", rep, blk)
	case StageReference:
		return fmt.Sprintf("lr_%d%s", rep, blk)
	case StageDuplicated:
		return fmt.Sprintf("s%d%s_duplicated", rep, blk)
	case StageWithGap:
		return fmt.Sprintf("s%d%s_with_gap", rep, blk)
	case StagePhantom:
		return fmt.Sprintf("phantom_one_s%d%s", rep, blk)
	case StagePhantomGap:
		return fmt.Sprintf("phantom_one_gap_s%d%s", rep, blk)
	case StageFloat:
		return fmt.Sprintf("s%d%s_float", rep, blk)
	case StageRepetitionPhantom:
		return fmt.Sprintf("phantom_one_gap_s%d", rep)
	case StageRepetitionSum:
		return fmt.Sprintf("rs%d_float", rep)
	case StageRepetitionPonderated:
		return fmt.Sprintf("rs%d_float_ponderated", rep)
	case StageWholePhantom:
		return "phantom_one_gap_s"
	case StageWholeSum:
		return "rs_float"
	case StageWholePonderated:
		return "rs_float_ponderated"
	case StageSumOfPonderated:
		return "rs_1_2_float_ponderated"
	}
	return fmt.Sprintf("stage%d_s%d%s", int(k.Stage), rep, blk)
}

// InOutputDir reports whether the artifact is a result rather than an intermediate
func (k Key) InOutputDir() bool {
	switch k.Stage {
	case StageRepetitionSum, StageRepetitionPonderated,
		StageWholeSum, StageWholePonderated, StageSumOfPonderated:
		return true
	}
	return false
}

// Uncompressed reports whether the artifact is first written as plain .nii.
// Those are the files handed to the aligner, which cannot read gzip; they are
// compacted once no longer needed.
func (k Key) Uncompressed() bool {
	switch k.Stage {
	case StageInput, StageReference, StagePhantomGap, StageFloat:
		return true
	}
	return false
}

func (k Key) String() string {
	return k.BaseName()
}
