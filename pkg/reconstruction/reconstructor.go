// Package reconstruction recombines four interleaved, gap-sampled slabs into one
// high-resolution volume.
//
// The pipeline has three stages:
//  1. Each slab is duplicated along the interleaving axis, its gap rows are
//     zeroed and a phantom marking the real samples is built.
//  2. Each slab and its phantom are aligned onto the low-resolution reference.
//  3. The aligned slabs are summed and normalized by the summed phantoms, per
//     repetition and over the whole acquisition.
//
// Stages 1 and 2 run concurrently per slab; stage 3 starts only once all four
// slabs are aligned.
package reconstruction

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slabrecon/internal/models"
	"slabrecon/pkg/alignment"
	"slabrecon/pkg/artifacts"
	"slabrecon/pkg/nifti"
	"slabrecon/pkg/visualization"
	"slabrecon/pkg/volumeops"
)

// Params holds the recombination parameters
type Params struct {
	// Slabs are the input paths in acquisition order: rep1 a, rep1 b, rep2 a, rep2 b
	Slabs [4]string

	// Reference is the low-resolution volume every slab is aligned to
	Reference string

	// OutputDir must be missing or empty
	OutputDir string

	// Workers bounds how many slabs are prepared and aligned at once.
	// Zero means one per CPU.
	Workers int

	// Factor is the duplication factor and gap period, 2 by default
	Factor int

	// Axis is the interleaving axis
	Axis models.Axis

	// Alignment selects the aligner when Aligner is nil. Its scratch
	// directory defaults to the run's temp folder.
	Alignment alignment.Options

	// Aligner overrides Alignment
	Aligner alignment.Aligner

	// Compress gzips intermediates once the aligner is done with them
	Compress bool

	// KeepTemp keeps the scratch folder at the end of the run
	KeepTemp bool

	// Previews writes mid-slice JPEGs of the normalized output
	Previews bool

	// RunID tags every log line of the run; generated when empty
	RunID string

	Logger *zap.Logger
}

// Result describes a finished run
type Result struct {
	RunID string

	// Outputs are the recombined volumes, sorted by path
	Outputs []string

	// DebugDir holds the intermediates and can be removed
	DebugDir string

	// Previews lists the written JPEG files
	Previews []string

	Metrics  AgreementMetrics
	Duration time.Duration
}

// Reconstructor sequences the stages of a recombination run
type Reconstructor struct {
	params  *Params
	logger  *zap.Logger
	arena   *artifacts.Arena
	aligner alignment.Aligner
}

// NewReconstructor creates a reconstructor for params
func NewReconstructor(params *Params) *Reconstructor {
	if params.RunID == "" {
		params.RunID = uuid.NewString()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{
		params: params,
		logger: logger.With(zap.String("run", params.RunID)),
	}
}

func (r *Reconstructor) workers() int {
	if r.params.Workers > 0 {
		return r.params.Workers
	}
	return runtime.NumCPU()
}

// Process runs the complete recombination pipeline
func (r *Reconstructor) Process(ctx context.Context) (*Result, error) {
	start := time.Now()
	if !r.params.Axis.Valid() {
		return nil, fmt.Errorf("invalid interleaving axis %s", r.params.Axis)
	}

	arena, err := artifacts.Prepare(r.params.OutputDir, r.logger)
	if err != nil {
		return nil, err
	}
	r.arena = arena

	r.aligner = r.params.Aligner
	if r.aligner == nil {
		opts := r.params.Alignment
		if opts.ScratchDir == "" {
			opts.ScratchDir = arena.TempDir
		}
		if r.aligner, err = alignment.New(opts); err != nil {
			return nil, err
		}
	}
	if err := alignment.Check(r.aligner); err != nil {
		return nil, err
	}

	reference, err := nifti.Load(r.params.Reference)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference: %w", err)
	}
	if err := reference.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reference %s: %w", r.params.Reference, err)
	}
	orient, err := volumeops.Orientation(reference)
	if err != nil {
		return nil, fmt.Errorf("invalid reference %s: %w", r.params.Reference, err)
	}
	if orient != "RAS" {
		if reference, err = volumeops.Canonicalize(reference); err != nil {
			return nil, err
		}
		r.logger.Info("reference reoriented to RAS", zap.String("orientation", orient))
	}

	// Step 1 and 2: prepare and align every slab
	r.logger.Info("Step 1: preparing and aligning slabs",
		zap.Int("workers", r.workers()),
		zap.Stringer("axis", r.params.Axis))
	if err := r.prepareAndAlign(ctx, reference); err != nil {
		return nil, err
	}

	var inputs, references []artifacts.Key
	for _, id := range models.AllSlabs() {
		inputs = append(inputs, artifacts.SlabKey(id, artifacts.StageInput))
		references = append(references, artifacts.SlabKey(id, artifacts.StageReference))
	}
	if err := r.compact(append(inputs, references...)); err != nil {
		return nil, fmt.Errorf("failed to compact inputs: %w", err)
	}

	// Step 3: recombine
	r.logger.Info("Step 3: recombining slabs")
	slabs, err := r.loadAligned()
	if err != nil {
		return nil, err
	}
	combination, err := Combine(ctx, slabs)
	if err != nil {
		return nil, err
	}
	if err := r.saveCombination(combination); err != nil {
		return nil, err
	}

	var aligned []artifacts.Key
	for _, id := range models.AllSlabs() {
		aligned = append(aligned,
			artifacts.SlabKey(id, artifacts.StageFloat),
			artifacts.SlabKey(id, artifacts.StagePhantomGap))
	}
	if err := r.compact(aligned); err != nil {
		return nil, fmt.Errorf("failed to compact aligned slabs: %w", err)
	}

	// Step 4: metrics and previews
	r.logger.Info("Step 4: calculating agreement metrics")
	result := &Result{
		RunID:    r.params.RunID,
		Outputs:  arena.Outputs(),
		DebugDir: arena.DebugDir,
		Metrics:  Agreement(combination),
	}
	r.logger.Info("repetition agreement",
		zap.Float64("rmse", result.Metrics.RMSE),
		zap.Float64("correlation", result.Metrics.Correlation),
		zap.Float64("ssim", result.Metrics.SSIM),
		zap.Float64("coverage", result.Metrics.Coverage),
		zap.Int("coveredVoxels", result.Metrics.CoveredVoxels))

	if r.params.Previews {
		name := artifacts.WholeKey(artifacts.StageWholePonderated).BaseName()
		viewer := visualization.NewViewer(combination.Ponderated)
		result.Previews, err = viewer.SavePreviews(filepath.Join(arena.OutputDir, "previews"), name)
		if err != nil {
			return nil, fmt.Errorf("failed to save previews: %w", err)
		}
	}

	if !r.params.KeepTemp {
		if err := arena.RemoveTemp(); err != nil {
			r.logger.Warn("failed to remove temp folder", zap.Error(err))
		}
	}

	result.Duration = time.Since(start)
	r.logger.Info("recombination finished",
		zap.Int("outputs", len(result.Outputs)),
		zap.Duration("elapsed", result.Duration))
	return result, nil
}

func (r *Reconstructor) compact(keys []artifacts.Key) error {
	if !r.params.Compress {
		return nil
	}
	return r.arena.Compact(keys...)
}

// prepareAndAlign fans out one worker per slab. The group's Wait is the barrier
// before recombination: a single failure cancels the other slabs and fails the run.
func (r *Reconstructor) prepareAndAlign(ctx context.Context, reference *models.Volume) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())

	preparer := &SlabPreparer{
		Factor: r.params.Factor,
		Axis:   r.params.Axis,
		Arena:  r.arena,
		Logger: r.logger,
	}

	for i, id := range models.AllSlabs() {
		id := id
		src := r.params.Slabs[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return r.processSlab(gctx, preparer, reference, id, src)
		})
	}
	return g.Wait()
}

func (r *Reconstructor) processSlab(ctx context.Context, preparer *SlabPreparer, reference *models.Volume, id models.SlabID, src string) error {
	log := r.logger.With(zap.Stringer("slab", id))

	slab, _, err := r.arena.Import(artifacts.SlabKey(id, artifacts.StageInput), src)
	if err != nil {
		return fmt.Errorf("slab %s: failed to load %s: %w", id, src, err)
	}
	log.Debug("slab loaded",
		zap.String("path", src),
		zap.Stringer("datatype", slab.Datatype))

	if _, err := preparer.Prepare(slab, id); err != nil {
		return err
	}

	// every slab gets its own copy of the reference
	refPath, err := r.arena.Put(artifacts.SlabKey(id, artifacts.StageReference), reference)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	log.Info("Step 2: aligning slab to reference")
	source := r.arena.Path(artifacts.SlabKey(id, artifacts.StageFloat))
	companion := r.arena.Path(artifacts.SlabKey(id, artifacts.StagePhantomGap))
	if err := r.aligner.Align(ctx, refPath, source, companion); err != nil {
		return fmt.Errorf("slab %s: %w", id, err)
	}
	return nil
}

// loadAligned reads back the aligned slabs and phantoms written by the aligner
func (r *Reconstructor) loadAligned() ([]*PreparedSlab, error) {
	var slabs []*PreparedSlab
	for _, id := range models.AllSlabs() {
		float, err := r.arena.Get(artifacts.SlabKey(id, artifacts.StageFloat))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMissingSlab, id, err)
		}
		phantom, err := r.arena.Get(artifacts.SlabKey(id, artifacts.StagePhantomGap))
		if err != nil {
			return nil, fmt.Errorf("%w: %s phantom: %v", ErrMissingSlab, id, err)
		}
		slabs = append(slabs, &PreparedSlab{ID: id, Float: float, Phantom: phantom})
	}
	return slabs, nil
}

func (r *Reconstructor) saveCombination(c *Combination) error {
	type entry struct {
		key artifacts.Key
		vol *models.Volume
	}
	entries := []entry{
		{artifacts.WholeKey(artifacts.StageWholeSum), c.Sum},
		{artifacts.WholeKey(artifacts.StageWholePhantom), c.Phantom},
		{artifacts.WholeKey(artifacts.StageWholePonderated), c.Ponderated},
		{artifacts.WholeKey(artifacts.StageSumOfPonderated), c.SumOfPonderated},
	}
	for i, rep := range c.Repetitions {
		n := i + 1
		entries = append(entries,
			entry{artifacts.RepetitionKey(n, artifacts.StageRepetitionSum), rep.Sum},
			entry{artifacts.RepetitionKey(n, artifacts.StageRepetitionPhantom), rep.Phantom},
			entry{artifacts.RepetitionKey(n, artifacts.StageRepetitionPonderated), rep.Ponderated})
	}

	for _, e := range entries {
		path, err := r.arena.Put(e.key, e.vol)
		if err != nil {
			return err
		}
		r.logger.Debug("result saved", zap.Stringer("artifact", e.key), zap.String("path", path))
	}
	return nil
}
