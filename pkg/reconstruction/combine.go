package reconstruction

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"slabrecon/internal/models"
	"slabrecon/pkg/volumeops"
)

// ErrMissingSlab is returned when recombination is attempted without all four
// aligned slabs
var ErrMissingSlab = errors.New("missing slab")

// Repetition holds the partial results of one acquisition repetition
type Repetition struct {
	// Sum is the sum of the two aligned blocks
	Sum *models.Volume

	// Phantom is the coverage count of the two blocks
	Phantom *models.Volume

	// Ponderated is Sum normalized by Phantom
	Ponderated *models.Volume
}

// Combination is the output of the recombination stage
type Combination struct {
	// Repetitions are indexed by repetition number minus one
	Repetitions [2]Repetition

	// Sum is the sum over the four slabs
	Sum *models.Volume

	// Phantom is the coverage count over the four slabs
	Phantom *models.Volume

	// Ponderated is Sum normalized by Phantom
	Ponderated *models.Volume

	// SumOfPonderated adds the two per-repetition normalized volumes
	SumOfPonderated *models.Volume
}

// Combine merges the four aligned slabs. The per-repetition sums are computed
// concurrently; the cross-repetition sums and normalizations follow once both
// are ready.
func Combine(ctx context.Context, slabs []*PreparedSlab) (*Combination, error) {
	byID := make(map[models.SlabID]*PreparedSlab, len(slabs))
	for _, s := range slabs {
		if s != nil {
			byID[s.ID] = s
		}
	}
	for _, id := range models.AllSlabs() {
		s, ok := byID[id]
		if !ok || s.Float == nil || s.Phantom == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingSlab, id)
		}
	}

	c := &Combination{}
	g, gctx := errgroup.WithContext(ctx)
	for rep := 1; rep <= 2; rep++ {
		rep := rep
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a := byID[models.SlabID{Repetition: rep, Block: models.BlockA}]
			b := byID[models.SlabID{Repetition: rep, Block: models.BlockB}]
			r, err := combineRepetition(a, b)
			if err != nil {
				return fmt.Errorf("repetition %d: %w", rep, err)
			}
			c.Repetitions[rep-1] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var err error
	r1, r2 := c.Repetitions[0], c.Repetitions[1]
	if c.Sum, err = volumeops.Add(r1.Sum, r2.Sum); err != nil {
		return nil, fmt.Errorf("summing repetitions: %w", err)
	}
	if c.Phantom, err = volumeops.Add(r1.Phantom, r2.Phantom); err != nil {
		return nil, fmt.Errorf("summing phantoms: %w", err)
	}
	if c.Ponderated, err = volumeops.Divide(c.Sum, c.Phantom); err != nil {
		return nil, fmt.Errorf("normalizing sum: %w", err)
	}
	if c.SumOfPonderated, err = volumeops.Add(r1.Ponderated, r2.Ponderated); err != nil {
		return nil, fmt.Errorf("summing normalized repetitions: %w", err)
	}
	return c, nil
}

func combineRepetition(a, b *PreparedSlab) (Repetition, error) {
	var r Repetition
	var err error
	if r.Sum, err = volumeops.Add(a.Float, b.Float); err != nil {
		return r, err
	}
	if r.Phantom, err = volumeops.Add(a.Phantom, b.Phantom); err != nil {
		return r, err
	}
	if r.Ponderated, err = volumeops.Divide(r.Sum, r.Phantom); err != nil {
		return r, err
	}
	return r, nil
}
