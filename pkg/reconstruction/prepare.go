package reconstruction

import (
	"fmt"

	"go.uber.org/zap"

	"slabrecon/internal/models"
	"slabrecon/pkg/artifacts"
	"slabrecon/pkg/volumeops"
)

// PreparedSlab is a slab brought onto the duplicated lattice with its gap rows
// zeroed, together with the phantom marking which voxels it actually covers.
type PreparedSlab struct {
	ID      models.SlabID
	Float   *models.Volume
	Phantom *models.Volume
}

// BlockFactor is the only duplication factor the two interleaved blocks support:
// their gap positions 0 and 1 are complementary only with a period of 2.
const BlockFactor = 2

// SlabPreparer runs the first stage on a single slab:
// duplicate, insert gap, build the phantom, gap the phantom, convert to float.
type SlabPreparer struct {
	// Factor is the duplication factor and gap period. Zero means BlockFactor;
	// any other value is rejected.
	Factor int

	// Axis is the interleaving axis
	Axis models.Axis

	// Arena receives every intermediate when set
	Arena *artifacts.Arena

	Logger *zap.Logger
}

func (p *SlabPreparer) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func (p *SlabPreparer) factor() int {
	if p.Factor == 0 {
		return BlockFactor
	}
	return p.Factor
}

// GapSpec returns the gap layout used for the block of id
func (p *SlabPreparer) GapSpec(id models.SlabID) models.GapSpec {
	return models.GapSpec{
		Factor:   p.factor(),
		Position: id.Block.GapPosition(),
		Axis:     p.Axis,
	}
}

// Prepare runs the fixed stage 1 sequence on slab. The input is not modified.
func (p *SlabPreparer) Prepare(slab *models.Volume, id models.SlabID) (*PreparedSlab, error) {
	log := p.logger().With(zap.Stringer("slab", id))
	spec := p.GapSpec(id)
	if err := volumeops.ValidateGap(spec); err != nil {
		return nil, fmt.Errorf("slab %s: %w", id, err)
	}
	if spec.Factor != BlockFactor {
		return nil, fmt.Errorf("%w: slab %s: blocks a and b interleave with factor %d, got %d",
			volumeops.ErrInvalidFactor, id, BlockFactor, spec.Factor)
	}

	duplicated, err := volumeops.Duplicate(slab, spec.Factor, spec.Axis)
	if err != nil {
		return nil, fmt.Errorf("slab %s: duplication failed: %w", id, err)
	}
	if err := p.store(id, artifacts.StageDuplicated, duplicated); err != nil {
		return nil, err
	}
	dims := duplicated.Dims()
	log.Debug("volume duplicated",
		zap.Stringer("axis", spec.Axis),
		zap.Int("factor", spec.Factor),
		zap.Ints("dims", dims[:]))

	withGap, err := volumeops.InsertGap(duplicated, spec)
	if err != nil {
		return nil, fmt.Errorf("slab %s: gap insertion failed: %w", id, err)
	}
	if err := p.store(id, artifacts.StageWithGap, withGap); err != nil {
		return nil, err
	}

	phantom := volumeops.CreatePhantom(withGap, 1)
	if err := p.store(id, artifacts.StagePhantom, phantom); err != nil {
		return nil, err
	}

	phantomGap, err := volumeops.InsertGap(phantom, spec)
	if err != nil {
		return nil, fmt.Errorf("slab %s: phantom gap insertion failed: %w", id, err)
	}
	if err := p.store(id, artifacts.StagePhantomGap, phantomGap); err != nil {
		return nil, err
	}

	float := volumeops.ToFloat(withGap)
	if err := p.store(id, artifacts.StageFloat, float); err != nil {
		return nil, err
	}
	log.Debug("slab prepared", zap.Int("gapPosition", spec.Position))

	return &PreparedSlab{ID: id, Float: float, Phantom: phantomGap}, nil
}

func (p *SlabPreparer) store(id models.SlabID, stage artifacts.Stage, v *models.Volume) error {
	if p.Arena == nil {
		return nil
	}
	_, err := p.Arena.Put(artifacts.SlabKey(id, stage), v)
	return err
}
