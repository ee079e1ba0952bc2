// Package visualization renders 2D previews of reconstructed volumes.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"slabrecon/internal/models"
)

// Viewer extracts grayscale slices from a volume. Intensities are scaled so the
// brightest voxel of the volume maps to white; negative samples are black.
type Viewer struct {
	volume *models.Volume

	// peak is the intensity mapped to white
	peak float64
}

// NewViewer creates a viewer for the volume
func NewViewer(volume *models.Volume) *Viewer {
	peak := 0.0
	if len(volume.Data) > 0 {
		peak = floats.Max(volume.Data)
	}
	if math.IsNaN(peak) || math.IsInf(peak, 0) {
		peak = 0
		for _, s := range volume.Data {
			if !math.IsNaN(s) && !math.IsInf(s, 0) && s > peak {
				peak = s
			}
		}
	}
	return &Viewer{volume: volume, peak: peak}
}

func (v *Viewer) gray(x, y, z int) color.Gray16 {
	if v.peak <= 0 {
		return color.Gray16{}
	}
	s := v.volume.At(x, y, z) / v.peak
	if math.IsNaN(s) {
		s = 0
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, s*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume perpendicular to axis
func (v *Viewer) ExtractSlice(axis models.Axis, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.volume

	var img *image.Gray16
	switch axis {
	case models.AxisX:
		// YZ plane
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(position, y, z))
			}
		}

	case models.AxisY:
		// XZ plane
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(x, position, z))
			}
		}

	case models.AxisZ:
		// XY plane
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SavePreviews writes the middle slice along each axis to outputDir as
// <name>_<axis>.jpg and returns the written paths.
func (v *Viewer) SavePreviews(outputDir, name string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	dims := v.volume.Dims()
	var paths []string
	for _, axis := range []models.Axis{models.AxisX, models.AxisY, models.AxisZ} {
		img, err := v.ExtractSlice(axis, dims[axis]/2)
		if err != nil {
			return paths, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", name, axis))
		if err := SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}
	return paths, nil
}
