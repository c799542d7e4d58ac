package metricslog

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// Cell size of the rendered heatmap grid in pixels.
const heatmapCell = 8

// SaveLabelHeatmap renders a label distribution as a PNG: one row per
// client, one column per class, brightness proportional to the sample
// count relative to the largest cell.
func SaveLabelHeatmap(path string, counts [][]int) error {
	if len(counts) == 0 {
		return fmt.Errorf("empty label distribution")
	}

	classes := len(counts[0])
	maxCount := 0
	for _, row := range counts {
		if len(row) != classes {
			return fmt.Errorf("ragged label distribution: row with %d classes, want %d", len(row), classes)
		}
		for _, n := range row {
			if n > maxCount {
				maxCount = n
			}
		}
	}
	if maxCount == 0 {
		maxCount = 1
	}

	img := image.NewGray(image.Rect(0, 0, classes*heatmapCell, len(counts)*heatmapCell))
	for row, client := range counts {
		for col, n := range client {
			shade := color.Gray{Y: uint8(255 * n / maxCount)}
			for y := row * heatmapCell; y < (row+1)*heatmapCell; y++ {
				for x := col * heatmapCell; x < (col+1)*heatmapCell; x++ {
					img.SetGray(x, y, shade)
				}
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating heatmap: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding heatmap: %w", err)
	}

	return nil
}
