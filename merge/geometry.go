package merge

import "fmt"

// Geometry describes how the two source frames are cropped and blended into
// one panorama. The visible width of each stream is its crop width minus the
// feather zone shared with its neighbour.
type Geometry struct {
	LeftCrop    int // crop width taken from the left stream
	RightCrop   int // crop width taken from the right stream
	RightOffset int // x offset into the right stream before cropping
	Feather     int // width of the blended seam
	OutputWidth int
}

// computeGeometry derives the crop plan for a pair of streams. Invalid
// inputs are rejected outright, never clamped: a crop wider than the source
// or a non-positive visible region means the calibration is wrong, and a
// silently clamped seam would produce a subtly broken panorama.
func computeGeometry(leftWidth, rightWidth, feather, edgeTrim int) (Geometry, error) {
	if leftWidth <= 0 || rightWidth <= 0 {
		return Geometry{}, fmt.Errorf("invalid source widths %dx%d", leftWidth, rightWidth)
	}
	if feather < 0 {
		return Geometry{}, fmt.Errorf("negative feather width %d", feather)
	}
	if edgeTrim < 0 {
		return Geometry{}, fmt.Errorf("negative edge trim %d", edgeTrim)
	}

	leftCrop := leftWidth - edgeTrim
	rightCrop := rightWidth - edgeTrim
	if leftCrop > leftWidth || rightCrop > rightWidth {
		return Geometry{}, fmt.Errorf("crop exceeds source width (left %d>%d or right %d>%d)",
			leftCrop, leftWidth, rightCrop, rightWidth)
	}
	if leftCrop-feather <= 0 || rightCrop-feather <= 0 {
		return Geometry{}, fmt.Errorf("feather %d leaves no visible region (crops %d/%d)",
			feather, leftCrop, rightCrop)
	}

	return Geometry{
		LeftCrop:    leftCrop,
		RightCrop:   rightCrop,
		RightOffset: edgeTrim,
		Feather:     feather,
		OutputWidth: (leftCrop - feather) + (rightCrop - feather) + feather,
	}, nil
}
