package merge

import "fmt"

// sideBySideGraph crops both streams and blends their shared feather zone
// with a linear alpha ramp, producing a seamless horizontal panorama. The
// three hstacked segments are: left visible region, blended seam, right
// visible region.
func sideBySideGraph(left, right StreamInfo, geo Geometry) string {
	height := minInt(left.Height, right.Height)
	leftVisible := geo.LeftCrop - geo.Feather
	rightVisible := geo.RightCrop - geo.Feather

	return fmt.Sprintf(
		"[0:v]crop=%d:%d:0:0,split=2[l_main][l_seam];"+
			"[1:v]crop=%d:%d:%d:0,split=2[r_seam][r_main];"+
			"[l_main]crop=%d:%d:0:0[left];"+
			"[l_seam]crop=%d:%d:%d:0[lseam];"+
			"[r_seam]crop=%d:%d:0:0[rseam];"+
			"[r_main]crop=%d:%d:%d:0[right];"+
			"[lseam][rseam]blend=all_expr='A*(1-X/W)+B*(X/W)'[seam];"+
			"[left][seam][right]hstack=inputs=3[out]",
		geo.LeftCrop, height,
		geo.RightCrop, height, geo.RightOffset,
		leftVisible, height,
		geo.Feather, height, leftVisible,
		geo.Feather, height,
		rightVisible, height, geo.Feather,
	)
}

// advancedStitchGraph is the side-by-side layout with an eased seam blend,
// which hides exposure differences between the cameras better than the
// linear ramp at the cost of a slightly wider visible transition.
func advancedStitchGraph(left, right StreamInfo, geo Geometry) string {
	height := minInt(left.Height, right.Height)
	leftVisible := geo.LeftCrop - geo.Feather
	rightVisible := geo.RightCrop - geo.Feather

	return fmt.Sprintf(
		"[0:v]crop=%d:%d:0:0,split=2[l_main][l_seam];"+
			"[1:v]crop=%d:%d:%d:0,split=2[r_seam][r_main];"+
			"[l_main]crop=%d:%d:0:0[left];"+
			"[l_seam]crop=%d:%d:%d:0[lseam];"+
			"[r_seam]crop=%d:%d:0:0[rseam];"+
			"[lseam][rseam]blend=all_expr='A*(1-(3*pow(X/W,2)-2*pow(X/W,3)))+B*(3*pow(X/W,2)-2*pow(X/W,3))'[seam];"+
			"[r_main]crop=%d:%d:%d:0[right];"+
			"[left][seam][right]hstack=inputs=3[out]",
		geo.LeftCrop, height,
		geo.RightCrop, height, geo.RightOffset,
		leftVisible, height,
		geo.Feather, height, leftVisible,
		geo.Feather, height,
		rightVisible, height, geo.Feather,
	)
}

// stackedGraph places the streams vertically, normalizing widths so vstack
// accepts mismatched cameras. No seam blending applies.
func stackedGraph(left, right StreamInfo, geo Geometry) string {
	width := minInt(left.Width, right.Width)
	return fmt.Sprintf(
		"[0:v]scale=%d:-2[top];[1:v]scale=%d:-2[bottom];[top][bottom]vstack=inputs=2[out]",
		width, width,
	)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
