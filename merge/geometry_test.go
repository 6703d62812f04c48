package merge

import "testing"

func TestComputeGeometry(t *testing.T) {
	tests := []struct {
		name     string
		leftW    int
		rightW   int
		feather  int
		edgeTrim int
		wantErr  bool
		wantOut  int
	}{
		{"basic 1080p pair", 1920, 1920, 100, 0, false, 3740},
		{"no feather", 1920, 1920, 0, 0, false, 3840},
		{"edge trim", 1920, 1920, 100, 20, false, 3700},
		{"mismatched widths", 1920, 1280, 100, 0, false, 3100},
		{"zero left width", 0, 1920, 100, 0, true, 0},
		{"negative feather", 1920, 1920, -1, 0, true, 0},
		{"negative edge trim", 1920, 1920, 100, -5, true, 0},
		{"feather consumes stream", 1920, 1920, 1920, 0, true, 0},
		{"feather exceeds stream", 200, 1920, 250, 0, true, 0},
		{"trim plus feather consumes stream", 300, 1920, 200, 100, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo, err := computeGeometry(tt.leftW, tt.rightW, tt.feather, tt.edgeTrim)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", geo)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if geo.OutputWidth != tt.wantOut {
				t.Errorf("output width = %d, want %d", geo.OutputWidth, tt.wantOut)
			}
			if geo.Feather != tt.feather {
				t.Errorf("feather = %d, want %d", geo.Feather, tt.feather)
			}
		})
	}
}

func TestGeometryVisibleWidthInvariant(t *testing.T) {
	geo, err := computeGeometry(1920, 1920, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	leftVisible := geo.LeftCrop - geo.Feather
	rightVisible := geo.RightCrop - geo.Feather
	if leftVisible+geo.Feather+rightVisible != geo.OutputWidth {
		t.Errorf("segments %d+%d+%d do not sum to output width %d",
			leftVisible, geo.Feather, rightVisible, geo.OutputWidth)
	}
}
