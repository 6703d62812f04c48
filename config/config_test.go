package config

import (
	"testing"
	"time"
)

func TestLoadCamerasFromSpec(t *testing.T) {
	t.Setenv("CAMERA_DEVICES", "cam1=/dev/video0,cam2=/dev/video2")
	t.Setenv("CAMERA_WIDTH", "1280")

	cams := loadCameras()
	if len(cams) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cams))
	}
	if cams[0].Name != "cam1" || cams[0].Device != "/dev/video0" {
		t.Errorf("unexpected first camera: %+v", cams[0])
	}
	if cams[1].Name != "cam2" || cams[1].Device != "/dev/video2" {
		t.Errorf("unexpected second camera: %+v", cams[1])
	}
	if cams[0].Width != 1280 {
		t.Errorf("expected width 1280, got %d", cams[0].Width)
	}
}

func TestLoadCamerasMalformedEntriesSkipped(t *testing.T) {
	t.Setenv("CAMERA_DEVICES", "cam1=/dev/video0,garbage,=missing")

	cams := loadCameras()
	if len(cams) != 1 {
		t.Fatalf("expected 1 camera, got %d", len(cams))
	}
}

func TestDualCamera(t *testing.T) {
	cfg := Config{Cameras: []CameraDevice{
		{Name: "cam1", Enabled: true},
		{Name: "cam2", Enabled: true},
	}}
	if !cfg.DualCamera() {
		t.Error("expected dual camera mode")
	}

	cfg.Cameras[1].Enabled = false
	if cfg.DualCamera() {
		t.Error("expected single camera mode with one camera disabled")
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{UserID: "u1", CameraID: "c1", S3Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.UserID = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing identity")
	}

	cfg = Config{UserID: "u1", CameraID: "c1", S3Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing S3 credentials")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR_A", "45s")
	if d := getEnvDuration("TEST_DUR_A", time.Second); d != 45*time.Second {
		t.Errorf("expected 45s, got %v", d)
	}

	// Bare integers are treated as seconds.
	t.Setenv("TEST_DUR_B", "30")
	if d := getEnvDuration("TEST_DUR_B", time.Second); d != 30*time.Second {
		t.Errorf("expected 30s, got %v", d)
	}

	if d := getEnvDuration("TEST_DUR_MISSING", 5*time.Second); d != 5*time.Second {
		t.Errorf("expected fallback 5s, got %v", d)
	}
}
