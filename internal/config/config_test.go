package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/hw/permission"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPathValid(t *testing.T) {
	cfgDir := filepath.Join(t.TempDir(), "configs")
	test.That(t, os.Mkdir(cfgDir, 0o755), test.ShouldBeNil)

	for _, name := range []string{"default.yaml", "con fig.yaml", "café.yaml"} {
		test.That(t, ValidateConfigPath(filepath.Join(cfgDir, name)), test.ShouldBeNil)
	}
	test.That(t, ValidateConfigPath("configs/default.yaml"), test.ShouldBeNil)
}

func TestValidateConfigPathRejects(t *testing.T) {
	for _, path := range []string{
		"",
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"configs/default.json",
		"configs/default.yml",
		"configs/default",
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	} {
		test.That(t, ValidateConfigPath(path), test.ShouldNotBeNil)
	}
}

func TestValidateConfigPathVeryLong(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	test.That(t, ValidateConfigPath(long), test.ShouldBeNil)
}

// ---------- Load ----------

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgDir := filepath.Join(t.TempDir(), "configs")
	test.That(t, os.Mkdir(cfgDir, 0o755), test.ShouldBeNil)
	path := filepath.Join(cfgDir, "test.yaml")
	test.That(t, os.WriteFile(path, []byte(content), 0o644), test.ShouldBeNil)
	return path
}

const validYAML = `
device:
  type: simulated
  torch_pin: 17
  mock_gpio: true
  bind_latency_ms: 5
  front:
    aspect_ratios: ["16:9"]
    qualities: [hd, fhd]
    frame_rates: [30]
    zoom_max: 3
defaults:
  facing: front
  mode: video
  aspect_ratio: "16:9"
  flash: "on"
  quality: fhd
  fps: 60
  timer_sec: 3
media:
  root: /var/lib/camgo
  frame_interval_ms: 40
permissions:
  microphone: true
logging:
  debug_level: 3
web:
  port: 8080
`

func TestLoadValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.Device.Type, test.ShouldEqual, DeviceSimulated)
	test.That(t, cfg.Device.TorchPin, test.ShouldEqual, 17)
	test.That(t, cfg.BindLatency(), test.ShouldEqual, 5*time.Millisecond)
	test.That(t, cfg.FrameInterval(), test.ShouldEqual, 40*time.Millisecond)
	test.That(t, cfg.Media.Root, test.ShouldEqual, "/var/lib/camgo")
	test.That(t, cfg.Logging.DebugLevel, test.ShouldEqual, 3)
	test.That(t, cfg.Web.Port, test.ShouldEqual, 8080)
	test.That(t, cfg.Defaults.TimerSec, test.ShouldEqual, 3)

	s := cfg.InitialSettings()
	test.That(t, s.Facing, test.ShouldEqual, camera.Front)
	test.That(t, s.Mode, test.ShouldEqual, camera.Video)
	test.That(t, s.Pipeline, test.ShouldResemble, camera.PipelineConfig{
		AspectRatio: camera.Ratio16x9,
		Flash:       camera.FlashOn,
		Quality:     camera.QualityFHD,
		FrameRate:   camera.FrameRateRange{Min: 30, Max: 60},
	})

	caps, err := cfg.Device.Front.Capabilities()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, caps, test.ShouldResemble, camera.Capabilities{
		AspectRatios: []camera.AspectRatio{camera.Ratio16x9},
		Qualities:    []camera.Quality{camera.QualityHD, camera.QualityFHD},
		FrameRates:   []int{30},
		ZoomMin:      1,
		ZoomMax:      3,
	})

	oracle := cfg.Oracle()
	test.That(t, oracle.IsGranted(permission.Camera), test.ShouldBeTrue)
	test.That(t, oracle.IsGranted(permission.Microphone), test.ShouldBeTrue)
}

func TestLoadEmptyUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Device.Type, test.ShouldEqual, DeviceSimulated)
	test.That(t, cfg.Device.JPEGQuality, test.ShouldEqual, 90)
	test.That(t, cfg.Media.Root, test.ShouldEqual, "media")
	test.That(t, cfg.FrameInterval(), test.ShouldEqual, 33*time.Millisecond)

	s := cfg.InitialSettings()
	test.That(t, s.Facing, test.ShouldEqual, camera.Back)
	test.That(t, s.Mode, test.ShouldEqual, camera.Photo)
	test.That(t, s.Pipeline.Quality, test.ShouldEqual, camera.QualityUHD)
	test.That(t, s.Pipeline.FrameRate, test.ShouldResemble, camera.FrameRateRange{Min: 30, Max: 30})

	oracle := cfg.Oracle()
	test.That(t, oracle.IsGranted(permission.Camera), test.ShouldBeTrue)
	test.That(t, oracle.IsGranted(permission.Microphone), test.ShouldBeFalse)

	test.That(t, Default().InitialSettings(), test.ShouldResemble, s)
}

func TestLoadCameraPermissionRevoked(t *testing.T) {
	cfg, err := Parse([]byte("permissions:\n  camera: false\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Oracle().IsGranted(permission.Camera), test.ShouldBeFalse)
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		msg  string
	}{
		{"device type", "device:\n  type: nikon\n", "device.type"},
		{"jpeg quality", "device:\n  jpeg_quality: 101\n", "jpeg_quality"},
		{"torch pin", "device:\n  torch_pin: 40\n", "torch_pin"},
		{"bind latency", "device:\n  bind_latency_ms: -1\n", "bind_latency_ms"},
		{"facing caps", "device:\n  back:\n    qualities: [8k]\n", "device.back"},
		{"facing fps", "device:\n  front:\n    frame_rates: [24]\n", "device.front"},
		{"facing", "defaults:\n  facing: side\n", "defaults.facing"},
		{"mode", "defaults:\n  mode: burst\n", "defaults.mode"},
		{"aspect", "defaults:\n  aspect_ratio: \"1:1\"\n", "defaults.aspect_ratio"},
		{"flash", "defaults:\n  flash: strobe\n", "defaults.flash"},
		{"quality", "defaults:\n  quality: 8k\n", "defaults.quality"},
		{"fps", "defaults:\n  fps: 24\n", "defaults.fps"},
		{"timer", "defaults:\n  timer_sec: 5\n", "defaults.timer_sec"},
		{"debug level", "logging:\n  debug_level: 9\n", "debug_level"},
		{"web port", "web:\n  port: 70000\n", "web.port"},
		{"yaml", "device: [", "unmarshal yaml"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "configs", "missing.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "read config file")
}
