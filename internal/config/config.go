package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/hw/permission"
	"github.com/cjeanneret/CamGo/internal/logic/settings"
)

const (
	DeviceSimulated = "simulated"
	DeviceWebcam    = "webcam"
)

// FacingConfig overrides the capabilities of one simulated facing.
type FacingConfig struct {
	AspectRatios []string `yaml:"aspect_ratios"` // e.g. ["4:3", "16:9"]
	Qualities    []string `yaml:"qualities"`     // sd, hd, fhd, uhd
	FrameRates   []int    `yaml:"frame_rates"`   // 30 and/or 60
	FlashUnit    bool     `yaml:"flash_unit"`
	ZoomMin      float64  `yaml:"zoom_min"`
	ZoomMax      float64  `yaml:"zoom_max"`
}

// DeviceConfig selects and tunes the capture device.
type DeviceConfig struct {
	Type          string        `yaml:"type"`            // "simulated" or "webcam"
	BackLabel     string        `yaml:"back_label"`      // webcam: substring of the back camera label
	FrontLabel    string        `yaml:"front_label"`     // webcam: substring of the front camera label
	JPEGQuality   int           `yaml:"jpeg_quality"`    // webcam: 1-100
	TorchPin      int           `yaml:"torch_pin"`       // BCM pin of the torch LED. 0 = no torch.
	MockGPIO      bool          `yaml:"mock_gpio"`       // mock GPIO (true=dev/test, false=real Raspberry Pi)
	BindLatencyMs int           `yaml:"bind_latency_ms"` // simulated: delay per bind
	Back          *FacingConfig `yaml:"back,omitempty"`  // simulated: optional
	Front         *FacingConfig `yaml:"front,omitempty"` // simulated: optional
}

// DefaultsConfig is the capture configuration applied at start.
type DefaultsConfig struct {
	Facing      string `yaml:"facing"`       // back, front
	Mode        string `yaml:"mode"`         // photo, video
	AspectRatio string `yaml:"aspect_ratio"` // 4:3, 16:9
	Flash       string `yaml:"flash"`        // auto, on, off
	Quality     string `yaml:"quality"`      // sd, hd, fhd, uhd
	FPS         int    `yaml:"fps"`          // 30, 60
	TimerSec    int    `yaml:"timer_sec"`    // 0, 3, 10
}

// MediaConfig says where captures are written.
type MediaConfig struct {
	Root            string `yaml:"root"`
	FrameIntervalMs int    `yaml:"frame_interval_ms"` // recording frame pacing
}

// PermissionsConfig grants privacy-guarded inputs.
type PermissionsConfig struct {
	Camera     *bool `yaml:"camera,omitempty"` // default true
	Microphone bool  `yaml:"microphone"`
}

// LoggingConfig controls verbosity.
type LoggingConfig struct {
	DebugLevel int `yaml:"debug_level"` // 0-4 (0=off, 1=warn, 2=info, 3=debug, 4=debug with caller)
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}

// Config aggregates all application configuration.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Media       MediaConfig       `yaml:"media"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Logging     LoggingConfig     `yaml:"logging"`
	Web         WebConfig         `yaml:"web"`

	initial settings.Settings
}

// ValidateConfigPath accepts only .yaml files directly under a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return errors.Errorf("config path %q escapes its directory", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return errors.Errorf("config path %q must end in .yaml", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return errors.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse is Load without the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Device.Type == "" {
		c.Device.Type = DeviceSimulated
	}
	if c.Device.JPEGQuality == 0 {
		c.Device.JPEGQuality = 90
	}
	d := &c.Defaults
	if d.Facing == "" {
		d.Facing = "back"
	}
	if d.Mode == "" {
		d.Mode = "photo"
	}
	if d.AspectRatio == "" {
		d.AspectRatio = "4:3"
	}
	if d.Flash == "" {
		d.Flash = "auto"
	}
	if d.Quality == "" {
		d.Quality = "uhd"
	}
	if d.FPS == 0 {
		d.FPS = 30
	}
	if c.Media.Root == "" {
		c.Media.Root = "media"
	}
	if c.Media.FrameIntervalMs <= 0 {
		c.Media.FrameIntervalMs = 33
	}
	if c.Permissions.Camera == nil {
		granted := true
		c.Permissions.Camera = &granted
	}
}

// Validate checks every field and caches the parsed start settings.
func (c *Config) Validate() error {
	switch c.Device.Type {
	case DeviceSimulated, DeviceWebcam:
	default:
		return errors.Errorf("device.type must be %q or %q, got %q", DeviceSimulated, DeviceWebcam, c.Device.Type)
	}
	if c.Device.JPEGQuality < 1 || c.Device.JPEGQuality > 100 {
		return errors.Errorf("device.jpeg_quality must be between 1 and 100, got %d", c.Device.JPEGQuality)
	}
	if c.Device.TorchPin < 0 || c.Device.TorchPin > 27 {
		return errors.Errorf("device.torch_pin must be a BCM pin 1-27 or 0, got %d", c.Device.TorchPin)
	}
	if c.Device.BindLatencyMs < 0 {
		return errors.Errorf("device.bind_latency_ms must be >= 0, got %d", c.Device.BindLatencyMs)
	}
	for name, fc := range map[string]*FacingConfig{"back": c.Device.Back, "front": c.Device.Front} {
		if fc == nil {
			continue
		}
		if _, err := fc.Capabilities(); err != nil {
			return errors.Wrapf(err, "device.%s", name)
		}
	}

	var (
		s   settings.Settings
		err error
	)
	if s.Facing, err = camera.ParseFacing(c.Defaults.Facing); err != nil {
		return errors.Wrap(err, "defaults.facing")
	}
	if s.Mode, err = camera.ParseMode(c.Defaults.Mode); err != nil {
		return errors.Wrap(err, "defaults.mode")
	}
	if s.Pipeline.AspectRatio, err = camera.ParseAspectRatio(c.Defaults.AspectRatio); err != nil {
		return errors.Wrap(err, "defaults.aspect_ratio")
	}
	if s.Pipeline.Flash, err = camera.ParseFlashMode(c.Defaults.Flash); err != nil {
		return errors.Wrap(err, "defaults.flash")
	}
	if s.Pipeline.Quality, err = camera.ParseQuality(c.Defaults.Quality); err != nil {
		return errors.Wrap(err, "defaults.quality")
	}
	if c.Defaults.FPS != 30 && c.Defaults.FPS != 60 {
		return errors.Errorf("defaults.fps must be 30 or 60, got %d", c.Defaults.FPS)
	}
	s.Pipeline.FrameRate = camera.TargetFrameRate(c.Defaults.FPS)
	switch c.Defaults.TimerSec {
	case 0, 3, 10:
	default:
		return errors.Errorf("defaults.timer_sec must be 0, 3 or 10, got %d", c.Defaults.TimerSec)
	}
	if c.Logging.DebugLevel < 0 || c.Logging.DebugLevel > 4 {
		return errors.Errorf("logging.debug_level must be between 0 and 4, got %d", c.Logging.DebugLevel)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return errors.Errorf("web.port must be 0-65535, got %d", c.Web.Port)
	}
	c.initial = s
	return nil
}

// Capabilities converts the facing override. An override without qualities
// leaves the simulated facing at its built-in capabilities.
func (fc *FacingConfig) Capabilities() (camera.Capabilities, error) {
	caps := camera.Capabilities{
		FrameRates:   fc.FrameRates,
		HasFlashUnit: fc.FlashUnit,
		ZoomMin:      fc.ZoomMin,
		ZoomMax:      fc.ZoomMax,
	}
	for _, s := range fc.AspectRatios {
		r, err := camera.ParseAspectRatio(s)
		if err != nil {
			return caps, err
		}
		caps.AspectRatios = append(caps.AspectRatios, r)
	}
	for _, s := range fc.Qualities {
		q, err := camera.ParseQuality(s)
		if err != nil {
			return caps, err
		}
		caps.Qualities = append(caps.Qualities, q)
	}
	for _, fps := range fc.FrameRates {
		if fps != 30 && fps != 60 {
			return caps, errors.Errorf("frame rate %d (want 30 or 60)", fps)
		}
	}
	if caps.ZoomMin <= 0 {
		caps.ZoomMin = 1
	}
	if caps.ZoomMax < caps.ZoomMin {
		caps.ZoomMax = caps.ZoomMin
	}
	return caps, nil
}

// InitialSettings returns the parsed defaults section.
func (c *Config) InitialSettings() settings.Settings {
	return c.initial
}

// Oracle builds the permission oracle from the permissions section.
func (c *Config) Oracle() *permission.Static {
	oracle := permission.NewStatic()
	if c.Permissions.Camera == nil || *c.Permissions.Camera {
		oracle.Grant(permission.Camera)
	}
	if c.Permissions.Microphone {
		oracle.Grant(permission.Microphone)
	}
	return oracle
}

// BindLatency returns the simulated bind delay.
func (c *Config) BindLatency() time.Duration {
	return time.Duration(c.Device.BindLatencyMs) * time.Millisecond
}

// FrameInterval returns the recording frame pacing.
func (c *Config) FrameInterval() time.Duration {
	return time.Duration(c.Media.FrameIntervalMs) * time.Millisecond
}
