// Package main is the camgo command.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/cjeanneret/CamGo/internal/config"
	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/hw/gpio"
	"github.com/cjeanneret/CamGo/internal/logging"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/logic/settings"
	"github.com/cjeanneret/CamGo/internal/media"
	"github.com/cjeanneret/CamGo/internal/web"
)

const (
	// Flags.
	flagConfig   = "config"
	flagDevice   = "device"
	flagDebug    = "debug"
	flagWeb      = "web"
	flagTimer    = "timer"
	flagDuration = "duration"

	defaultConfigPath = "configs/default.yaml"
	defaultWebPort    = 8080
	closeTimeout      = 10 * time.Second
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "camgo: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:  "camgo",
		Usage: "drive a camera: preview, photos and recordings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   defaultConfigPath,
				Usage:   "load configuration from `FILE` (a .yaml under configs/)",
			},
			&cli.StringFlag{
				Name:  flagDevice,
				Usage: "capture device, simulated or webcam (overrides device.type)",
			},
			&cli.IntFlag{
				Name:  flagDebug,
				Usage: "debug level 0-4 (overrides logging.debug_level)",
			},
		},
		Before: func(c *cli.Context) error {
			loaded, err := loadConfig(c)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "bind the camera and serve the control page",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagWeb,
						Usage: "listen on `PORT` (overrides web.port, 8080 when both are unset)",
					},
				},
				Action: func(c *cli.Context) error {
					return serveAction(c, cfg)
				},
			},
			{
				Name:  "snap",
				Usage: "take one photo and print its URI",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagTimer,
						Usage: "countdown in seconds: 0, 3 or 10 (overrides defaults.timer_sec)",
					},
				},
				Action: func(c *cli.Context) error {
					return snapAction(c, cfg)
				},
			},
			{
				Name:  "record",
				Usage: "record a video and print its URI",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagDuration,
						Value: 5 * time.Second,
						Usage: "recording length",
					},
				},
				Action: func(c *cli.Context) error {
					return recordAction(c, cfg)
				},
			},
			{
				Name:  "devices",
				Usage: "list the video inputs found on this host",
				Action: func(c *cli.Context) error {
					return listDevices(c.App.Writer, camera.ListVideoDevices())
				},
			},
		},
	}
}

// loadConfig reads the config file and applies the global flag overrides.
// A missing default file is not an error; built-in defaults apply.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String(flagConfig)
	var cfg *config.Config
	if _, statErr := os.Stat(path); !c.IsSet(flagConfig) && errors.Is(statErr, os.ErrNotExist) {
		cfg = config.Default()
	} else {
		if err := config.ValidateConfigPath(path); err != nil {
			return nil, err
		}
		loaded, err := config.Load(filepath.Clean(path))
		if err != nil {
			return nil, errors.Wrapf(err, "load config %s", path)
		}
		cfg = loaded
	}
	if c.IsSet(flagDevice) {
		cfg.Device.Type = c.String(flagDevice)
	}
	if c.IsSet(flagDebug) {
		cfg.Logging.DebugLevel = c.Int(flagDebug)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// camgo is everything one command needs, built from the configuration.
type camgo struct {
	ctrl   *capture.Controller
	gpio   gpio.Driver
	logger *zap.SugaredLogger
}

func build(cfg *config.Config, logger *zap.SugaredLogger) (_ *camgo, err error) {
	var (
		driver gpio.Driver
		torch  camera.Torch
	)
	if cfg.Device.TorchPin > 0 {
		if driver, err = gpio.NewDriver(cfg.Device.MockGPIO, logger.Named("gpio")); err != nil {
			return nil, errors.Wrap(err, "init GPIO")
		}
		defer func() {
			if err != nil {
				err = multierr.Append(err, driver.Close())
			}
		}()
		t, torchErr := camera.NewGPIOTorch(driver, cfg.Device.TorchPin)
		if torchErr != nil {
			return nil, errors.Wrap(torchErr, "init torch")
		}
		torch = t
	}

	open, err := deviceOpener(cfg, torch, logger)
	if err != nil {
		return nil, err
	}
	sink, err := media.NewFileSink(media.FileSinkConfig{
		Root:          cfg.Media.Root,
		FrameInterval: cfg.FrameInterval(),
	}, logger.Named("sink"))
	if err != nil {
		return nil, err
	}
	ctrl, err := capture.NewController(capture.Config{
		Provider:     camera.NewProvider(open, logger.Named("provider")),
		Sink:         sink,
		Oracle:       cfg.Oracle(),
		Initial:      cfg.InitialSettings(),
		TimerSeconds: cfg.Defaults.TimerSec,
	}, logger.Named("capture"))
	if err != nil {
		return nil, err
	}
	return &camgo{ctrl: ctrl, gpio: driver, logger: logger}, nil
}

// deviceOpener returns how the provider opens the configured device.
func deviceOpener(cfg *config.Config, torch camera.Torch, logger *zap.SugaredLogger) (camera.OpenFunc, error) {
	switch cfg.Device.Type {
	case config.DeviceSimulated:
		simCfg := camera.SimulatedConfig{Torch: torch, BindLatency: cfg.BindLatency()}
		if cfg.Device.Back != nil {
			caps, err := cfg.Device.Back.Capabilities()
			if err != nil {
				return nil, errors.Wrap(err, "device.back")
			}
			simCfg.Back = caps
		}
		if cfg.Device.Front != nil {
			caps, err := cfg.Device.Front.Capabilities()
			if err != nil {
				return nil, errors.Wrap(err, "device.front")
			}
			simCfg.Front = caps
		}
		return func(ctx context.Context) (camera.Device, error) {
			return camera.NewSimulated(simCfg, logger.Named("simulated")), nil
		}, nil
	case config.DeviceWebcam:
		wc := camera.WebcamConfig{
			BackLabel:   cfg.Device.BackLabel,
			FrontLabel:  cfg.Device.FrontLabel,
			JPEGQuality: cfg.Device.JPEGQuality,
			Torch:       torch,
		}
		return func(ctx context.Context) (camera.Device, error) {
			cam, err := camera.OpenWebcam(ctx, wc, logger.Named("webcam"))
			if err != nil {
				return nil, err
			}
			return cam, nil
		}, nil
	default:
		return nil, errors.Errorf("unsupported device type: %s", cfg.Device.Type)
	}
}

// Close finalizes any recording, releases the device and the GPIO driver.
func (a *camgo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := a.ctrl.Close(ctx)
	if a.gpio != nil {
		err = multierr.Append(err, a.gpio.Close())
	}
	if err != nil {
		a.logger.Warnw("shutdown incomplete", "error", err)
	}
	return err
}

func serveAction(c *cli.Context, cfg *config.Config) error {
	port := cfg.Web.Port
	if c.IsSet(flagWeb) {
		port = c.Int(flagWeb)
	}
	if port == 0 {
		port = defaultWebPort
	}
	if port < 1 || port > 65535 {
		return errors.Errorf("port must be 1-65535, got %d", port)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := web.NewStatusBroadcaster()
	logger := logging.New("camgo", cfg.Logging.DebugLevel, web.BroadcastWriter(broadcaster))
	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(app.Close())
	}()

	events, unsub := app.ctrl.Subscribe()
	defer unsub()
	goutils.PanicCapturingGo(func() { broadcaster.Forward(ctx, events) })

	if err := app.ctrl.Start(ctx); err != nil {
		return errors.Wrap(err, "start camera")
	}

	srv, err := web.NewServer(fmt.Sprintf(":%d", port), app.ctrl, broadcaster, logger.Named("web"))
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func snapAction(c *cli.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New("camgo", cfg.Logging.DebugLevel)
	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(app.Close())
	}()

	if c.IsSet(flagTimer) {
		if err := app.ctrl.SetTimer(c.Int(flagTimer)); err != nil {
			return err
		}
	}
	events, unsub := app.ctrl.Subscribe()
	defer unsub()
	if err := app.ctrl.Start(ctx); err != nil {
		return errors.Wrap(err, "start camera")
	}
	uri, err := snap(ctx, app.ctrl, events)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, uri)
	return nil
}

// controls is what the one-shot commands drive.
type controls interface {
	Configure(ctx context.Context, change settings.Change) error
	Act(ctx context.Context, action capture.Action) error
}

// snap switches to photo mode, presses the shutter and waits for the file.
func snap(ctx context.Context, ctrl controls, events <-chan capture.Event) (string, error) {
	if err := ctrl.Configure(ctx, settings.Mode(camera.Photo)); err != nil {
		return "", err
	}
	if err := ctrl.Act(ctx, capture.ActionShutter); err != nil {
		return "", err
	}
	ev, err := waitForEvent(ctx, events, capture.EventPhotoSaved, capture.EventCaptureFailed)
	if err != nil {
		return "", err
	}
	if ev.Type == capture.EventCaptureFailed {
		return "", errors.Errorf("photo capture failed: %s", ev.Error)
	}
	return ev.URI, nil
}

func recordAction(c *cli.Context, cfg *config.Config) error {
	duration := c.Duration(flagDuration)
	if duration <= 0 {
		return errors.Errorf("duration must be positive, got %s", duration)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New("camgo", cfg.Logging.DebugLevel)
	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(app.Close())
	}()

	events, unsub := app.ctrl.Subscribe()
	defer unsub()
	if err := app.ctrl.Start(ctx); err != nil {
		return errors.Wrap(err, "start camera")
	}
	uri, err := record(ctx, app.ctrl, events, duration)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, uri)
	return nil
}

// record switches to video mode, records for d and waits for the file.
// An interrupted wait stops the recording early.
func record(ctx context.Context, ctrl controls, events <-chan capture.Event, d time.Duration) (string, error) {
	if err := ctrl.Configure(ctx, settings.Mode(camera.Video)); err != nil {
		return "", err
	}
	if err := ctrl.Act(ctx, capture.ActionShutter); err != nil {
		return "", err
	}
	ev, err := waitForEvent(ctx, events, capture.EventRecordingStarted, capture.EventRecordingFailed)
	if err != nil {
		return "", err
	}
	if ev.Type == capture.EventRecordingFailed {
		return "", errors.Errorf("recording failed: %s", ev.Error)
	}

	stopCtx := ctx
	if !goutils.SelectContextOrWait(ctx, d) {
		// interrupted; still stop and save what was recorded
		stopCtx = context.Background()
	}
	if err := ctrl.Act(stopCtx, capture.ActionShutter); err != nil {
		return "", err
	}
	ev, err = waitForEvent(stopCtx, events, capture.EventRecordingSaved, capture.EventRecordingFailed)
	if err != nil {
		return "", err
	}
	if ev.Type == capture.EventRecordingFailed {
		return "", errors.Errorf("recording failed: %s", ev.Error)
	}
	return ev.URI, nil
}

// waitForEvent returns the first event of one of the wanted types.
func waitForEvent(ctx context.Context, events <-chan capture.Event, want ...capture.EventType) (capture.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return capture.Event{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return capture.Event{}, errors.New("event stream closed")
			}
			for _, w := range want {
				if ev.Type == w {
					return ev, nil
				}
			}
		}
	}
}

func listDevices(w io.Writer, devices []camera.DeviceInfo) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no video devices found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSTATUS")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Label, d.Status)
	}
	return tw.Flush()
}
