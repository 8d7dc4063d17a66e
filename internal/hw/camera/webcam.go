package camera

import (
	"bytes"
	"context"
	"image/jpeg"
	"slices"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// WebcamConfig selects which video drivers act as the back and front facings.
// A label is matched as a substring of the driver label. Without labels the
// first driver found is the back facing and the second one the front facing.
type WebcamConfig struct {
	BackLabel   string
	FrontLabel  string
	JPEGQuality int
	Torch       Torch
}

// DeviceInfo describes one video input found on the host.
type DeviceInfo struct {
	ID     string
	Label  string
	Status string
}

// ListVideoDevices returns every video recorder the media driver manager knows about.
func ListVideoDevices() []DeviceInfo {
	mediadevicescamera.Initialize()
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	out := make([]DeviceInfo, 0, len(drivers))
	for _, d := range drivers {
		labels := strings.Split(d.Info().Label, mediadevicescamera.LabelSeparator)
		out = append(out, DeviceInfo{ID: d.ID(), Label: labels[0], Status: string(d.Status())})
	}
	return out
}

// Webcam is a Device backed by host video inputs through pion/mediadevices.
// Webcams have no optical zoom, so the zoom range is fixed at 1.
type Webcam struct {
	cfg     WebcamConfig
	logger  *zap.SugaredLogger
	drivers map[Facing]driverutils.Driver
	caps    map[Facing]Capabilities

	mu     sync.Mutex
	bound  *webcamControl
	closed bool
}

// OpenWebcam enumerates the host video inputs and assigns them to facings.
func OpenWebcam(ctx context.Context, cfg WebcamConfig, logger *zap.SugaredLogger) (*Webcam, error) {
	mediadevicescamera.Initialize()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	if len(drivers) == 0 {
		return nil, Unavailable(errors.New("no video input found"))
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}

	w := &Webcam{
		cfg:     cfg,
		logger:  logger,
		drivers: assignFacings(drivers, cfg),
		caps:    make(map[Facing]Capabilities),
	}
	for facing, d := range w.drivers {
		props, err := driverProperties(d)
		if err != nil {
			return nil, Unavailable(errors.Wrapf(err, "read properties of %s", d.Info().Label))
		}
		w.caps[facing] = capabilitiesFromProps(props, cfg.Torch != nil)
		logger.Infow("webcam facing assigned", "facing", facing, "label", d.Info().Label, "id", d.ID())
	}
	return w, nil
}

func assignFacings(drivers []driverutils.Driver, cfg WebcamConfig) map[Facing]driverutils.Driver {
	out := make(map[Facing]driverutils.Driver)
	match := func(label string) driverutils.Driver {
		if label == "" {
			return nil
		}
		for _, d := range drivers {
			if strings.Contains(d.Info().Label, label) {
				return d
			}
		}
		return nil
	}
	if d := match(cfg.BackLabel); d != nil {
		out[Back] = d
	}
	if d := match(cfg.FrontLabel); d != nil {
		out[Front] = d
	}
	rest := slices.DeleteFunc(slices.Clone(drivers), func(d driverutils.Driver) bool {
		return d == out[Back] || d == out[Front]
	})
	for _, facing := range []Facing{Back, Front} {
		if _, ok := out[facing]; !ok && len(rest) > 0 {
			out[facing] = rest[0]
			rest = rest[1:]
		}
	}
	return out
}

func driverProperties(d driverutils.Driver) (_ []prop.Media, err error) {
	if d.Status() == driverutils.StateClosed {
		if err := d.Open(); err != nil {
			return nil, err
		}
		defer func() {
			if errClose := d.Close(); errClose != nil && err == nil {
				err = errClose
			}
		}()
	}
	return d.Properties(), nil
}

func capabilitiesFromProps(props []prop.Media, hasTorch bool) Capabilities {
	caps := Capabilities{
		AspectRatios: []AspectRatio{},
		HasFlashUnit: hasTorch,
		ZoomMin:      1,
		ZoomMax:      1,
	}
	for _, p := range props {
		if p.Video.Width == 0 || p.Video.Height == 0 {
			continue
		}
		if q, ok := QualityForHeight(p.Video.Height); ok && !slices.Contains(caps.Qualities, q) {
			caps.Qualities = append(caps.Qualities, q)
		}
		ratio := Ratio4x3
		if p.Video.Width*9 == p.Video.Height*16 {
			ratio = Ratio16x9
		}
		if !slices.Contains(caps.AspectRatios, ratio) {
			caps.AspectRatios = append(caps.AspectRatios, ratio)
		}
		fps := int(p.Video.FrameRate + 0.5)
		if fps >= 60 && !slices.Contains(caps.FrameRates, 60) {
			caps.FrameRates = append(caps.FrameRates, 60)
		}
		if fps >= 30 && !slices.Contains(caps.FrameRates, 30) {
			caps.FrameRates = append(caps.FrameRates, 30)
		}
	}
	slices.Sort(caps.Qualities)
	slices.Sort(caps.AspectRatios)
	slices.Sort(caps.FrameRates)
	return caps
}

// Capabilities implements Device.
func (w *Webcam) Capabilities(facing Facing) (Capabilities, error) {
	caps, ok := w.caps[facing]
	if !ok {
		return Capabilities{}, errors.Wrapf(ErrDeviceUnavailable, "no %s facing", facing)
	}
	return caps, nil
}

// frameSize is what the track is opened with. FrameRate 0 leaves it free.
type frameSize struct {
	Width     int
	Height    int
	FrameRate int
}

// frameSizeFor sizes the track for the capture pipeline. A recording uses its
// quality and frame rate; a photo takes the highest quality the facing offers.
func frameSizeFor(caps Capabilities, pipelines []Pipeline) frameSize {
	if rec, ok := Find(pipelines, KindVideo); ok {
		h := rec.Quality.Height()
		return frameSize{Width: rec.AspectRatio.Width(h), Height: h, FrameRate: rec.FrameRate.Max}
	}
	q := QualityHD
	if n := len(caps.Qualities); n > 0 {
		q = caps.Qualities[n-1]
	}
	ratio := Ratio4x3
	if p, ok := Find(pipelines, KindPhoto); ok {
		ratio = p.AspectRatio
	} else if p, ok := Find(pipelines, KindPreview); ok {
		ratio = p.AspectRatio
	}
	h := q.Height()
	return frameSize{Width: ratio.Width(h), Height: h}
}

// Bind implements Device. It opens one video track for the facing.
func (w *Webcam) Bind(ctx context.Context, scope Scope, facing Facing, pipelines []Pipeline) (Control, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrDeviceUnavailable
	}
	if scope.Err() != nil {
		return nil, ErrScopeClosed
	}
	if w.bound != nil {
		return nil, ErrDeviceBusy
	}
	_, hasPhoto := Find(pipelines, KindPhoto)
	_, hasVideo := Find(pipelines, KindVideo)
	if hasPhoto && hasVideo {
		return nil, ErrUnsupportedCombination
	}
	d, ok := w.drivers[facing]
	if !ok {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "no %s facing", facing)
	}
	caps := w.caps[facing]
	for _, p := range pipelines {
		if err := checkPipeline(caps, p); err != nil {
			return nil, err
		}
	}

	size := frameSizeFor(caps, pipelines)
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(d.ID())
			c.Width = prop.Int(size.Width)
			c.Height = prop.Int(size.Height)
			if size.FrameRate > 0 {
				c.FrameRate = prop.Float(float64(size.FrameRate))
			}
		},
	})
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceBusy, "open %s: %v", d.Info().Label, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "no video track on %s", d.Info().Label)
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, errors.Errorf("unexpected track type %T", tracks[0])
	}

	ctrl := &webcamControl{
		w:         w,
		facing:    facing,
		pipelines: slices.Clone(pipelines),
		caps:      caps,
		track:     track,
		reader:    track.NewReader(false),
	}
	ctrl.live.Store(true)
	w.bound = ctrl
	w.logger.Debugw("webcam bound", "scope", scope.Name(), "facing", facing, "label", d.Info().Label)
	return ctrl, nil
}

// UnbindAll implements Device.
func (w *Webcam) UnbindAll(ctx context.Context) error {
	w.mu.Lock()
	ctrl := w.bound
	w.bound = nil
	w.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.release()
}

// Close implements Device.
func (w *Webcam) Close() error {
	err := w.UnbindAll(context.Background())
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}

type webcamControl struct {
	w         *Webcam
	facing    Facing
	pipelines []Pipeline
	caps      Capabilities

	readMu sync.Mutex
	track  *mediadevices.VideoTrack
	reader video.Reader
	live   atomic.Bool
	torch  atomic.Bool
}

func (c *webcamControl) release() error {
	if !c.live.Swap(false) {
		return nil
	}
	var err error
	if c.torch.Load() && c.w.cfg.Torch != nil {
		err = c.w.cfg.Torch.Set(false)
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if errClose := c.track.Close(); errClose != nil && err == nil {
		err = errClose
	}
	return err
}

func (c *webcamControl) Facing() Facing { return c.facing }

func (c *webcamControl) Pipelines() []Pipeline { return slices.Clone(c.pipelines) }

func (c *webcamControl) ZoomRange() (float64, float64) { return c.caps.ZoomMin, c.caps.ZoomMax }

func (c *webcamControl) ZoomRatio() float64 { return 1 }

func (c *webcamControl) SetZoomRatio(ratio float64) error {
	if !c.live.Load() {
		return ErrNotBound
	}
	if ratio != 1 {
		return errors.Errorf("zoom ratio %.2f not supported by webcam", ratio)
	}
	return nil
}

func (c *webcamControl) HasFlashUnit() bool { return c.caps.HasFlashUnit }

func (c *webcamControl) EnableTorch(on bool) error {
	if !c.live.Load() {
		return ErrNotBound
	}
	if c.w.cfg.Torch == nil {
		return ErrNoFlashUnit
	}
	if err := c.w.cfg.Torch.Set(on); err != nil {
		return err
	}
	c.torch.Store(on)
	return nil
}

// ReadFrame grabs one frame from the track and encodes it as JPEG.
func (c *webcamControl) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if !c.live.Load() {
		return nil, ErrNotBound
	}
	img, release, err := c.reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, errors.Wrap(err, "read frame")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.w.cfg.JPEGQuality}); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}
