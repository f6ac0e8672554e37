package camera

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
	"go.uber.org/zap"
)

// DefaultClipRetention bounds the recent-clips list of a long-running
// process.
const DefaultClipRetention = time.Hour

// API is the request facade the camera layer consumes.
type API interface {
	AbsURL(path string) string
	GetBytes(ctx context.Context, url string) ([]byte, error)
	PostJSON(ctx context.Context, url string, body, out any) error
	CameraSensors(ctx context.Context, networkID, cameraID int) (*client.SignalsResponse, error)
	EnableMotion(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	DisableMotion(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	NewThumbnail(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	NewClip(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	Liveview(ctx context.Context, networkID, cameraID int) (*client.LiveviewResponse, error)
	OwlLiveview(ctx context.Context, networkID, cameraID int) (*client.LiveviewResponse, error)
	DoorbellLiveview(ctx context.Context, networkID, cameraID int) (*client.LiveviewResponse, error)
	OwlConfigPost(ctx context.Context, networkID, cameraID int, body any) error
	OwlThumbnail(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	DoorbellThumbnail(ctx context.Context, networkID, cameraID int) (*client.CommandResponse, error)
	AccountID() int
	BaseURL() string
}

// Owner is the sync module view a camera reads shared state from.
type Owner interface {
	Name() string
	NetworkID() int
	Armed() bool
	MotionDetected(cameraName string) bool
	LastRecords(cameraName string) []Record
}

// Record is one recent clip record held by the sync module.
type Record struct {
	Time string
	Clip string
}

// Clip is one entry of a camera's recent-clips list.
type Clip struct {
	Time string `json:"time"`
	Clip string `json:"clip"`
}

// Camera is the capability contract shared by all camera variants.
type Camera interface {
	Name() string
	ID() int
	ProductType() ProductType
	// Update merges a discovery config into the camera state and
	// refreshes media caches per the cache policy.
	Update(ctx context.Context, config client.CameraConfig, forceCache, expireClips bool)
	Arm() bool
	SetArm(ctx context.Context, enable bool) error
	SnapPicture(ctx context.Context) error
	RecordClip(ctx context.Context) error
	// RequestLiveview returns the raw liveview session response.
	RequestLiveview(ctx context.Context) (*client.LiveviewResponse, error)
	// LiveviewURL returns a player-usable rtsps link.
	LiveviewURL(ctx context.Context) (string, error)
	Attributes() map[string]any
	RecentClips() []Clip
	ExpireRecentClips(ctx context.Context, delta time.Duration)
	// SetClipRetention overrides the retention window applied during
	// Update; the default is DefaultClipRetention.
	SetClipRetention(delta time.Duration)
	CachedImage() []byte
	CachedVideo() []byte
	ImageToFile(ctx context.Context, path string) error
	VideoToFile(ctx context.Context, path string) error
}

// BaseCamera는 일반 카메라의 상태를 관리합니다
type BaseCamera struct {
	api    API
	owner  Owner
	logger *zap.Logger

	mu             sync.RWMutex
	name           string
	cameraID       int
	networkID      int
	serial         string
	productType    ProductType
	motionEnabled  bool
	motionDetected bool
	batteryState   string
	temperature    int
	temperatureCal int
	wifiStrength   int
	thumbnailURL   string
	clipURL        string
	lastRecord     string
	recentClips    []Clip
	cachedImage    []byte
	cachedVideo    []byte
	clipRetention  time.Duration
}

func newBaseCamera(api API, owner Owner, logger *zap.Logger) *BaseCamera {
	return &BaseCamera{
		api:           api,
		owner:         owner,
		logger:        logger,
		productType:   ProductDefault,
		clipRetention: DefaultClipRetention,
	}
}

// Name returns the camera name from the last discovery merge.
func (c *BaseCamera) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// ID returns the numeric camera id.
func (c *BaseCamera) ID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cameraID
}

// ProductType returns the camera variant.
func (c *BaseCamera) ProductType() ProductType {
	return c.productType
}

// Arm reports whether per-camera motion detection is enabled.
func (c *BaseCamera) Arm() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.motionEnabled
}

// SetArm enables or disables motion detection for this camera.
func (c *BaseCamera) SetArm(ctx context.Context, enable bool) error {
	c.mu.RLock()
	networkID, cameraID := c.networkID, c.cameraID
	c.mu.RUnlock()

	var err error
	if enable {
		_, err = c.api.EnableMotion(ctx, networkID, cameraID)
	} else {
		_, err = c.api.DisableMotion(ctx, networkID, cameraID)
	}
	return err
}

// SnapPicture asks the camera to capture a new thumbnail.
func (c *BaseCamera) SnapPicture(ctx context.Context) error {
	_, err := c.api.NewThumbnail(ctx, c.networkID, c.cameraID)
	return err
}

// RecordClip asks the camera to record a new clip.
func (c *BaseCamera) RecordClip(ctx context.Context) error {
	_, err := c.api.NewClip(ctx, c.networkID, c.cameraID)
	return err
}

// RequestLiveview returns the raw liveview session response.
func (c *BaseCamera) RequestLiveview(ctx context.Context) (*client.LiveviewResponse, error) {
	return c.api.Liveview(ctx, c.networkID, c.cameraID)
}

// LiveviewURL returns the vendor streaming endpoint unchanged; generic
// cameras stream through the relay, not a direct rtsps link.
func (c *BaseCamera) LiveviewURL(ctx context.Context) (string, error) {
	resp, err := c.RequestLiveview(ctx)
	if err != nil {
		return "", err
	}
	return resp.Server, nil
}

// Update merges a discovery config into the camera state.
func (c *BaseCamera) Update(ctx context.Context, config client.CameraConfig, forceCache, expireClips bool) {
	c.updateWith(ctx, config, forceCache, expireClips, c.fetchSensorInfo, c.thumbnailFromConfig)
}

// updateWith runs the shared merge with variant-specific hooks. sensors
// may be nil for variants without a calibrated sensor endpoint.
func (c *BaseCamera) updateWith(
	ctx context.Context,
	config client.CameraConfig,
	forceCache, expireClips bool,
	sensors func(ctx context.Context),
	thumbnail func(config client.CameraConfig) string,
) {
	c.extractConfig(config)

	if sensors != nil {
		sensors(ctx)
	}

	if expireClips {
		c.mu.RLock()
		retention := c.clipRetention
		c.mu.RUnlock()
		c.ExpireRecentClips(ctx, retention)
	}

	newThumbnail := thumbnail(config)
	c.updateMedia(ctx, newThumbnail, forceCache)
}

// extractConfig merges the authoritative discovery fields.
func (c *BaseCamera) extractConfig(config client.CameraConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.name = config.Name
	c.cameraID = config.ID
	c.networkID = config.NetworkID
	c.serial = config.Serial
	c.motionEnabled = config.Enabled
	c.temperature = config.Temperature
	c.wifiStrength = config.WifiStrength
	if config.BatteryState != "" {
		c.batteryState = config.BatteryState
	} else if config.Battery != "" {
		c.batteryState = config.Battery
	}
}

// fetchSensorInfo retrieves the calibrated temperature. Failure is
// non-fatal: the raw temperature is used instead.
func (c *BaseCamera) fetchSensorInfo(ctx context.Context) {
	c.mu.RLock()
	networkID, cameraID := c.networkID, c.cameraID
	c.mu.RUnlock()

	resp, err := c.api.CameraSensors(ctx, networkID, cameraID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil || resp == nil {
		c.temperatureCal = c.temperature
		c.logger.Warn("Could not retrieve calibrated temperature",
			zap.String("camera", c.name),
			zap.Error(err),
		)
		return
	}
	c.temperatureCal = resp.Temp
}

// thumbnailFromConfig derives the fully qualified thumbnail URL,
// handling both historical API shapes.
func (c *BaseCamera) thumbnailFromConfig(config client.CameraConfig) string {
	if config.Thumbnail == "" {
		c.logger.Warn("Could not find thumbnail for camera", zap.String("camera", config.Name))
		return ""
	}

	addr := config.Thumbnail
	if _, err := strconv.ParseInt(addr, 10, 64); err == nil {
		// New API shape: a bare numeric timestamp that must be expanded
		// into the media template.
		path := fmt.Sprintf("/api/v3/media/accounts/%d/networks/%d/%s/%d/thumbnail/thumbnail.jpg?ts=%s&ext=",
			c.api.AccountID(), config.NetworkID, string(c.productType), config.ID, addr)
		return c.api.AbsURL(path)
	}

	// Old API shape: a full path, possibly already carrying the new
	// template suffix.
	if strings.HasSuffix(addr, "&ext=") {
		return c.api.AbsURL(addr)
	}
	return c.api.AbsURL(addr + ".jpg")
}

// updateMedia applies motion state, recent clips and the cache policy.
func (c *BaseCamera) updateMedia(ctx context.Context, newThumbnail string, forceCache bool) {
	c.mu.Lock()

	c.motionDetected = c.owner.MotionDetected(c.name)

	records := append([]Record(nil), c.owner.LastRecords(c.name)...)
	sort.SliceStable(records, func(i, j int) bool {
		ti, erri := core.ParseTimestamp(records[i].Time)
		tj, errj := core.ParseTimestamp(records[j].Time)
		if erri != nil || errj != nil {
			return false
		}
		return ti.Before(tj)
	})

	var clipAddr string
	if len(records) > 0 {
		last := records[len(records)-1]
		clipAddr = last.Clip
		c.lastRecord = last.Time
		c.clipURL = c.api.AbsURL(last.Clip)
	}

	if c.motionDetected {
		for _, rec := range records {
			entry := Clip{Time: rec.Time, Clip: rec.Clip}
			if !c.hasClipLocked(entry) {
				c.recentClips = append(c.recentClips, entry)
			}
		}
	}

	updateImage := newThumbnail != c.thumbnailURL || c.cachedImage == nil
	c.thumbnailURL = newThumbnail
	updateVideo := c.cachedVideo == nil || c.motionDetected

	thumbURL := c.thumbnailURL
	clipURL := c.clipURL
	c.mu.Unlock()

	if thumbURL != "" && (updateImage || forceCache) {
		if data, err := c.api.GetBytes(ctx, thumbURL); err != nil {
			c.logger.Warn("Failed to cache thumbnail",
				zap.String("camera", c.Name()),
				zap.Error(err),
			)
		} else {
			c.mu.Lock()
			c.cachedImage = data
			c.mu.Unlock()
		}
	}

	if clipAddr != "" && (updateVideo || forceCache) {
		if data, err := c.api.GetBytes(ctx, clipURL); err != nil {
			c.logger.Warn("Failed to cache clip",
				zap.String("camera", c.Name()),
				zap.Error(err),
			)
		} else {
			c.mu.Lock()
			c.cachedVideo = data
			c.mu.Unlock()
		}
	}
}

func (c *BaseCamera) hasClipLocked(entry Clip) bool {
	for _, existing := range c.recentClips {
		if existing == entry {
			return true
		}
	}
	return false
}

// RecentClips returns a copy of the bounded recent-clips list.
func (c *BaseCamera) RecentClips() []Clip {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Clip(nil), c.recentClips...)
}

// SetClipRetention overrides the retention window Update applies.
func (c *BaseCamera) SetClipRetention(delta time.Duration) {
	if delta <= 0 {
		delta = DefaultClipRetention
	}
	c.mu.Lock()
	c.clipRetention = delta
	c.mu.Unlock()
}

// ExpireRecentClips drops clip records older than the retention window.
// Expiring local-storage clips fire a best-effort staging POST so the
// server-side processing state stays consistent.
func (c *BaseCamera) ExpireRecentClips(ctx context.Context, delta time.Duration) {
	cutoff := time.Now().UTC().Add(-delta)

	c.mu.Lock()
	kept := c.recentClips[:0:0]
	var expired []Clip
	for _, clip := range c.recentClips {
		t, err := core.ParseTimestamp(clip.Time)
		if err == nil && t.Before(cutoff) {
			expired = append(expired, clip)
			continue
		}
		kept = append(kept, clip)
	}
	c.recentClips = kept
	name := c.name
	c.mu.Unlock()

	for _, clip := range expired {
		if client.IsLocalStorageClipURL(clip.Clip) {
			// Fire and forget: expiry must not fail the update cycle.
			if err := c.api.PostJSON(ctx, c.api.AbsURL(clip.Clip), nil, nil); err != nil {
				c.logger.Debug("Local storage clip expiry poke failed",
					zap.String("camera", name),
					zap.Error(err),
				)
			}
		}
	}
	if len(expired) > 0 {
		c.logger.Debug("Expired recent clips",
			zap.String("camera", name),
			zap.Int("expired", len(expired)),
			zap.Int("remaining", len(kept)),
		)
	}
}

// CachedImage returns the most recently fetched thumbnail bytes.
func (c *BaseCamera) CachedImage() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedImage
}

// CachedVideo returns the most recently fetched clip bytes.
func (c *BaseCamera) CachedVideo() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cachedVideo
}

// ImageToFile writes the current thumbnail to path, fetching it first
// if nothing is cached yet.
func (c *BaseCamera) ImageToFile(ctx context.Context, path string) error {
	c.mu.RLock()
	data, url := c.cachedImage, c.thumbnailURL
	c.mu.RUnlock()

	if data == nil {
		if url == "" {
			return fmt.Errorf("camera %q has no thumbnail", c.Name())
		}
		fetched, err := c.api.GetBytes(ctx, url)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.cachedImage = fetched
		c.mu.Unlock()
		data = fetched
	}
	return os.WriteFile(path, data, 0o644)
}

// VideoToFile writes the most recent clip to path, fetching it first if
// nothing is cached yet.
func (c *BaseCamera) VideoToFile(ctx context.Context, path string) error {
	c.mu.RLock()
	data, url := c.cachedVideo, c.clipURL
	c.mu.RUnlock()

	if data == nil {
		if url == "" {
			return fmt.Errorf("camera %q has no recorded clip", c.Name())
		}
		fetched, err := c.api.GetBytes(ctx, url)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.cachedVideo = fetched
		c.mu.Unlock()
		data = fetched
	}
	return os.WriteFile(path, data, 0o644)
}

// temperatureC converts the raw fahrenheit reading to celsius.
func temperatureC(f int) float64 {
	return float64(int(float64(f-32)/9.0*5.0*10+0.5)) / 10
}

// Attributes returns the camera attribute map exposed to consumers.
func (c *BaseCamera) Attributes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]any{
		"name":                   c.name,
		"camera_id":              c.cameraID,
		"serial":                 c.serial,
		"temperature":            c.temperature,
		"temperature_c":          temperatureC(c.temperature),
		"temperature_calibrated": c.temperatureCal,
		"battery":                c.batteryState,
		"thumbnail":              c.thumbnailURL,
		"video":                  c.clipURL,
		"recent_clips":           append([]Clip(nil), c.recentClips...),
		"motion_enabled":         c.motionEnabled,
		"motion_detected":        c.motionDetected,
		"wifi_strength":          c.wifiStrength,
		"network_id":             c.networkID,
		"sync_module":            c.owner.Name(),
		"last_record":            c.lastRecord,
		"type":                   string(c.productType),
	}
}
