package camera

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourusername/blinkd/internal/client"
	"go.uber.org/zap"
)

// MiniCamera는 소형(owl) 카메라의 상태를 관리합니다
type MiniCamera struct {
	*BaseCamera
}

func newMiniCamera(api API, owner Owner, logger *zap.Logger) *MiniCamera {
	base := newBaseCamera(api, owner, logger)
	base.productType = ProductMini
	return &MiniCamera{BaseCamera: base}
}

// Update merges a discovery config. Mini cameras have no calibrated
// sensor endpoint, so the raw temperature doubles as the calibrated one.
func (c *MiniCamera) Update(ctx context.Context, config client.CameraConfig, forceCache, expireClips bool) {
	c.updateWith(ctx, config, forceCache, expireClips, c.copyRawTemperature, c.thumbnailFromConfig)
}

// SetArm toggles motion detection through the owl config endpoint.
func (c *MiniCamera) SetArm(ctx context.Context, enable bool) error {
	c.mu.RLock()
	networkID, cameraID := c.networkID, c.cameraID
	c.mu.RUnlock()
	return c.api.OwlConfigPost(ctx, networkID, cameraID, map[string]bool{"enabled": enable})
}

// SnapPicture asks the camera to capture a new thumbnail.
func (c *MiniCamera) SnapPicture(ctx context.Context) error {
	_, err := c.api.OwlThumbnail(ctx, c.networkID, c.cameraID)
	return err
}

// RecordClip is not supported by mini cameras.
func (c *MiniCamera) RecordClip(ctx context.Context) error {
	return fmt.Errorf("camera %q does not support on-demand clips", c.Name())
}

// RequestLiveview returns the raw liveview session response.
func (c *MiniCamera) RequestLiveview(ctx context.Context) (*client.LiveviewResponse, error) {
	return c.api.OwlLiveview(ctx, c.networkID, c.cameraID)
}

// LiveviewURL rewrites the vendor scheme into a player-usable rtsps link.
func (c *MiniCamera) LiveviewURL(ctx context.Context) (string, error) {
	resp, err := c.RequestLiveview(ctx)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(resp.Server, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unexpected liveview server %q", resp.Server)
	}
	return "rtsps:" + parts[1], nil
}

func (c *MiniCamera) copyRawTemperature(ctx context.Context) {
	c.mu.Lock()
	c.temperatureCal = c.temperature
	c.mu.Unlock()
}

// DoorbellCamera는 초인종(lotus) 카메라의 상태를 관리합니다
type DoorbellCamera struct {
	*BaseCamera
}

func newDoorbellCamera(api API, owner Owner, logger *zap.Logger) *DoorbellCamera {
	base := newBaseCamera(api, owner, logger)
	base.productType = ProductDoorbell
	return &DoorbellCamera{BaseCamera: base}
}

// Update merges a discovery config. Doorbells have no calibrated sensor
// endpoint either.
func (c *DoorbellCamera) Update(ctx context.Context, config client.CameraConfig, forceCache, expireClips bool) {
	c.updateWith(ctx, config, forceCache, expireClips, c.copyRawTemperature, c.thumbnailFromConfig)
}

// SetArm is a no-op: doorbell arming follows the network arm state.
func (c *DoorbellCamera) SetArm(ctx context.Context, enable bool) error {
	c.logger.Info("Doorbell arming follows the network state; ignoring request",
		zap.String("camera", c.Name()),
		zap.Bool("enable", enable),
	)
	return nil
}

// SnapPicture asks the doorbell to capture a new thumbnail.
func (c *DoorbellCamera) SnapPicture(ctx context.Context) error {
	_, err := c.api.DoorbellThumbnail(ctx, c.networkID, c.cameraID)
	return err
}

// RecordClip is not supported by doorbells.
func (c *DoorbellCamera) RecordClip(ctx context.Context) error {
	return fmt.Errorf("camera %q does not support on-demand clips", c.Name())
}

// RequestLiveview returns the raw liveview session response.
func (c *DoorbellCamera) RequestLiveview(ctx context.Context) (*client.LiveviewResponse, error) {
	return c.api.DoorbellLiveview(ctx, c.networkID, c.cameraID)
}

// LiveviewURL rewrites the vendor scheme into a player-usable rtsps link.
func (c *DoorbellCamera) LiveviewURL(ctx context.Context) (string, error) {
	resp, err := c.RequestLiveview(ctx)
	if err != nil {
		return "", err
	}
	return strings.Replace(resp.Server, "immis://", "rtsps://", 1), nil
}

func (c *DoorbellCamera) copyRawTemperature(ctx context.Context) {
	c.mu.Lock()
	c.temperatureCal = c.temperature
	c.mu.Unlock()
}
