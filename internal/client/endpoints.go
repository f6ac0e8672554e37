package client

import (
	"context"
	"fmt"
)

// Homescreen fetches the bulk discovery payload for the account.
func (c *Client) Homescreen(ctx context.Context) (*HomescreenResponse, error) {
	url := fmt.Sprintf("%s/api/v3/accounts/%d/homescreen", c.BaseURL(), c.auth.AccountID())
	var out HomescreenResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Networks fetches all networks on the account.
func (c *Client) Networks(ctx context.Context) (*NetworksResponse, error) {
	url := c.BaseURL() + "/networks"
	var out NetworksResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NetworkStatus fetches the current state of one network.
func (c *Client) NetworkStatus(ctx context.Context, networkID int) (*NetworkStatusResponse, error) {
	url := fmt.Sprintf("%s/network/%d", c.BaseURL(), networkID)
	var out NetworkStatusResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncModules fetches the sync module summary for one network.
func (c *Client) SyncModules(ctx context.Context, networkID int) (*SyncModuleResponse, error) {
	url := fmt.Sprintf("%s/network/%d/syncmodules", c.BaseURL(), networkID)
	var out SyncModuleResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cameras fetches the camera list for one network.
func (c *Client) Cameras(ctx context.Context, networkID int) (*CamerasResponse, error) {
	url := fmt.Sprintf("%s/network/%d/cameras", c.BaseURL(), networkID)
	var out CamerasResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CameraConfigInfo fetches the per-camera config endpoint.
func (c *Client) CameraConfigInfo(ctx context.Context, networkID, cameraID int) (*CameraConfig, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/config", c.BaseURL(), networkID, cameraID)
	var out struct {
		Camera []CameraConfig `json:"camera"`
	}
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	if len(out.Camera) == 0 {
		return nil, fmt.Errorf("%w: camera config missing for camera %d", ErrBadResponse, cameraID)
	}
	return &out.Camera[0], nil
}

// CameraSensors fetches the calibrated sensor endpoint for one camera.
func (c *Client) CameraSensors(ctx context.Context, networkID, cameraID int) (*SignalsResponse, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/signals", c.BaseURL(), networkID, cameraID)
	var out SignalsResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MediaChangedSince queries media records changed after the given
// blink-format timestamp.
func (c *Client) MediaChangedSince(ctx context.Context, since string, page int) (*MediaResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/media/changed?since=%s&page=%d",
		c.BaseURL(), c.auth.AccountID(), since, page)
	var out MediaResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArmNetwork arms the given network.
func (c *Client) ArmNetwork(ctx context.Context, networkID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/state/arm",
		c.BaseURL(), c.auth.AccountID(), networkID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisarmNetwork disarms the given network.
func (c *Client) DisarmNetwork(ctx context.Context, networkID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/state/disarm",
		c.BaseURL(), c.auth.AccountID(), networkID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableMotion enables motion detection for one camera.
func (c *Client) EnableMotion(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/enable", c.BaseURL(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisableMotion disables motion detection for one camera.
func (c *Client) DisableMotion(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/disable", c.BaseURL(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewThumbnail asks the camera to capture a fresh thumbnail.
func (c *Client) NewThumbnail(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/thumbnail", c.BaseURL(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewClip asks the camera to record a fresh clip.
func (c *Client) NewClip(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/network/%d/camera/%d/clip", c.BaseURL(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Liveview requests a liveview session for a generic camera.
func (c *Client) Liveview(ctx context.Context, networkID, cameraID int) (*LiveviewResponse, error) {
	url := fmt.Sprintf("%s/api/v5/accounts/%d/networks/%d/cameras/%d/liveview",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	var out LiveviewResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OwlLiveview requests a liveview session for a mini camera.
func (c *Client) OwlLiveview(ctx context.Context, networkID, cameraID int) (*LiveviewResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/owls/%d/liveview",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	var out LiveviewResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DoorbellLiveview requests a liveview session for a doorbell camera.
func (c *Client) DoorbellLiveview(ctx context.Context, networkID, cameraID int) (*LiveviewResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/doorbells/%d/liveview",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	var out LiveviewResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OwlConfigPost updates a mini camera's config, e.g. its enabled state.
func (c *Client) OwlConfigPost(ctx context.Context, networkID, cameraID int, body any) error {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/owls/%d/config",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	return c.PostJSON(ctx, url, body, nil)
}

// OwlThumbnail asks a mini camera to capture a fresh thumbnail.
func (c *Client) OwlThumbnail(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/owls/%d/thumbnail",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DoorbellThumbnail asks a doorbell camera to capture a fresh thumbnail.
func (c *Client) DoorbellThumbnail(ctx context.Context, networkID, cameraID int) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/doorbells/%d/thumbnail",
		c.BaseURL(), c.auth.AccountID(), networkID, cameraID)
	var out CommandResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestLocalStorageManifest asks the sync module to build an updated
// manifest of locally stored clips. The build completes asynchronously.
func (c *Client) RequestLocalStorageManifest(ctx context.Context, networkID, syncID int) (*ManifestRequestResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/sync_modules/%d/local_storage/manifest/request",
		c.BaseURL(), c.auth.AccountID(), networkID, syncID)
	var out ManifestRequestResponse
	if err := c.PostJSON(ctx, url, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLocalStorageManifest polls a previously requested manifest build.
func (c *Client) GetLocalStorageManifest(ctx context.Context, networkID, syncID int, requestID int64) (*ManifestResponse, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/networks/%d/sync_modules/%d/local_storage/manifest/request/%d",
		c.BaseURL(), c.auth.AccountID(), networkID, syncID, requestID)
	var out ManifestResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PrepareLocalStorageClip stages a locally stored clip for download.
func (c *Client) PrepareLocalStorageClip(ctx context.Context, networkID, syncID int, manifestID, clipID string) error {
	url := c.BaseURL() + c.LocalStorageClipURL(networkID, syncID, manifestID, clipID)
	return c.PostJSON(ctx, url, nil, nil)
}

// CommandStatus checks the status of an asynchronous command.
func (c *Client) CommandStatus(ctx context.Context, networkID int, commandID int64) (*CommandResponse, error) {
	url := fmt.Sprintf("%s/network/%d/command/%d", c.BaseURL(), networkID, commandID)
	var out CommandResponse
	if err := c.GetJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the current client session.
func (c *Client) Logout(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v4/account/%d/client/%d/logout",
		c.BaseURL(), c.auth.AccountID(), c.auth.ClientID())
	return c.PostJSON(ctx, url, nil, nil)
}
