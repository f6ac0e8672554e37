package client

// SyncModuleSummary is the per-module summary returned by the sync
// module endpoint.
type SyncModuleSummary struct {
	ID                     int    `json:"id"`
	NetworkID              int    `json:"network_id"`
	Name                   string `json:"name"`
	Serial                 string `json:"serial"`
	Status                 string `json:"status"`
	LocalStorageEnabled    bool   `json:"local_storage_enabled"`
	LocalStorageCompatible bool   `json:"local_storage_compatible"`
	LocalStorageStatus     string `json:"local_storage_status"`
}

// SyncModuleResponse wraps the sync module summary list.
type SyncModuleResponse struct {
	SyncModule *SyncModuleSummary `json:"syncmodule"`
}

// NetworkStatus describes a network's current state.
type NetworkStatus struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Armed           bool   `json:"armed"`
	SyncModuleError bool   `json:"sync_module_error"`
}

// NetworkStatusResponse wraps a single network status.
type NetworkStatusResponse struct {
	Network *NetworkStatus `json:"network"`
}

// NetworksResponse lists all networks on the account.
type NetworksResponse struct {
	Networks []struct {
		ID        int    `json:"id"`
		AccountID int    `json:"account_id"`
		Name      string `json:"name"`
	} `json:"networks"`
}

// CameraConfig is the discovery payload for a single camera. The same
// shape appears in the camera list endpoint and the homescreen payload.
type CameraConfig struct {
	ID           int    `json:"id"`
	NetworkID    int    `json:"network_id"`
	Name         string `json:"name"`
	Serial       string `json:"serial"`
	Type         string `json:"type"`
	Enabled      bool   `json:"enabled"`
	Battery      string `json:"battery"`
	BatteryState string `json:"battery_state"`
	Temperature  int    `json:"temperature"`
	WifiStrength int    `json:"wifi_strength"`
	// Thumbnail is either a full timestamped media path (old API shape)
	// or a bare numeric timestamp (new API shape).
	Thumbnail string `json:"thumbnail"`
}

// CamerasResponse wraps the camera list endpoint payload.
type CamerasResponse struct {
	DeviceStatus []CameraConfig `json:"devicestatus"`
}

// HomescreenNetwork is the per-network slice of the homescreen payload.
type HomescreenNetwork struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Armed bool   `json:"armed"`
}

// HomescreenResponse is the bulk discovery payload for the account.
type HomescreenResponse struct {
	Networks    []HomescreenNetwork `json:"networks"`
	SyncModules []SyncModuleSummary `json:"sync_modules"`
	Cameras     []CameraConfig      `json:"cameras"`
	Owls        []CameraConfig      `json:"owls"`
	Doorbells   []CameraConfig      `json:"doorbells"`
}

// MediaClip is one entry of the changed-media endpoint.
type MediaClip struct {
	ID         int64  `json:"id"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	Deleted    bool   `json:"deleted"`
	Device     string `json:"device"`
	DeviceID   int    `json:"device_id"`
	DeviceName string `json:"device_name"`
	NetworkID  int    `json:"network_id"`
	Source     string `json:"source"`
	Media      string `json:"media"`
	Thumbnail  string `json:"thumbnail"`
}

// MediaResponse wraps the changed-media endpoint payload.
type MediaResponse struct {
	Limit int         `json:"limit"`
	Media []MediaClip `json:"media"`
}

// ManifestRequestResponse acknowledges a manifest build request.
type ManifestRequestResponse struct {
	ID        int64 `json:"id"`
	NetworkID int   `json:"network_id"`
}

// ManifestClip is one locally stored clip entry inside a manifest.
type ManifestClip struct {
	ID         string `json:"id"`
	Size       string `json:"size"`
	CameraName string `json:"camera_name"`
	CreatedAt  string `json:"created_at"`
}

// ManifestResponse is the manifest poll payload. Clips is nil while the
// manifest build is still pending.
type ManifestResponse struct {
	ManifestID string         `json:"manifest_id"`
	Clips      []ManifestClip `json:"clips"`
}

// LiveviewResponse is returned when a liveview session is requested.
type LiveviewResponse struct {
	CommandID       int64  `json:"command_id"`
	Server          string `json:"server"`
	PollingInterval int    `json:"polling_interval"`
	Duration        int    `json:"duration"`
}

// CommandResponse reports the status of an asynchronous command.
type CommandResponse struct {
	ID         int64  `json:"id"`
	NetworkID  int    `json:"network_id"`
	Complete   bool   `json:"complete"`
	Status     string `json:"status"`
	StatusMsg  string `json:"status_msg"`
	StatusCode int    `json:"status_code"`
}

// SignalsResponse is the per-camera sensor endpoint payload.
type SignalsResponse struct {
	LFR     int `json:"lfr"`
	WiFi    int `json:"wifi"`
	Temp    int `json:"temp"`
	Battery int `json:"battery"`
}
