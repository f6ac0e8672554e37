package syncmodule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/blinkd/internal/camera"
	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
	"go.uber.org/zap"
)

// manifestReadSkew backdates the manifest read watermark so clips that
// land while a manifest build is in flight are not missed.
const manifestReadSkew = 10 * time.Second

// state는 동기화 모듈의 초기화 진행 단계입니다
type state int

const (
	stateUninitialized state = iota
	stateSummaryFetched
	stateNetworkValidated
	stateCamerasPopulated
	stateAvailable
	stateUnavailable
)

func (s state) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateSummaryFetched:
		return "summary_fetched"
	case stateNetworkValidated:
		return "network_validated"
	case stateCamerasPopulated:
		return "cameras_populated"
	case stateAvailable:
		return "available"
	case stateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// CameraInfo pairs a discovery config with the variant it maps to.
type CameraInfo struct {
	Config  client.CameraConfig
	Product camera.ProductType
}

// Options configure one sync module.
type Options struct {
	Name      string
	NetworkID int
	// Owned is false for the synthetic module that holds standalone
	// mini and doorbell cameras. Unowned modules skip the summary
	// fetch and never use local storage.
	Owned bool
	// InitialArmed seeds the arm state for unowned modules, which have
	// no network status endpoint of their own.
	InitialArmed bool
	// MotionInterval widens the changed-media lookback window.
	MotionInterval time.Duration
	// LocalStorage gates the manifest protocol on top of the
	// capability flags reported by the module summary.
	LocalStorage   bool
	ManifestPolicy client.RetryPolicy
	// ClipRetention bounds each camera's recent-clips list. Zero means
	// the camera default.
	ClipRetention time.Duration
}

// Module is the refresh engine for one sync module and its cameras.
type Module struct {
	api    *client.Client
	logger *zap.Logger
	opts   Options

	// refreshMu serializes Start and Refresh; mu guards the state
	// below and is never held across a network call.
	refreshMu sync.Mutex
	mu        sync.RWMutex

	state   state
	syncID  int
	serial  string
	status  string
	armed   bool
	cameras *CameraMap
	// nameTable maps the alphanumeric-normalized device name the
	// storage firmware reports back to the canonical camera name.
	nameTable   map[string]string
	motion      map[string]bool
	lastRecords map[string][]camera.Record
	lastRefresh time.Time

	localStorage     bool
	manifest         *Manifest
	lastManifestRead time.Time
}

func New(api *client.Client, logger *zap.Logger, opts Options) *Module {
	if opts.ManifestPolicy.MaxAttempts == 0 {
		opts.ManifestPolicy = client.DefaultManifestPolicy
	}
	return &Module{
		api:         api,
		logger:      logger,
		opts:        opts,
		cameras:     NewCameraMap(),
		nameTable:   make(map[string]string),
		motion:      make(map[string]bool),
		lastRecords: make(map[string][]camera.Record),
		armed:       opts.InitialArmed,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.opts.Name
}

// NetworkID returns the network this module belongs to.
func (m *Module) NetworkID() int {
	return m.opts.NetworkID
}

// SyncID returns the module id from the summary fetch.
func (m *Module) SyncID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncID
}

// Armed reports the cached network arm state.
func (m *Module) Armed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.armed
}

// SetArmed overrides the cached arm state. Used for unowned modules
// whose arm state comes from homescreen data.
func (m *Module) SetArmed(armed bool) {
	m.mu.Lock()
	m.armed = armed
	m.mu.Unlock()
}

// ManifestSize returns the number of locally stored clip records.
func (m *Module) ManifestSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifest == nil {
		return 0
	}
	return m.manifest.Len()
}

// Available reports whether startup completed.
func (m *Module) Available() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateAvailable
}

// Cameras returns the module's camera map.
func (m *Module) Cameras() *CameraMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cameras
}

// MotionDetected reports whether the named camera flagged motion in the
// last refresh cycle.
func (m *Module) MotionDetected(cameraName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.motion[strings.ToLower(cameraName)]
}

// LastRecords returns the recent clip records of the named camera.
func (m *Module) LastRecords(cameraName string) []camera.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]camera.Record(nil), m.lastRecords[strings.ToLower(cameraName)]...)
}

// Start brings the module up: summary fetch, network validation, camera
// population, manifest priming. A soft failure leaves the module
// unavailable and returns false; Start never panics on malformed data.
func (m *Module) Start(ctx context.Context, infos []CameraInfo) bool {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.opts.Owned {
		if !m.fetchSummary(ctx) {
			m.setState(stateUnavailable)
			return false
		}
		m.setState(stateSummaryFetched)

		if !m.validateNetwork(ctx) {
			m.setState(stateUnavailable)
			return false
		}
		m.setState(stateNetworkValidated)
	}

	m.populateCameras(ctx, infos)
	m.setState(stateCamerasPopulated)

	if m.localStorageActive() {
		if err := m.updateLocalStorageManifest(ctx); err != nil {
			m.logger.Warn("Local storage manifest priming failed",
				zap.String("module", m.opts.Name),
				zap.Error(err),
			)
		}
	}

	m.setState(stateAvailable)
	m.logger.Info("Sync module started",
		zap.String("module", m.opts.Name),
		zap.Int("network_id", m.opts.NetworkID),
		zap.Int("cameras", m.cameras.Len()),
	)
	return true
}

// Refresh runs one full update cycle. It never returns an error:
// network validation soft-fails and per-camera failures stay isolated.
func (m *Module) Refresh(ctx context.Context, force bool, infos []CameraInfo) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.opts.Owned && !m.validateNetwork(ctx) {
		m.logger.Warn("Network validation failed during refresh",
			zap.String("module", m.opts.Name),
		)
	}

	if m.localStorageActive() {
		if err := m.updateLocalStorageManifest(ctx); err != nil {
			m.logger.Warn("Local storage manifest update failed",
				zap.String("module", m.opts.Name),
				zap.Error(err),
			)
		}
	}

	m.CheckNewVideos(ctx)

	for _, info := range infos {
		cam, ok := m.cameras.Get(info.Config.Name)
		if !ok {
			cam = m.addCamera(info)
		}
		cam.Update(ctx, info.Config, force, true)
	}

	m.mu.Lock()
	m.lastRefresh = time.Now().UTC()
	m.mu.Unlock()
}

// CheckNewVideos polls the changed-media endpoint and rebuilds the
// motion and record state. It returns false, without panicking, when
// there is nothing usable to poll against.
func (m *Module) CheckNewVideos(ctx context.Context) bool {
	m.mu.RLock()
	lastRefresh := m.lastRefresh
	m.mu.RUnlock()

	if lastRefresh.IsZero() {
		// First cycle establishes the watermark only.
		return false
	}

	since := lastRefresh.Add(-m.opts.MotionInterval)
	resp, err := m.api.MediaChangedSince(ctx, core.FormatTimestamp(since), 1)
	if err != nil || resp == nil {
		m.logger.Warn("Could not poll changed media",
			zap.String("module", m.opts.Name),
			zap.Error(err),
		)
		m.resetMotion()
		return false
	}

	newMotion := make(map[string]bool)
	for _, name := range m.cameras.Names() {
		newMotion[strings.ToLower(name)] = false
	}
	newRecords := make(map[string][]camera.Record)

	if resp.Media == nil {
		m.mu.Lock()
		m.motion = newMotion
		m.mu.Unlock()
		return false
	}

	m.mu.RLock()
	armed := m.armed
	m.mu.RUnlock()

	for _, clip := range resp.Media {
		if clip.Deleted || clip.DeviceName == "" || clip.Media == "" || clip.CreatedAt == "" {
			continue
		}
		if clip.NetworkID != 0 && clip.NetworkID != m.opts.NetworkID {
			continue
		}
		isNew, err := CheckNewVideoTime(clip.CreatedAt, lastRefresh)
		if err != nil {
			m.logger.Debug("Skipping media entry with bad timestamp",
				zap.String("module", m.opts.Name),
				zap.String("created_at", clip.CreatedAt),
			)
			continue
		}
		if !isNew {
			continue
		}
		key := strings.ToLower(clip.DeviceName)
		newMotion[key] = armed
		newRecords[key] = append(newRecords[key], camera.Record{
			Time: clip.CreatedAt,
			Clip: clip.Media,
		})
	}

	for key, records := range newRecords {
		sortRecords(records)
		newRecords[key] = records
	}

	// A camera with no new records this cycle keeps only its previous
	// latest record so the clip cache stays addressable.
	m.mu.Lock()
	for key, prev := range m.lastRecords {
		if _, ok := newRecords[key]; !ok && len(prev) > 0 {
			newRecords[key] = prev[len(prev)-1:]
		}
	}
	m.motion = newMotion
	m.lastRecords = newRecords
	m.mu.Unlock()

	if m.localStorageActive() {
		m.checkNewLocalVideos(ctx)
	}
	return true
}

// CheckNewVideoTime reports whether ts is strictly after ref. Both
// offset-aware and naive timestamps are accepted; naive means UTC.
func CheckNewVideoTime(ts string, ref time.Time) (bool, error) {
	t, err := core.ParseTimestamp(ts)
	if err != nil {
		return false, err
	}
	return t.After(ref), nil
}

func sortRecords(records []camera.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, erri := core.ParseTimestamp(records[i].Time)
		tj, errj := core.ParseTimestamp(records[j].Time)
		if erri != nil || errj != nil {
			return false
		}
		return ti.Before(tj)
	})
}

// Attributes returns the module attribute map exposed to consumers.
func (m *Module) Attributes() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attrs := map[string]any{
		"name":          m.opts.Name,
		"id":            m.syncID,
		"network_id":    m.opts.NetworkID,
		"serial":        m.serial,
		"status":        m.status,
		"state":         m.state.String(),
		"armed":         m.armed,
		"cameras":       m.cameras.Names(),
		"local_storage": m.localStorage,
	}
	if !m.lastRefresh.IsZero() {
		attrs["last_refresh"] = core.FormatTimestamp(m.lastRefresh)
	}
	return attrs
}

// Arm changes the network arm state through the cloud API.
func (m *Module) Arm(ctx context.Context, enable bool) error {
	var err error
	if enable {
		_, err = m.api.ArmNetwork(ctx, m.opts.NetworkID)
	} else {
		_, err = m.api.DisarmNetwork(ctx, m.opts.NetworkID)
	}
	if err != nil {
		return err
	}
	m.SetArmed(enable)
	return nil
}

func (m *Module) setState(s state) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Module) resetMotion() {
	m.mu.Lock()
	for key := range m.motion {
		m.motion[key] = false
	}
	m.mu.Unlock()
}

// fetchSummary retrieves the module summary. Malformed payloads are a
// logged soft failure.
func (m *Module) fetchSummary(ctx context.Context) bool {
	resp, err := m.api.SyncModules(ctx, m.opts.NetworkID)
	if err != nil || resp == nil || resp.SyncModule == nil {
		m.logger.Error("Could not retrieve sync module summary",
			zap.String("module", m.opts.Name),
			zap.Int("network_id", m.opts.NetworkID),
			zap.Error(err),
		)
		return false
	}

	summary := resp.SyncModule
	m.mu.Lock()
	m.syncID = summary.ID
	m.serial = summary.Serial
	m.status = summary.Status
	m.localStorage = m.opts.LocalStorage &&
		summary.LocalStorageCompatible && summary.LocalStorageEnabled
	m.mu.Unlock()
	return true
}

// validateNetwork refreshes the arm state and checks the module error
// flag reported by the network.
func (m *Module) validateNetwork(ctx context.Context) bool {
	resp, err := m.api.NetworkStatus(ctx, m.opts.NetworkID)
	if err != nil || resp == nil || resp.Network == nil {
		m.logger.Error("Could not retrieve network status",
			zap.String("module", m.opts.Name),
			zap.Int("network_id", m.opts.NetworkID),
			zap.Error(err),
		)
		return false
	}
	if resp.Network.SyncModuleError {
		m.logger.Error("Network reports a sync module error",
			zap.String("module", m.opts.Name),
			zap.Int("network_id", m.opts.NetworkID),
		)
		return false
	}

	m.mu.Lock()
	m.armed = resp.Network.Armed
	m.mu.Unlock()
	return true
}

// populateCameras builds camera entities through the variant factory.
// Input order does not matter.
func (m *Module) populateCameras(ctx context.Context, infos []CameraInfo) {
	for _, info := range infos {
		m.addCamera(info)
	}
	for _, info := range infos {
		if cam, ok := m.cameras.Get(info.Config.Name); ok {
			cam.Update(ctx, info.Config, false, false)
		}
	}
}

func (m *Module) addCamera(info CameraInfo) camera.Camera {
	cam := camera.New(info.Product, m.api, m, m.logger)
	if m.opts.ClipRetention > 0 {
		cam.SetClipRetention(m.opts.ClipRetention)
	}
	m.mu.Lock()
	m.cameras.Set(info.Config.Name, cam)
	m.motion[strings.ToLower(info.Config.Name)] = false
	m.rebuildNameTableLocked()
	m.mu.Unlock()

	m.logger.Debug("Camera registered",
		zap.String("module", m.opts.Name),
		zap.String("camera", info.Config.Name),
		zap.String("product", string(info.Product)),
	)
	return cam
}

func (m *Module) rebuildNameTableLocked() {
	m.nameTable = make(map[string]string, m.cameras.Len())
	for _, name := range m.cameras.Names() {
		m.nameTable[toAlphanumeric(name)] = name
	}
}

func (m *Module) localStorageActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts.Owned && m.localStorage
}

// updateLocalStorageManifest runs the manifest protocol: request a
// build, poll until the clip list is present, ingest into the item set.
func (m *Module) updateLocalStorageManifest(ctx context.Context) error {
	m.mu.RLock()
	syncID := m.syncID
	m.mu.RUnlock()

	reqResp, err := m.api.RequestLocalStorageManifest(ctx, m.opts.NetworkID, syncID)
	if err != nil {
		return fmt.Errorf("request manifest: %w", err)
	}

	policy := m.opts.ManifestPolicy
	var manifestResp *client.ManifestResponse
	for retry := 0; retry < policy.MaxAttempts; retry++ {
		if err := policy.Sleep(ctx, retry); err != nil {
			return err
		}
		resp, err := m.api.GetLocalStorageManifest(ctx, m.opts.NetworkID, syncID, reqResp.ID)
		if err != nil {
			if client.IsTransportError(err) {
				m.logger.Debug("Manifest poll failed, retrying",
					zap.String("module", m.opts.Name),
					zap.Int("retry", retry),
					zap.Error(err),
				)
				continue
			}
			return fmt.Errorf("poll manifest: %w", err)
		}
		if resp != nil && resp.Clips != nil {
			manifestResp = resp
			break
		}
	}
	if manifestResp == nil {
		return fmt.Errorf("manifest %d not ready after %d attempts", reqResp.ID, policy.MaxAttempts)
	}

	m.ingestManifest(manifestResp)
	return nil
}

// ingestManifest merges a manifest payload into the item set. A new
// manifest id replaces the set outright; re-ingesting the same manifest
// is idempotent.
func (m *Module) ingestManifest(resp *client.ManifestResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifest == nil || m.manifest.ID() != resp.ManifestID {
		m.manifest = NewManifest(resp.ManifestID)
	}

	for _, clip := range resp.Clips {
		name, ok := m.nameTable[toAlphanumeric(clip.CameraName)]
		if !ok {
			// Keep items for cameras this module does not know about;
			// the raw name is better than dropping the clip.
			name = clip.CameraName
		}
		item, err := NewMediaItem(clip, name)
		if err != nil {
			m.logger.Debug("Skipping manifest clip with bad timestamp",
				zap.String("module", m.opts.Name),
				zap.String("clip_id", clip.ID),
				zap.String("created_at", clip.CreatedAt),
			)
			continue
		}
		m.manifest.Insert(item)
	}

	// Mark the manifest fresh. Clips already present at ingest are
	// history, not new motion; the skew tolerates client/server clock
	// drift for clips created while the manifest was building.
	m.lastManifestRead = time.Now().UTC().Add(-manifestReadSkew)

	m.logger.Debug("Local storage manifest ingested",
		zap.String("module", m.opts.Name),
		zap.String("manifest_id", resp.ManifestID),
		zap.Int("clips", m.manifest.Len()),
	)
}

// checkNewLocalVideos folds locally stored clips newer than the read
// watermark into the motion and record state.
func (m *Module) checkNewLocalVideos(ctx context.Context) {
	m.mu.Lock()
	manifest := m.manifest
	lastRead := m.lastManifestRead
	syncID := m.syncID
	armed := m.armed
	m.mu.Unlock()

	if manifest == nil {
		return
	}

	items := manifest.NewerThan(lastRead)
	for _, item := range items {
		// Stage the clip so a later download does not 404. Best effort.
		if err := m.api.PrepareLocalStorageClip(ctx, m.opts.NetworkID, syncID, manifest.ID(), item.ID()); err != nil {
			m.logger.Debug("Local storage clip staging failed",
				zap.String("module", m.opts.Name),
				zap.String("clip_id", item.ID()),
				zap.Error(err),
			)
		}

		key := strings.ToLower(item.CameraName())
		m.mu.Lock()
		m.motion[key] = armed
		m.lastRecords[key] = append(m.lastRecords[key], camera.Record{
			Time: core.FormatTimestamp(item.CreatedAt()),
			Clip: item.URL(m.api, m.opts.NetworkID, syncID, manifest.ID()),
		})
		sortRecords(m.lastRecords[key])
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.lastManifestRead = time.Now().UTC().Add(-manifestReadSkew)
	m.mu.Unlock()
}
