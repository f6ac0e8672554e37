package account

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/yourusername/blinkd/internal/camera"
	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
	"github.com/yourusername/blinkd/internal/syncmodule"
	"go.uber.org/zap"
)

// standaloneModuleName is the synthetic module that owns mini and
// doorbell cameras on networks without a physical sync module.
const standaloneModuleName = "standalone"

// MotionEvent is published when a camera newly flags motion.
type MotionEvent struct {
	Camera string `json:"camera"`
	Module string `json:"module"`
	Time   string `json:"time"`
}

// Options configure the account orchestrator.
type Options struct {
	RefreshInterval time.Duration
	MotionInterval  time.Duration
	ClipRetention   time.Duration
	LocalStorage    bool
	ManifestPolicy  client.RetryPolicy
}

// Account은 전체 계정의 디바이스 검색과 갱신을 조율합니다
type Account struct {
	api    *client.Client
	logger *zap.Logger
	opts   Options

	throttle *core.Throttle

	mu         sync.RWMutex
	modules    map[string]*syncmodule.Module
	homescreen *client.HomescreenResponse
	onMotion   func(MotionEvent)
	// lastMotion remembers which cameras were already flagged so the
	// callback fires on edges, not levels.
	lastMotion map[string]bool
}

func New(api *client.Client, logger *zap.Logger, opts Options) *Account {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Account{
		api:        api,
		logger:     logger,
		opts:       opts,
		throttle:   core.NewThrottle(opts.RefreshInterval),
		modules:    make(map[string]*syncmodule.Module),
		lastMotion: make(map[string]bool),
	}
}

// OnMotion registers the motion callback. Must be set before Start.
func (a *Account) OnMotion(fn func(MotionEvent)) {
	a.mu.Lock()
	a.onMotion = fn
	a.mu.Unlock()
}

// Start authenticates, discovers the account's devices and brings every
// sync module up. A module that fails to start is logged and skipped;
// Start only errors when discovery itself is impossible.
func (a *Account) Start(ctx context.Context) error {
	if err := a.api.Auth().Startup(ctx); err != nil {
		return fmt.Errorf("authentication: %w", err)
	}

	homescreen, err := a.api.Homescreen(ctx)
	if err != nil {
		return fmt.Errorf("device discovery: %w", err)
	}

	a.mu.Lock()
	a.homescreen = homescreen
	a.mu.Unlock()

	modules, infos := a.buildModules(homescreen)

	var wg sync.WaitGroup
	for name, mod := range modules {
		wg.Add(1)
		go func(name string, mod *syncmodule.Module) {
			defer wg.Done()
			if !mod.Start(ctx, infos[name]) {
				a.logger.Warn("Sync module failed to start", zap.String("module", name))
			}
		}(name, mod)
	}
	wg.Wait()

	a.mu.Lock()
	a.modules = modules
	a.mu.Unlock()

	a.logger.Info("Account started",
		zap.Int("networks", len(homescreen.Networks)),
		zap.Int("modules", len(modules)),
		zap.Int("cameras", len(homescreen.Cameras)+len(homescreen.Owls)+len(homescreen.Doorbells)),
	)
	return nil
}

// buildModules maps the homescreen payload onto sync modules and their
// camera lists. Standalone mini and doorbell cameras are collected
// under one synthetic unowned module.
func (a *Account) buildModules(hs *client.HomescreenResponse) (map[string]*syncmodule.Module, map[string][]syncmodule.CameraInfo) {
	networkNames := make(map[int]string)
	networkArmed := make(map[int]bool)
	for _, nw := range hs.Networks {
		networkNames[nw.ID] = nw.Name
		networkArmed[nw.ID] = nw.Armed
	}

	moduleByNetwork := make(map[int]string)
	modules := make(map[string]*syncmodule.Module)
	infos := make(map[string][]syncmodule.CameraInfo)

	for _, summary := range hs.SyncModules {
		name := networkNames[summary.NetworkID]
		if name == "" {
			name = summary.Name
		}
		moduleByNetwork[summary.NetworkID] = name
		modules[name] = syncmodule.New(a.api, a.logger, syncmodule.Options{
			Name:           name,
			NetworkID:      summary.NetworkID,
			Owned:          true,
			MotionInterval: a.opts.MotionInterval,
			LocalStorage:   a.opts.LocalStorage,
			ManifestPolicy: a.opts.ManifestPolicy,
			ClipRetention:  a.opts.ClipRetention,
		})
	}

	assign := func(cfg client.CameraConfig, product camera.ProductType) {
		if name, ok := moduleByNetwork[cfg.NetworkID]; ok {
			infos[name] = append(infos[name], syncmodule.CameraInfo{Config: cfg, Product: product})
			return
		}
		if product == camera.ProductDefault {
			// A wired camera without a sync module is a payload
			// inconsistency; there is nothing to attach it to.
			a.logger.Warn("Camera has no sync module, skipping",
				zap.String("camera", cfg.Name),
				zap.Int("network_id", cfg.NetworkID),
			)
			return
		}
		if _, ok := modules[standaloneModuleName]; !ok {
			modules[standaloneModuleName] = syncmodule.New(a.api, a.logger, syncmodule.Options{
				Name:           standaloneModuleName,
				NetworkID:      cfg.NetworkID,
				Owned:          false,
				InitialArmed:   networkArmed[cfg.NetworkID],
				MotionInterval: a.opts.MotionInterval,
				ClipRetention:  a.opts.ClipRetention,
			})
		}
		infos[standaloneModuleName] = append(infos[standaloneModuleName], syncmodule.CameraInfo{Config: cfg, Product: product})
	}

	for _, cfg := range hs.Cameras {
		assign(cfg, camera.ProductDefault)
	}
	for _, cfg := range hs.Owls {
		assign(cfg, camera.ProductMini)
	}
	for _, cfg := range hs.Doorbells {
		assign(cfg, camera.ProductDoorbell)
	}

	return modules, infos
}

// Refresh runs one throttled update cycle across all modules. force
// bypasses the throttle and the media cache policy.
func (a *Account) Refresh(ctx context.Context, force bool) error {
	if !a.throttle.OK(force) {
		a.logger.Debug("Refresh throttled")
		return nil
	}

	homescreen, err := a.api.Homescreen(ctx)
	if err != nil {
		return fmt.Errorf("device discovery: %w", err)
	}

	a.mu.Lock()
	a.homescreen = homescreen
	modules := make(map[string]*syncmodule.Module, len(a.modules))
	for name, mod := range a.modules {
		modules[name] = mod
	}
	a.mu.Unlock()

	networkArmed := make(map[int]bool)
	for _, nw := range homescreen.Networks {
		networkArmed[nw.ID] = nw.Armed
	}
	_, infos := a.splitCameraInfos(homescreen, modules)

	var wg sync.WaitGroup
	for name, mod := range modules {
		if name == standaloneModuleName {
			mod.SetArmed(networkArmed[mod.NetworkID()])
		}
		wg.Add(1)
		go func(name string, mod *syncmodule.Module) {
			defer wg.Done()
			mod.Refresh(ctx, force, infos[name])
		}(name, mod)
	}
	wg.Wait()

	a.publishMotion()
	return nil
}

// splitCameraInfos re-derives the per-module camera lists from a fresh
// homescreen payload using the existing module set.
func (a *Account) splitCameraInfos(hs *client.HomescreenResponse, modules map[string]*syncmodule.Module) (map[int]string, map[string][]syncmodule.CameraInfo) {
	moduleByNetwork := make(map[int]string)
	for name, mod := range modules {
		if name != standaloneModuleName {
			moduleByNetwork[mod.NetworkID()] = name
		}
	}

	infos := make(map[string][]syncmodule.CameraInfo)
	assign := func(cfg client.CameraConfig, product camera.ProductType) {
		if name, ok := moduleByNetwork[cfg.NetworkID]; ok {
			infos[name] = append(infos[name], syncmodule.CameraInfo{Config: cfg, Product: product})
		} else if product != camera.ProductDefault {
			infos[standaloneModuleName] = append(infos[standaloneModuleName], syncmodule.CameraInfo{Config: cfg, Product: product})
		}
	}
	for _, cfg := range hs.Cameras {
		assign(cfg, camera.ProductDefault)
	}
	for _, cfg := range hs.Owls {
		assign(cfg, camera.ProductMini)
	}
	for _, cfg := range hs.Doorbells {
		assign(cfg, camera.ProductDoorbell)
	}
	return moduleByNetwork, infos
}

// publishMotion fires the motion callback for cameras whose motion flag
// newly turned on this cycle.
func (a *Account) publishMotion() {
	a.mu.RLock()
	fn := a.onMotion
	modules := make(map[string]*syncmodule.Module, len(a.modules))
	for name, mod := range a.modules {
		modules[name] = mod
	}
	a.mu.RUnlock()

	now := core.FormatTimestamp(time.Now().UTC())
	for name, mod := range modules {
		for _, cam := range mod.Cameras().All() {
			key := strings.ToLower(name + "/" + cam.Name())
			detected := mod.MotionDetected(cam.Name())

			a.mu.Lock()
			was := a.lastMotion[key]
			a.lastMotion[key] = detected
			a.mu.Unlock()

			if detected && !was && fn != nil {
				fn(MotionEvent{Camera: cam.Name(), Module: name, Time: now})
			}
		}
	}
}

// Modules returns the sync modules keyed by name.
func (a *Account) Modules() map[string]*syncmodule.Module {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]*syncmodule.Module, len(a.modules))
	for name, mod := range a.modules {
		out[name] = mod
	}
	return out
}

// Module looks a module up by name.
func (a *Account) Module(name string) (*syncmodule.Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for key, mod := range a.modules {
		if strings.EqualFold(key, name) {
			return mod, true
		}
	}
	return nil, false
}

// Cameras returns a merged caseless view over every module's cameras.
func (a *Account) Cameras() *syncmodule.CameraMap {
	merged := syncmodule.NewCameraMap()
	for _, mod := range a.Modules() {
		for _, name := range mod.Cameras().Names() {
			if cam, ok := mod.Cameras().Get(name); ok {
				merged.Set(name, cam)
			}
		}
	}
	return merged
}

// Camera looks a camera up by name across all modules, caselessly.
func (a *Account) Camera(name string) (camera.Camera, bool) {
	return a.Cameras().Get(name)
}

// CameraModule returns the module owning the named camera.
func (a *Account) CameraModule(name string) (*syncmodule.Module, bool) {
	for _, mod := range a.Modules() {
		if _, ok := mod.Cameras().Get(name); ok {
			return mod, true
		}
	}
	return nil, false
}

// Arm changes the arm state of the named module's network.
func (a *Account) Arm(ctx context.Context, moduleName string, enable bool) error {
	mod, ok := a.Module(moduleName)
	if !ok {
		return fmt.Errorf("unknown module %q", moduleName)
	}
	return mod.Arm(ctx, enable)
}

// Logout invalidates the session server-side.
func (a *Account) Logout(ctx context.Context) error {
	return a.api.Logout(ctx)
}
