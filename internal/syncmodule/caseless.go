package syncmodule

import (
	"sort"
	"strings"
	"sync"

	"github.com/yourusername/blinkd/internal/camera"
)

// CameraMap은 대소문자를 무시하는 카메라 이름 맵입니다. 조회는
// 소문자화된 키로, 노출되는 이름은 원래 표기 그대로 유지됩니다.
// 갱신 루프가 쓰는 동안 API 핸들러가 읽으므로 자체 잠금을 가집니다.
type CameraMap struct {
	mu      sync.RWMutex
	entries map[string]cameraEntry
}

type cameraEntry struct {
	name   string
	camera camera.Camera
}

func NewCameraMap() *CameraMap {
	return &CameraMap{entries: make(map[string]cameraEntry)}
}

// Set stores a camera under its name. A later Set with a differently
// cased name replaces the earlier entry.
func (m *CameraMap) Set(name string, cam camera.Camera) {
	m.mu.Lock()
	m.entries[strings.ToLower(name)] = cameraEntry{name: name, camera: cam}
	m.mu.Unlock()
}

// Get looks a camera up regardless of name casing.
func (m *CameraMap) Get(name string) (camera.Camera, bool) {
	m.mu.RLock()
	entry, ok := m.entries[strings.ToLower(name)]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.camera, true
}

// Delete removes a camera regardless of name casing.
func (m *CameraMap) Delete(name string) {
	m.mu.Lock()
	delete(m.entries, strings.ToLower(name))
	m.mu.Unlock()
}

// Names returns the original-case camera names, sorted.
func (m *CameraMap) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		names = append(names, entry.name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// All returns the cameras ordered by their sorted names.
func (m *CameraMap) All() []camera.Camera {
	m.mu.RLock()
	entries := make([]cameraEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		entries = append(entries, entry)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	cams := make([]camera.Camera, 0, len(entries))
	for _, entry := range entries {
		cams = append(cams, entry.camera)
	}
	return cams
}

// Len returns the number of cameras in the map.
func (m *CameraMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
