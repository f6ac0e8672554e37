package syncmodule

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/blinkd/internal/camera"
	"github.com/yourusername/blinkd/internal/client"
	"github.com/yourusername/blinkd/internal/core"
	"go.uber.org/zap"
)

var fastPolicy = client.RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    5 * time.Millisecond,
}

// newTestAPI는 테스트 서버를 가리키는 인증된 클라이언트를 만듭니다
func newTestAPI(t *testing.T, mux *http.ServeMux) *client.Client {
	t.Helper()

	// 등록되지 않은 경로(썸네일, 센서 등)는 빈 JSON으로 응답
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	auth := client.NewAuth(client.LoginData{}, 5*time.Second, zap.NewNop())
	auth.Restore(client.Credentials{Token: "tok", RegionID: "u011", AccountID: 1234})
	api := client.New(auth, 5*time.Second, zap.NewNop())
	api.SetBaseURL(srv.URL)
	return api
}

func testInfos() []CameraInfo {
	return []CameraInfo{
		{Config: client.CameraConfig{ID: 77, NetworkID: 9, Name: "Front Door", Enabled: true}, Product: camera.ProductDefault},
		{Config: client.CameraConfig{ID: 78, NetworkID: 9, Name: "Garage", Enabled: true}, Product: camera.ProductDefault},
	}
}

func TestStartHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/network/9/syncmodules", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"syncmodule":{"id":22,"network_id":9,"name":"Home","serial":"S1","status":"online"}}`))
	})
	mux.HandleFunc("/network/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"network":{"id":9,"armed":true,"sync_module_error":false}}`))
	})

	api := newTestAPI(t, mux)
	mod := New(api, zap.NewNop(), Options{Name: "Home", NetworkID: 9, Owned: true, ManifestPolicy: fastPolicy})

	require.True(t, mod.Start(context.Background(), testInfos()))
	assert.True(t, mod.Available())
	assert.True(t, mod.Armed())
	assert.Equal(t, 22, mod.SyncID())
	assert.Equal(t, []string{"Front Door", "Garage"}, mod.Cameras().Names())
}

// 카메라 입력 순서는 결과에 영향을 주지 않아야 합니다
func TestStartOrderInsensitive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/network/9/syncmodules", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"syncmodule":{"id":22,"network_id":9}}`))
	})
	mux.HandleFunc("/network/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"network":{"id":9,"armed":false}}`))
	})
	api := newTestAPI(t, mux)

	infos := testInfos()
	reversed := []CameraInfo{infos[1], infos[0]}

	a := New(api, zap.NewNop(), Options{Name: "Home", NetworkID: 9, Owned: true, ManifestPolicy: fastPolicy})
	b := New(api, zap.NewNop(), Options{Name: "Home", NetworkID: 9, Owned: true, ManifestPolicy: fastPolicy})
	require.True(t, a.Start(context.Background(), infos))
	require.True(t, b.Start(context.Background(), reversed))

	assert.Equal(t, a.Cameras().Names(), b.Cameras().Names())
}

func TestStartSoftFailures(t *testing.T) {
	t.Run("summary fetch fails", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/network/9/syncmodules", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		api := newTestAPI(t, mux)
		mod := New(api, zap.NewNop(), Options{Name: "Home", NetworkID: 9, Owned: true, ManifestPolicy: fastPolicy})

		assert.False(t, mod.Start(context.Background(), testInfos()))
		assert.False(t, mod.Available())
	})

	t.Run("network reports module error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/network/9/syncmodules", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"syncmodule":{"id":22,"network_id":9}}`))
		})
		mux.HandleFunc("/network/9", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"network":{"id":9,"armed":true,"sync_module_error":true}}`))
		})
		api := newTestAPI(t, mux)
		mod := New(api, zap.NewNop(), Options{Name: "Home", NetworkID: 9, Owned: true, ManifestPolicy: fastPolicy})

		assert.False(t, mod.Start(context.Background(), testInfos()))
	})

	t.Run("unowned module skips summary", func(t *testing.T) {
		api := newTestAPI(t, http.NewServeMux())
		mod := New(api, zap.NewNop(), Options{Name: "standalone", NetworkID: 9, InitialArmed: true, ManifestPolicy: fastPolicy})

		assert.True(t, mod.Start(context.Background(), testInfos()))
		assert.True(t, mod.Armed())
	})
}

func TestCheckNewVideoTime(t *testing.T) {
	ref := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	isNew, err := CheckNewVideoTime("2024-05-01T10:00:01+0000", ref)
	require.NoError(t, err)
	assert.True(t, isNew)

	// 경계값은 strict-after 비교로 제외됩니다
	isNew, err = CheckNewVideoTime("2024-05-01T10:00:00+0000", ref)
	require.NoError(t, err)
	assert.False(t, isNew)

	// 오프셋 없는 표기는 UTC로 해석됩니다
	isNew, err = CheckNewVideoTime("2024-05-01T10:00:01", ref)
	require.NoError(t, err)
	assert.True(t, isNew)

	_, err = CheckNewVideoTime("garbage", ref)
	assert.Error(t, err)
}

func newRefreshedModule(t *testing.T, mux *http.ServeMux, armed bool) *Module {
	t.Helper()
	api := newTestAPI(t, mux)
	mod := New(api, zap.NewNop(), Options{
		Name:           "Home",
		NetworkID:      9,
		Owned:          true,
		MotionInterval: time.Minute,
		ManifestPolicy: fastPolicy,
	})
	mod.populateCameras(context.Background(), testInfos())
	mod.mu.Lock()
	mod.armed = armed
	mod.lastRefresh = time.Now().UTC().Add(-30 * time.Second)
	mod.mu.Unlock()
	return mod
}

func mediaHandler(payload string) (*http.ServeMux, *int32) {
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/1234/media/changed", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(payload))
	})
	return mux, &calls
}

func TestCheckNewVideos(t *testing.T) {
	t.Run("no refresh watermark", func(t *testing.T) {
		mux, calls := mediaHandler(`{"media":[]}`)
		mod := newRefreshedModule(t, mux, true)
		mod.mu.Lock()
		mod.lastRefresh = time.Time{}
		mod.mu.Unlock()

		assert.False(t, mod.CheckNewVideos(context.Background()))
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})

	t.Run("missing media field", func(t *testing.T) {
		mux, _ := mediaHandler(`{}`)
		mod := newRefreshedModule(t, mux, true)
		assert.False(t, mod.CheckNewVideos(context.Background()))
	})

	t.Run("bare string media response", func(t *testing.T) {
		// 200이지만 객체가 아닌 JSON 문자열이 오는 경우
		mux, _ := mediaHandler(`"unexpected"`)
		mod := newRefreshedModule(t, mux, true)

		assert.False(t, mod.CheckNewVideos(context.Background()))
		assert.False(t, mod.MotionDetected("Front Door"))
	})

	t.Run("server error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/accounts/1234/media/changed", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		mod := newRefreshedModule(t, mux, true)
		assert.False(t, mod.CheckNewVideos(context.Background()))
	})

	t.Run("new record while armed flags motion", func(t *testing.T) {
		ts := core.FormatTimestamp(time.Now().UTC())
		payload := fmt.Sprintf(`{"media":[{"device_name":"Front Door","media":"/media/a.mp4","created_at":"%s","network_id":9}]}`, ts)
		mux, _ := mediaHandler(payload)
		mod := newRefreshedModule(t, mux, true)

		assert.True(t, mod.CheckNewVideos(context.Background()))
		assert.True(t, mod.MotionDetected("front door"))
		require.Len(t, mod.LastRecords("Front Door"), 1)
	})

	t.Run("new record while disarmed stores record without motion", func(t *testing.T) {
		ts := core.FormatTimestamp(time.Now().UTC())
		payload := fmt.Sprintf(`{"media":[{"device_name":"Front Door","media":"/media/a.mp4","created_at":"%s","network_id":9}]}`, ts)
		mux, _ := mediaHandler(payload)
		mod := newRefreshedModule(t, mux, false)

		assert.True(t, mod.CheckNewVideos(context.Background()))
		assert.False(t, mod.MotionDetected("Front Door"))
		assert.Len(t, mod.LastRecords("Front Door"), 1)
	})

	t.Run("dry cycle keeps previous latest record", func(t *testing.T) {
		mux, _ := mediaHandler(`{"media":[]}`)
		mod := newRefreshedModule(t, mux, true)
		mod.mu.Lock()
		mod.lastRecords["front door"] = []camera.Record{
			{Time: "2024-05-01T10:00:00+0000", Clip: "/media/a.mp4"},
			{Time: "2024-05-01T10:05:00+0000", Clip: "/media/b.mp4"},
		}
		mod.mu.Unlock()

		assert.True(t, mod.CheckNewVideos(context.Background()))
		records := mod.LastRecords("Front Door")
		require.Len(t, records, 1)
		assert.Equal(t, "/media/b.mp4", records[0].Clip)
		assert.False(t, mod.MotionDetected("Front Door"))
	})

	t.Run("multiple records sort ascending", func(t *testing.T) {
		now := time.Now().UTC()
		payload := fmt.Sprintf(`{"media":[
			{"device_name":"Front Door","media":"/media/late.mp4","created_at":"%s","network_id":9},
			{"device_name":"Front Door","media":"/media/early.mp4","created_at":"%s","network_id":9}
		]}`, core.FormatTimestamp(now), core.FormatTimestamp(now.Add(-10*time.Second)))
		mux, _ := mediaHandler(payload)
		mod := newRefreshedModule(t, mux, true)

		assert.True(t, mod.CheckNewVideos(context.Background()))
		records := mod.LastRecords("Front Door")
		require.Len(t, records, 2)
		assert.Equal(t, "/media/early.mp4", records[0].Clip)
		assert.Equal(t, "/media/late.mp4", records[1].Clip)
	})

	t.Run("foreign network entries ignored", func(t *testing.T) {
		ts := core.FormatTimestamp(time.Now().UTC())
		payload := fmt.Sprintf(`{"media":[{"device_name":"Front Door","media":"/media/a.mp4","created_at":"%s","network_id":31}]}`, ts)
		mux, _ := mediaHandler(payload)
		mod := newRefreshedModule(t, mux, true)

		assert.True(t, mod.CheckNewVideos(context.Background()))
		assert.False(t, mod.MotionDetected("Front Door"))
		assert.Empty(t, mod.LastRecords("Front Door"))
	})
}

func TestManifestProtocol(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/request", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"network_id":9}`))
	})
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/request/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// 첫 폴링은 빌드가 끝나기 전이라 클립 목록이 없습니다
		if atomic.AddInt32(&polls, 1) == 1 {
			w.Write([]byte(`{"manifest_id":"m1"}`))
			return
		}
		w.Write([]byte(`{"manifest_id":"m1","clips":[
			{"id":"c1","camera_name":"FrontDoor","created_at":"2024-05-01T10:00:00+0000","size":"2MB"},
			{"id":"c2","camera_name":"FrontDoor","created_at":"2024-05-01T10:05:00+0000","size":"2MB"}
		]}`))
	})

	api := newTestAPI(t, mux)
	mod := New(api, zap.NewNop(), Options{
		Name: "Home", NetworkID: 9, Owned: true,
		LocalStorage: true, ManifestPolicy: fastPolicy,
	})
	mod.populateCameras(context.Background(), testInfos())
	mod.mu.Lock()
	mod.syncID = 22
	mod.localStorage = true
	mod.mu.Unlock()

	require.NoError(t, mod.updateLocalStorageManifest(context.Background()))
	assert.Equal(t, 2, mod.ManifestSize())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(2))

	// 정규화된 장치 이름이 실제 카메라 이름으로 복원됩니다
	items := mod.manifest.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Front Door", items[0].CameraName())

	// 같은 매니페스트 재수집은 멱등합니다
	require.NoError(t, mod.updateLocalStorageManifest(context.Background()))
	assert.Equal(t, 2, mod.ManifestSize())
}

// 시작 시점에 이미 매니페스트에 있던 클립은 과거 기록이지 새 모션이
// 아닙니다: 수집 직후 읽기 워터마크가 잡혀야 재생이 막힙니다
func TestIngestDoesNotReplayHistory(t *testing.T) {
	var prepares int32
	mux := http.NewServeMux()
	mux.HandleFunc("/network/9/syncmodules", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"syncmodule":{"id":22,"network_id":9,"status":"online","local_storage_enabled":true,"local_storage_compatible":true}}`))
	})
	mux.HandleFunc("/network/9", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"network":{"id":9,"armed":true}}`))
	})
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/request", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":7,"network_id":9}`))
	})
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/request/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"manifest_id":"m1","clips":[
			{"id":"c1","camera_name":"FrontDoor","created_at":"2020-01-01T00:00:00+0000","size":"2MB"}
		]}`))
	})
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/m1/clip/request/c1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&prepares, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v1/accounts/1234/media/changed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"media":[]}`))
	})

	api := newTestAPI(t, mux)
	mod := New(api, zap.NewNop(), Options{
		Name: "Home", NetworkID: 9, Owned: true,
		LocalStorage: true, MotionInterval: time.Minute,
		ManifestPolicy: fastPolicy,
	})

	infos := testInfos()
	require.True(t, mod.Start(context.Background(), infos))
	assert.Equal(t, 1, mod.ManifestSize())
	assert.False(t, mod.lastManifestRead.IsZero(), "priming must set the read watermark")

	// 첫 주기는 갱신 워터마크만 세우고, 둘째 주기가 로컬 스캔을 돕니다
	mod.Refresh(context.Background(), false, infos)
	mod.Refresh(context.Background(), false, infos)

	assert.False(t, mod.MotionDetected("Front Door"))
	assert.Empty(t, mod.LastRecords("Front Door"))
	assert.Equal(t, int32(0), atomic.LoadInt32(&prepares))
}

func TestCheckNewLocalVideos(t *testing.T) {
	var prepares int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/accounts/1234/networks/9/sync_modules/22/local_storage/manifest/m1/clip/request/c2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&prepares, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	})

	api := newTestAPI(t, mux)
	mod := New(api, zap.NewNop(), Options{
		Name: "Home", NetworkID: 9, Owned: true,
		LocalStorage: true, ManifestPolicy: fastPolicy,
	})
	mod.populateCameras(context.Background(), testInfos())

	manifest := NewManifest("m1")
	manifest.Insert(item(t, "c1", "Front Door", "2024-05-01T10:00:00+0000"))
	manifest.Insert(item(t, "c2", "Front Door", core.FormatTimestamp(time.Now().UTC())))

	mod.mu.Lock()
	mod.syncID = 22
	mod.localStorage = true
	mod.armed = true
	mod.manifest = manifest
	mod.lastManifestRead = time.Now().UTC().Add(-time.Minute)
	mod.mu.Unlock()

	mod.checkNewLocalVideos(context.Background())

	// 워터마크 이후의 클립만 스테이징되고 모션으로 반영됩니다
	assert.Equal(t, int32(1), atomic.LoadInt32(&prepares))
	assert.True(t, mod.MotionDetected("Front Door"))
	records := mod.LastRecords("Front Door")
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Clip, "/local_storage/manifest/m1/clip/request/c2")
	assert.False(t, mod.lastManifestRead.IsZero())
}
