package syncmodule

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/blinkd/internal/camera"
	"go.uber.org/zap"
)

func newDummyCamera() camera.Camera {
	return camera.New(camera.ProductDefault, nil, nil, zap.NewNop())
}

func TestCameraMapCaseless(t *testing.T) {
	m := NewCameraMap()
	cam := newDummyCamera()
	m.Set("Front Door", cam)

	// 어떤 표기로 조회해도 같은 카메라를 돌려줍니다
	for _, key := range []string{"Front Door", "front door", "FRONT DOOR", "fRoNt dOoR"} {
		got, ok := m.Get(key)
		require.True(t, ok, key)
		assert.Same(t, cam, got)
	}

	_, ok := m.Get("Back Door")
	assert.False(t, ok)
}

func TestCameraMapReplaceAndNames(t *testing.T) {
	m := NewCameraMap()
	first := newDummyCamera()
	second := newDummyCamera()

	m.Set("Front Door", first)
	// 표기만 다른 재등록은 기존 항목을 대체합니다
	m.Set("FRONT DOOR", second)
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get("front door")
	require.True(t, ok)
	assert.Same(t, second, got)
	// 마지막 등록 표기가 노출됩니다
	assert.Equal(t, []string{"FRONT DOOR"}, m.Names())

	m.Set("Back Door", first)
	assert.Equal(t, []string{"Back Door", "FRONT DOOR"}, m.Names())
	assert.Len(t, m.All(), 2)

	m.Delete("back door")
	assert.Equal(t, 1, m.Len())
}

// 갱신 루프의 등록과 API 핸들러의 조회가 동시에 일어나도 안전해야
// 합니다 (-race로 검증)
func TestCameraMapConcurrentAccess(t *testing.T) {
	m := NewCameraMap()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.Set(fmt.Sprintf("Camera %d", i), newDummyCamera())
		}
	}()

	for i := 0; i < 200; i++ {
		m.Names()
		m.Get("Camera 0")
		m.All()
		m.Len()
	}
	<-done

	assert.Equal(t, 200, m.Len())
}
