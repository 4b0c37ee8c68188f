package synthetic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denisgrzechnik/LayerMapper-NDI/framesource"
	"github.com/denisgrzechnik/LayerMapper-NDI/normalize"
	"github.com/denisgrzechnik/LayerMapper-NDI/video"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Width: 0, Height: 4})
	assert.Error(t, err)
	_, err = New(Config{Width: 4, Height: 4, Encoding: video.Encoding(9)})
	assert.Error(t, err)
	_, err = New(Config{Width: 4, Height: 4, Rate: -1})
	assert.Error(t, err)
}

func TestConnect_Errors(t *testing.T) {
	src, err := New(Config{Name: "bars", Width: 4, Height: 4, RefuseConnect: true})
	require.NoError(t, err)
	_, err = src.Connect(context.Background(), "bars")
	assert.True(t, errors.Is(err, framesource.ErrConnect))

	src, _ = New(Config{Name: "bars", Width: 4, Height: 4})
	_, err = src.Connect(context.Background(), "other")
	assert.True(t, errors.Is(err, framesource.ErrConnect))
	assert.True(t, errors.Is(err, framesource.ErrSourceNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Connect(ctx, "bars")
	assert.True(t, errors.Is(err, framesource.ErrConnect))
}

func TestHandle_PoolRecycling(t *testing.T) {
	src, _ := New(Config{Width: 8, Height: 2, Encoding: video.EncodingUYVY, PoolSize: 2})
	h, err := src.Connect(context.Background(), "")
	require.NoError(t, err)
	defer h.Disconnect()
	sh := h.(*Handle)

	a, err := h.PollFrame(time.Millisecond)
	require.NoError(t, err)
	b, err := h.PollFrame(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sh.Outstanding())

	_, err = h.PollFrame(time.Millisecond)
	assert.True(t, errors.Is(err, framesource.ErrTimeout), "pool exhausted")

	h.ReleaseFrame(a)
	h.ReleaseFrame(b)
	assert.Equal(t, int64(0), sh.Outstanding())

	_, err = h.PollFrame(time.Millisecond)
	assert.NoError(t, err)
}

func TestHandle_RateLimitedPollTimesOut(t *testing.T) {
	src, _ := New(Config{Width: 4, Height: 4, Rate: 1})
	h, err := src.Connect(context.Background(), "")
	require.NoError(t, err)
	defer h.Disconnect()

	f, err := h.PollFrame(10 * time.Millisecond)
	require.NoError(t, err, "first frame is due immediately")
	h.ReleaseFrame(f)

	start := time.Now()
	_, err = h.PollFrame(5 * time.Millisecond)
	assert.True(t, errors.Is(err, framesource.ErrTimeout))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "poll bounded by its timeout")
}

func TestHandle_FailEvery(t *testing.T) {
	src, _ := New(Config{Width: 4, Height: 4, FailEvery: 3})
	h, _ := src.Connect(context.Background(), "")
	defer h.Disconnect()

	var injected int
	for i := 0; i < 9; i++ {
		f, err := h.PollFrame(time.Millisecond)
		if errors.Is(err, ErrInjected) {
			injected++
			continue
		}
		require.NoError(t, err)
		h.ReleaseFrame(f)
	}
	assert.Equal(t, 3, injected)
}

func TestHandle_Disconnect(t *testing.T) {
	src, _ := New(Config{Width: 4, Height: 4})
	h, _ := src.Connect(context.Background(), "")
	require.NoError(t, h.Disconnect())
	require.NoError(t, h.Disconnect())
	_, err := h.PollFrame(time.Millisecond)
	assert.True(t, errors.Is(err, framesource.ErrDisconnected))
}

// TestRender_DecodesToBars checks the UYVY pattern survives normalization: the
// leftmost bar is white and the rightmost is black.
func TestRender_DecodesToBars(t *testing.T) {
	const w, h = 64, 2
	stride := video.EncodingUYVY.MinStride(w)
	buf := make([]byte, stride*h)
	Render(buf, stride, w, h, video.EncodingUYVY, 0)

	f, err := normalize.New(normalize.Options{}).Normalize(video.RawFrame{
		Width: w, Height: h, Stride: int32(stride), Encoding: video.EncodingUYVY, Data: buf,
	})
	require.NoError(t, err)

	b, g, r, _ := f.At(0, 0)
	assert.InDelta(t, 255, r, 3)
	assert.InDelta(t, 255, g, 3)
	assert.InDelta(t, 255, b, 3)

	b, g, r, _ = f.At(w-1, 1)
	assert.InDelta(t, 0, r, 3)
	assert.InDelta(t, 0, g, 3)
	assert.InDelta(t, 0, b, 3)
}

func TestRender_Scrolls(t *testing.T) {
	const w = 32
	a := make([]byte, w*4)
	b := make([]byte, w*4)
	Render(a, w*4, w, 1, video.EncodingBGRA, 0)
	Render(b, w*4, w, 1, video.EncodingBGRA, 1)
	assert.NotEqual(t, a, b)
}
