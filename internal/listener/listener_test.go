package listener

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/httpclient"
	"github.com/lampwatch/lampwatch/internal/mqtt"
	"github.com/lampwatch/lampwatch/internal/testutil"
)

const (
	cameraURL   = "http://192.168.1.100/capture"
	detectorURL = "http://127.0.0.1:5000/detect/upload"
	motionTopic = "camera/motion/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	topic    string
	handler  mqtt.MessageHandler
	ready    chan struct{}
	readyOne sync.Once
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ready: make(chan struct{})}
}

func (f *fakeSubscriber) Subscribe(topic string, h mqtt.MessageHandler) error {
	f.mu.Lock()
	f.topic, f.handler = topic, h
	f.mu.Unlock()
	f.readyOne.Do(func() { close(f.ready) })
	return nil
}

func (f *fakeSubscriber) deliver(payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(motionTopic, []byte(payload))
}

func testSettings() conf.ListenerSettings {
	return conf.ListenerSettings{
		MotionTopic:     motionTopic,
		CameraURL:       cameraURL,
		DetectorURL:     detectorURL,
		CameraTimeout:   time.Second,
		DetectorTimeout: time.Second,
	}
}

func newMockedHTTP(t *testing.T) *httpclient.Client {
	t.Helper()
	c := httpclient.New(nil)
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestParseMotion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		want    Motion
		wantErr bool
	}{
		{`{"status_motion": 1}`, MotionStarted, false},
		{`{"status_motion": 1.0}`, MotionStarted, false},
		{`{"status_motion": 0}`, MotionStopped, false},
		{`{"status_motion": 2}`, MotionInvalid, false},
		{`{"status_motion": "1"}`, MotionInvalid, false},
		{`{"other": 1}`, MotionInvalid, false},
		{`not json`, MotionInvalid, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMotion([]byte(tt.payload))
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCaptureForwardsSnapshot(t *testing.T) {
	client := newMockedHTTP(t)
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		httpmock.NewBytesResponder(http.StatusOK, []byte("jpegbytes")))
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))
			fh := req.MultipartForm.File["file"]
			require.Len(t, fh, 1)
			assert.Equal(t, "motion_snapshot.jpg", fh[0].Filename)
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","human_detected":true,"person_count":1}`), nil
		})

	l := New(testSettings(), newFakeSubscriber(), client)
	report, err := l.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "success", report.Status)
	assert.True(t, report.HumanDetected)
}

func TestCaptureAbortsOnCameraError(t *testing.T) {
	client := newMockedHTTP(t)
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	l := New(testSettings(), newFakeSubscriber(), client)
	_, err := l.Capture(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageFetch))

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info["POST "+detectorURL])
}

func TestCaptureReportsDetectorError(t *testing.T) {
	client := newMockedHTTP(t)
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		httpmock.NewBytesResponder(http.StatusOK, []byte("jpegbytes")))
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"status":"error","message":"Could not decode image"}`))

	l := New(testSettings(), newFakeSubscriber(), client)
	_, err := l.Capture(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestRunHandlesMotionEvents(t *testing.T) {
	client := newMockedHTTP(t)
	var posts atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		httpmock.NewBytesResponder(http.StatusOK, []byte("jpegbytes")))
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		func(*http.Request) (*http.Response, error) {
			posts.Add(1)
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"success","human_detected":false}`), nil
		})

	sub := newFakeSubscriber()
	l := New(testSettings(), sub, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	testutil.WaitForChannel(t, sub.ready, testutil.DefaultTestTimeout, "listener never subscribed")
	assert.Equal(t, motionTopic, sub.topic)

	sub.deliver(`{"status_motion": 0}`)
	sub.deliver(`garbage`)
	sub.deliver(`{"status_motion": 7}`)
	sub.deliver(`{"status_motion": 1}`)

	require.Eventually(t, func() bool { return posts.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), posts.Load())
}

func TestNoCaptureOutlivesRun(t *testing.T) {
	client := newMockedHTTP(t)
	var gets atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		func(*http.Request) (*http.Response, error) {
			gets.Add(1)
			return httpmock.NewBytesResponse(http.StatusOK, []byte("jpegbytes")), nil
		})
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","human_detected":false}`))

	sub := newFakeSubscriber()
	l := New(testSettings(), sub, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	testutil.WaitForChannel(t, sub.ready, testutil.DefaultTestTimeout, "listener never subscribed")

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				sub.deliver(`{"status_motion": 1}`)
			}
		}()
	}
	cancel()
	require.NoError(t, <-done)
	wg.Wait()

	settled := gets.Load()
	sub.deliver(`{"status_motion": 1}`)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, gets.Load(), "motion after Run returned must not start a capture")
}

func TestCooldownSkipsBurst(t *testing.T) {
	client := newMockedHTTP(t)
	var gets atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		func(*http.Request) (*http.Response, error) {
			gets.Add(1)
			return httpmock.NewBytesResponse(http.StatusOK, []byte("jpegbytes")), nil
		})
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","human_detected":false}`))

	cfg := testSettings()
	cfg.Cooldown = time.Hour
	sub := newFakeSubscriber()
	l := New(cfg, sub, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	testutil.WaitForChannel(t, sub.ready, testutil.DefaultTestTimeout, "listener never subscribed")

	for range 5 {
		sub.deliver(`{"status_motion": 1}`)
	}
	require.Eventually(t, func() bool { return gets.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), gets.Load())
}

func TestConcurrentCapturesShareCycle(t *testing.T) {
	client := newMockedHTTP(t)
	release := make(chan struct{})
	var gets atomic.Int32
	httpmock.RegisterResponder(http.MethodGet, cameraURL,
		func(*http.Request) (*http.Response, error) {
			gets.Add(1)
			<-release
			return httpmock.NewBytesResponse(http.StatusOK, []byte("jpegbytes")), nil
		})
	httpmock.RegisterResponder(http.MethodPost, detectorURL,
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","human_detected":true}`))

	l := New(testSettings(), newFakeSubscriber(), client)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := l.Capture(context.Background())
			if assert.NoError(t, err) {
				assert.True(t, report.HumanDetected)
			}
		}()
	}

	require.Eventually(t, func() bool { return gets.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), gets.Load())
}

func TestParseReport(t *testing.T) {
	t.Parallel()

	r, err := ParseReport([]byte(`{"status":"success","human_detected":true}`))
	require.NoError(t, err)
	assert.Equal(t, &Report{Status: "success", HumanDetected: true}, r)

	r, err = ParseReport([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, r.HumanDetected)

	_, err = ParseReport([]byte(`<html>`))
	require.Error(t, err)
}
