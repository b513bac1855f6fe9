package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu       sync.Mutex
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderCarriesMetadata(t *testing.T) {
	ee := Newf("write %s", "x.jpg").
		Component("imagestore").
		Category(CategoryFileIO).
		Context("operation", "save_image").
		Build()

	assert.Equal(t, "imagestore", ee.GetComponent())
	assert.True(t, IsCategory(ee, CategoryFileIO))
	assert.False(t, IsCategory(ee, CategoryDatabase))
	assert.Equal(t, "save_image", ee.GetContext()["operation"])
}

func TestCategorySurvivesWrapping(t *testing.T) {
	inner := New(fmt.Errorf("broker down")).Category(CategoryMQTTConnection).Build()

	wrapped := fmt.Errorf("publish: %w", inner)
	assert.True(t, IsCategory(wrapped, CategoryMQTTConnection))
	assert.Equal(t, CategoryMQTTConnection, CategoryOf(wrapped))

	rebuilt := New(wrapped).Component("pipeline").Build()
	assert.Equal(t, CategoryMQTTConnection, rebuilt.Category)

	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
	assert.True(t, Is(wrapped, &EnhancedError{Category: CategoryMQTTConnection}))
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(fmt.Errorf("disk full")).Category(CategoryFileIO).Build()

	require.Len(t, rec.reported, 1)
	assert.Same(t, ee, rec.reported[0])
	assert.True(t, ee.IsReported())

	SetTelemetryReporter(nil)
	New(fmt.Errorf("ignored")).Build()
	assert.Len(t, rec.reported, 1)
}
