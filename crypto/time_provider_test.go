package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedTimeProvider struct{ now time.Time }

func (f fixedTimeProvider) Now() time.Time                  { return f.now }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.now.Sub(t) }

func TestDefaultTimeProvider(t *testing.T) {
	var tp DefaultTimeProvider
	before := time.Now()
	now := tp.Now()
	assert.False(t, now.Before(before))
	assert.GreaterOrEqual(t, tp.Since(before), time.Duration(0))
}

func TestOrDefault(t *testing.T) {
	assert.IsType(t, DefaultTimeProvider{}, OrDefault(nil))

	fixed := fixedTimeProvider{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tp := OrDefault(fixed)
	assert.Equal(t, fixed.now, tp.Now())
	assert.Equal(t, time.Hour, tp.Since(fixed.now.Add(-time.Hour)))
}
