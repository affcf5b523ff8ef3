package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"comic-studio/backend/pkg/logger"
)

func TestNewDefaults(t *testing.T) {
	n := New(SeveritySuccess, "Images downloaded successfully!", 0)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, DefaultDuration, n.Duration)
	assert.False(t, n.CreatedAt.IsZero())

	sticky := New(SeverityInfo, "Preparing images, please wait...", -1)
	assert.Zero(t, sticky.Duration)

	custom := New(SeverityInfo, "x", 5*time.Second)
	assert.Equal(t, 5*time.Second, custom.Duration)
}

func TestMultiAndLog(t *testing.T) {
	var buf bytes.Buffer
	cfg := logger.DefaultConfig()
	cfg.Output = &buf
	log := logger.New(cfg)

	var got []Notification
	n := Multi(Log(log), nil, Func(func(_ context.Context, n Notification) {
		got = append(got, n)
	}))

	n.Notify(context.Background(), New(SeverityError, "Failed to download images.", 0))

	assert.Len(t, got, 1)
	assert.Contains(t, buf.String(), "Failed to download images.")
	assert.Contains(t, buf.String(), "severity")
}
