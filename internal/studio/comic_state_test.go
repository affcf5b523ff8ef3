package studio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
)

var threePanels = models.PanelSequence{
	{Panel: 1, ImageGenerationPrompt: "p1"},
	{Panel: 2, ImageGenerationPrompt: "p2"},
	{Panel: 3, ImageGenerationPrompt: "p3"},
}

func readyState(t *testing.T) ComicState {
	t.Helper()
	s := ReduceComic(ComicState{Status: ComicIdle}, GenerationStarted{Generation: 1, Script: "Cat: Hi!"})
	s = ReduceComic(s, GenerationSucceeded{Generation: 1, Panels: threePanels})
	require.Equal(t, ComicReady, s.Status)
	return s
}

func TestReduceComicLifecycle(t *testing.T) {
	s := ReduceComic(ComicState{Status: ComicIdle}, GenerationStarted{Generation: 1, Script: "Cat: Hi!"})
	assert.Equal(t, ComicGenerating, s.Status)
	assert.Equal(t, 1, s.Generation)
	assert.Empty(t, s.Panels)

	s = ReduceComic(s, GenerationSucceeded{Generation: 1, Panels: threePanels})
	assert.Equal(t, ComicReady, s.Status)
	assert.Len(t, s.Panels, 3)
	require.Len(t, s.Images, 3)
	for _, img := range s.Images {
		assert.Equal(t, images.StatusPending, img.Status)
	}
}

func TestReduceComicFailureShowsGenericError(t *testing.T) {
	s := readyState(t)
	s = ReduceComic(s, GenerationStarted{Generation: 2, Script: "again"})
	s = ReduceComic(s, GenerationFailed{Generation: 2, Err: errors.New("boom")})

	assert.Equal(t, ComicFailed, s.Status)
	assert.Equal(t, GenerationFailedMessage, s.Error)
	assert.Empty(t, s.Panels)
	assert.Empty(t, s.Images)
}

func TestReduceComicIgnoresStaleEvents(t *testing.T) {
	s := readyState(t)
	s = ReduceComic(s, GenerationStarted{Generation: 2, Script: "new"})

	stale := ReduceComic(s, GenerationSucceeded{Generation: 1, Panels: threePanels})
	assert.Equal(t, s, stale)

	stale = ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 1, Status: images.StatusReady}})
	assert.Equal(t, s, stale)

	older := ReduceComic(s, GenerationStarted{Generation: 1})
	assert.Equal(t, s, older)
}

func TestReduceComicImageUpdatesAreIndependent(t *testing.T) {
	s := readyState(t)
	s = ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 1, Status: images.StatusReady, ImageURL: "data:x"}})
	s = ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 2, Status: images.StatusFailed, Error: images.FailureMessage}})
	s = ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 3, Status: images.StatusReady, ImageURL: "data:z"}})

	img1, _ := s.Image(1)
	img2, _ := s.Image(2)
	img3, _ := s.Image(3)
	assert.Equal(t, images.StatusReady, img1.Status)
	assert.Equal(t, images.StatusFailed, img2.Status)
	assert.Equal(t, images.FailureMessage, img2.Error)
	assert.Equal(t, images.StatusReady, img3.Status)

	// settled slots never change
	again := ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 2, Status: images.StatusLoading}})
	img2, _ = again.Image(2)
	assert.Equal(t, images.StatusFailed, img2.Status)
}

func TestReduceComicDoesNotMutateInput(t *testing.T) {
	s := readyState(t)
	before := s.Clone()

	_ = ReduceComic(s, PanelImageUpdated{Generation: 1, Image: images.PanelImage{Panel: 1, Status: images.StatusLoading}})
	assert.Equal(t, before, s)
}

func TestSlotRejectsConcurrentHolder(t *testing.T) {
	var slot Slot
	release, err := slot.Acquire()
	require.NoError(t, err)
	assert.True(t, slot.Busy())

	_, err = slot.Acquire()
	assert.ErrorIs(t, err, ErrGenerationInProgress)

	release()
	release()
	assert.False(t, slot.Busy())

	release2, err := slot.Acquire()
	require.NoError(t, err)
	release()
	assert.True(t, slot.Busy(), "stale release must not free a newer holder")
	release2()
}

func TestBusFanOutAndSlowSubscriber(t *testing.T) {
	bus := NewBus()
	fast, unsubscribe := bus.Subscribe(8)
	slow, _ := bus.Subscribe(1)
	assert.Equal(t, 2, bus.Len())

	bus.Publish(EventComicState, 1)
	bus.Publish(EventComicState, 2)

	assert.Equal(t, 1, (<-fast).Data)
	assert.Equal(t, 2, (<-fast).Data)

	ev, ok := <-slow
	assert.True(t, ok)
	assert.Equal(t, 1, ev.Data)
	_, ok = <-slow
	assert.False(t, ok, "slow subscriber is dropped")
	assert.Equal(t, 1, bus.Len())

	unsubscribe()
	unsubscribe()
	_, ok = <-fast
	assert.False(t, ok)
	assert.Zero(t, bus.Len())
}
