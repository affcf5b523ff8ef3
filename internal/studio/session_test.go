package studio

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
	"comic-studio/backend/internal/notify"
	"comic-studio/backend/pkg/logger"
)

const panelsJSON = `[
 {"panel":1,"scene":"park","style":"children’s comic, colorful, playful, funny, safe","dialogues":[{"character":"Cat","text":"Hi!"}],"image_generation_prompt":"p1"},
 {"panel":2,"scene":"park","style":"children’s comic, colorful, playful, funny, safe","dialogues":[{"character":"Dog","text":"Hello!"}],"image_generation_prompt":"p2"},
 {"panel":3,"scene":"park","style":"children’s comic, colorful, playful, funny, safe","dialogues":[],"image_generation_prompt":"p3"}
]`

type fakePanels struct {
	mu      sync.Mutex
	payload string
	err     error
	gate    chan struct{}
}

func (f *fakePanels) GenerateStructuredPanels(ctx context.Context, _ string, _ any, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	gate, payload, err := f.gate, f.payload, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(payload), nil
}

type fakeChat struct{}

func (fakeChat) GenerateText(context.Context, string, string) (string, error) {
	return "Your comic is ready!", nil
}

func (fakeChat) GenerateTextStream(context.Context, string, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if yield("What a ", nil) {
			yield("fun script!", nil)
		}
	}
}

// stallingChat streams one chunk and then waits for the turn to be canceled
type stallingChat struct{ fakeChat }

func (stallingChat) GenerateTextStream(ctx context.Context, _, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !yield("first ", nil) {
			return
		}
		<-ctx.Done()
		yield("", ctx.Err())
	}
}

type fakeImages struct {
	mu    sync.Mutex
	fail  map[string]bool
	gates map[string]chan struct{}
	calls int
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[prompt]
	fail := f.fail[prompt]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("image failed")
	}
	return gemini.EncodeDataURI("image/png", []byte(prompt)), nil
}

type memorySnapshots struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
	saves int
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snaps: map[string]*Snapshot{}}
}

func (m *memorySnapshots) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.SessionID] = snap
	m.saves++
	return nil
}

func (m *memorySnapshots) LoadSnapshot(_ context.Context, id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[id], nil
}

type memoryArchive struct {
	mu      sync.Mutex
	records []models.ComicRecord
}

func (a *memoryArchive) SaveComic(_ context.Context, r *models.ComicRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, *r)
	return nil
}

func (a *memoryArchive) ListComics(_ context.Context, sessionID string, _ int) ([]models.ComicRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.ComicRecord
	for _, r := range a.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

type harness struct {
	panels    *fakePanels
	images    *fakeImages
	snapshots *memorySnapshots
	archive   *memoryArchive
	deps      Deps
}

func newHarness() *harness {
	h := &harness{
		panels:    &fakePanels{payload: panelsJSON},
		images:    &fakeImages{fail: map[string]bool{}, gates: map[string]chan struct{}{}},
		snapshots: newMemorySnapshots(),
		archive:   &memoryArchive{},
	}
	log := logger.Discard()
	h.deps = Deps{
		Comics:    comic.NewOrchestrator(h.panels, 1000, log),
		Chat:      fakeChat{},
		Images:    images.NewFetcher(h.images, images.Options{Stagger: -1, Logger: log}),
		Archive:   h.archive,
		Snapshots: h.snapshots,
		Logger:    log,
	}
	return h
}

func imagesSettled(s *Session) bool {
	state := s.Comic()
	if len(state.Images) == 0 {
		return false
	}
	for _, img := range state.Images {
		if img.Status != images.StatusReady && img.Status != images.StatusFailed {
			return false
		}
	}
	return true
}

func TestSubmitScriptGeneratesComic(t *testing.T) {
	h := newHarness()
	s := NewSession("s1", h.deps)
	defer s.Close()

	state, err := s.SubmitScript(context.Background(), "Cat: Hi!\nDog: Hello!")
	require.NoError(t, err)

	assert.Equal(t, ComicReady, state.Status)
	assert.Equal(t, 1, state.Generation)
	require.Len(t, state.Panels, 3)
	for i, p := range state.Panels {
		assert.Equal(t, i+1, p.Panel)
	}
	assert.Equal(t, []string{"Cat", "Dog"}, state.Panels.Speakers())

	require.Eventually(t, func() bool { return imagesSettled(s) }, time.Second, 5*time.Millisecond)
	for _, img := range s.Comic().Images {
		assert.Equal(t, images.StatusReady, img.Status)
	}

	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 3 && msgs[1].Status.Final()
	}, time.Second, 5*time.Millisecond)
	msgs := s.Messages()
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Cat: Hi!\nDog: Hello!", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	s.Wait()
	history, err := s.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].PanelCount)
	h.snapshots.mu.Lock()
	assert.NotZero(t, h.snapshots.saves)
	h.snapshots.mu.Unlock()
}

func TestSubmitScriptPanelImageFailureIsIsolated(t *testing.T) {
	h := newHarness()
	h.images.fail["p2"] = true
	s := NewSession("s1", h.deps)
	defer s.Close()

	_, err := s.SubmitScript(context.Background(), "Cat: Hi!")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return imagesSettled(s) }, time.Second, 5*time.Millisecond)

	state := s.Comic()
	img1, _ := state.Image(1)
	img2, _ := state.Image(2)
	img3, _ := state.Image(3)
	assert.Equal(t, images.StatusReady, img1.Status)
	assert.Equal(t, images.StatusFailed, img2.Status)
	assert.Equal(t, images.FailureMessage, img2.Error)
	assert.Equal(t, images.StatusReady, img3.Status)
}

func TestSubmitScriptMalformedResponse(t *testing.T) {
	h := newHarness()
	h.panels.err = errors.Join(gemini.ErrMalformedResponse, errors.New("{not valid json"))
	s := NewSession("s1", h.deps)
	defer s.Close()

	events, unsubscribe := s.Subscribe(64)
	defer unsubscribe()

	state, err := s.SubmitScript(context.Background(), "Cat: Hi!")
	assert.ErrorIs(t, err, gemini.ErrMalformedResponse)
	assert.Equal(t, ComicFailed, state.Status)
	assert.Equal(t, GenerationFailedMessage, state.Error)
	assert.Empty(t, state.Panels)

	var sawNotification bool
	timeout := time.After(time.Second)
	for !sawNotification {
		select {
		case ev := <-events:
			if n, ok := ev.Data.(notify.Notification); ok && ev.Type == EventNotification {
				assert.Equal(t, notify.SeverityError, n.Severity)
				assert.Equal(t, GenerationFailedMessage, n.Message)
				sawNotification = true
			}
		case <-timeout:
			t.Fatal("no error notification")
		}
	}
}

func TestSubmitScriptEmpty(t *testing.T) {
	h := newHarness()
	s := NewSession("s1", h.deps)
	defer s.Close()

	events, unsubscribe := s.Subscribe(8)
	defer unsubscribe()

	state, err := s.SubmitScript(context.Background(), "   ")
	assert.ErrorIs(t, err, comic.ErrEmptyScript)
	assert.Equal(t, ComicIdle, state.Status)
	assert.Empty(t, s.Messages())

	ev := <-events
	assert.Equal(t, EventNotification, ev.Type)
	assert.Equal(t, comic.EmptyScriptMessage, ev.Data.(notify.Notification).Message)
}

func TestSubmitScriptRejectsConcurrentRequest(t *testing.T) {
	h := newHarness()
	h.panels.gate = make(chan struct{})
	s := NewSession("s1", h.deps)
	defer s.Close()

	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitScript(context.Background(), "Cat: Hi!")
		done <- err
	}()
	require.Eventually(t, s.Generating, time.Second, 5*time.Millisecond)

	_, err := s.SubmitScript(context.Background(), "Dog: Woof!")
	assert.ErrorIs(t, err, ErrGenerationInProgress)

	close(h.panels.gate)
	assert.NoError(t, <-done)
	assert.Equal(t, 1, s.Comic().Generation)
}

func TestSubmitScriptLogsScriptWhileReplyStreams(t *testing.T) {
	h := newHarness()
	h.deps.Chat = stallingChat{}
	s := NewSession("s1", h.deps)
	defer s.Close()

	_, err := s.SubmitScript(context.Background(), "Cat: Hi!\nDog: Hello!")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, m := range s.Messages() {
			if m.Role == models.RoleAssistant && m.Content == "first " {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	state, err := s.SubmitScript(context.Background(), "Bird: Tweet!")
	require.NoError(t, err)
	assert.Equal(t, 2, state.Generation)

	var scripts []string
	for _, m := range s.Messages() {
		if m.Role == models.RoleUser {
			scripts = append(scripts, m.Content)
		}
	}
	assert.Equal(t, []string{"Cat: Hi!\nDog: Hello!", "Bird: Tweet!"}, scripts)
}

func TestNewGenerationSupersedesImages(t *testing.T) {
	h := newHarness()
	h.images.gates["p1"] = make(chan struct{})
	s := NewSession("s1", h.deps)
	defer s.Close()

	first, err := s.SubmitScript(context.Background(), "Cat: Hi!")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Generation)

	h.images.mu.Lock()
	delete(h.images.gates, "p1")
	h.images.mu.Unlock()
	second, err := s.SubmitScript(context.Background(), "Cat: Hi!")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Generation, "identical script is an independent request")

	require.Eventually(t, func() bool { return imagesSettled(s) }, time.Second, 5*time.Millisecond)
	state := s.Comic()
	assert.Equal(t, 2, state.Generation)
	for _, img := range state.Images {
		assert.Equal(t, images.StatusReady, img.Status)
	}
}

func TestExport(t *testing.T) {
	h := newHarness()
	s := NewSession("s1", h.deps)
	defer s.Close()

	_, err := s.Export(context.Background())
	assert.Error(t, err)

	_, err = s.SubmitScript(context.Background(), "Cat: Hi!")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return imagesSettled(s) }, time.Second, 5*time.Millisecond)

	file, err := s.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "My_Comic_Strip_panels.zip", file.Name)

	zr, err := zip.NewReader(bytes.NewReader(file.Data), int64(len(file.Data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"panel-1.png", "panel-2.png", "panel-3.png", "comic.json"}, names)
}

func TestRegistryRehydratesFromSnapshot(t *testing.T) {
	h := newHarness()
	reg := NewRegistry(h.deps, time.Hour, time.Hour)
	defer reg.Close()

	s := reg.Create()
	_, err := s.SubmitScript(context.Background(), "Cat: Hi!")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return imagesSettled(s) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Messages()) == 3 }, time.Second, 5*time.Millisecond)
	s.Wait()
	require.NoError(t, h.snapshots.SaveSnapshot(context.Background(), s.Snapshot()))

	got, err := reg.Get(context.Background(), s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	reg.Delete(s.ID())
	assert.Zero(t, reg.Count())

	restored, err := reg.Get(context.Background(), s.ID())
	require.NoError(t, err)
	assert.NotSame(t, s, restored)
	assert.Equal(t, s.Comic().Generation, restored.Comic().Generation)
	assert.Len(t, restored.Messages(), 3)
	assert.Equal(t, ComicReady, restored.Comic().Status)
}

func TestRegistryUnknownSession(t *testing.T) {
	h := newHarness()
	reg := NewRegistry(h.deps, time.Hour, time.Hour)
	defer reg.Close()

	_, err := reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s, err := reg.Open(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, "missing", s.ID())
	assert.Equal(t, 1, reg.Count())
}

func TestRestoreMarksInFlightGenerationFailed(t *testing.T) {
	h := newHarness()
	s := NewSession("s1", h.deps)
	defer s.Close()

	s.Restore(&Snapshot{
		SessionID: "s1",
		Comic:     ComicState{Generation: 4, Status: ComicGenerating, Script: "x"},
	})
	state := s.Comic()
	assert.Equal(t, ComicFailed, state.Status)
	assert.Equal(t, GenerationFailedMessage, state.Error)
	assert.Equal(t, 4, state.Generation)
}
