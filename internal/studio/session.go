package studio

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"comic-studio/backend/internal/chat"
	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/export"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/models"
	"comic-studio/backend/internal/notify"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/observability"
)

const (
	DefaultExportTitle = "My Comic Strip"

	persistTimeout = 5 * time.Second

	exportPreparingMessage = "Preparing images, please wait..."
	exportDoneMessage      = "Images downloaded successfully!"
	exportFailedMessage    = "Error generating ZIP. Please try again."
	exportEmptyMessage     = "No comic panels to download"
)

// ComicCreator turns scripts into panel sequences
type ComicCreator interface {
	NormalizeScript(script string) (string, error)
	CreateComic(ctx context.Context, script string) (models.PanelSequence, error)
}

// ImageFetcher loads the images of a panel sequence
type ImageFetcher interface {
	Fetch(ctx context.Context, panels models.PanelSequence, onUpdate func(images.PanelImage)) []images.PanelImage
}

// Archive keeps successfully generated comics
type Archive interface {
	SaveComic(ctx context.Context, record *models.ComicRecord) error
	ListComics(ctx context.Context, sessionID string, limit int) ([]models.ComicRecord, error)
}

// SnapshotStore persists session state across restarts and evictions
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, sessionID string) (*Snapshot, error)
}

// Snapshot is the persisted form of a session
type Snapshot struct {
	SessionID string               `json:"session_id"`
	Messages  []models.ChatMessage `json:"messages"`
	Comic     ComicState           `json:"comic"`
	SavedAt   time.Time            `json:"saved_at"`
}

// PanelImageEvent is published when one panel image changes
type PanelImageEvent struct {
	Generation int               `json:"generation"`
	Image      images.PanelImage `json:"image"`
}

// ExportFile is a ready-to-download archive
type ExportFile struct {
	Name string
	Data []byte
}

// Deps are the collaborators shared by all sessions
type Deps struct {
	Comics          ComicCreator
	Chat            chat.Client
	Images          ImageFetcher
	Archive         Archive
	Snapshots       SnapshotStore
	Notifier        notify.Notifier
	Metrics         *observability.Metrics
	Logger          *logger.Logger
	AnnounceTimeout time.Duration
	ExportTitle     string
}

// Session owns the conversation and the current comic of one client
type Session struct {
	id     string
	deps   Deps
	bus    *Bus
	chat   *chat.Orchestrator
	slot   Slot
	log    *logger.Logger
	notify notify.Notifier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	comic        ComicState
	cancelImages context.CancelFunc
}

// NewSession creates an empty session
func NewSession(id string, deps Deps) *Session {
	if deps.Metrics == nil {
		deps.Metrics = observability.Noop()
	}
	if deps.Logger == nil {
		deps.Logger = logger.GetGlobal()
	}
	if deps.ExportTitle == "" {
		deps.ExportTitle = DefaultExportTitle
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		deps:   deps,
		bus:    NewBus(),
		log:    deps.Logger.WithSessionID(id),
		ctx:    ctx,
		cancel: cancel,
		comic:  ComicState{Status: ComicIdle},
	}

	s.notify = notify.Multi(
		notify.Func(func(_ context.Context, n notify.Notification) {
			s.bus.Publish(EventNotification, n)
		}),
		deps.Notifier,
	)

	s.chat = chat.NewOrchestrator(deps.Chat, chat.Options{
		AnnounceTimeout: deps.AnnounceTimeout,
		Metrics:         deps.Metrics,
		Logger:          s.log,
		Observer: func(msg models.ChatMessage) {
			s.bus.Publish(EventChatMessage, msg)
			if msg.Status.Final() {
				s.persistAsync()
			}
		},
	})
	return s
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// SubmitScript logs the script in the chat, streams an acknowledgment and
// generates a new comic. It returns once the panels have resolved; images
// keep loading in the background.
func (s *Session) SubmitScript(ctx context.Context, script string) (ComicState, error) {
	script, err := s.deps.Comics.NormalizeScript(script)
	if err != nil {
		if errors.Is(err, comic.ErrEmptyScript) {
			s.notify.Notify(ctx, notify.New(notify.SeverityWarning, comic.EmptyScriptMessage, 0))
		}
		return s.Comic(), err
	}

	release, err := s.slot.Acquire()
	if err != nil {
		s.deps.Metrics.RecordComic(ctx, observability.OutcomeRejected)
		return s.Comic(), err
	}
	defer release()

	s.mu.Lock()
	generation := s.comic.Generation + 1
	s.stopImagesLocked()
	s.applyLocked(GenerationStarted{Generation: generation, Script: script})
	s.mu.Unlock()

	log := s.log.With("generation", generation)
	log.Info("comic generation started", "script_length", len(script))

	if _, err := s.chat.Send(s.ctx, script, nil); err != nil {
		// a reply is still streaming; keep the script in the log anyway
		if _, noteErr := s.chat.Note(script); noteErr != nil {
			log.LogError(noteErr, "failed to log script in chat")
		}
		log.Debug("chat acknowledgment skipped", "error", err.Error())
	}

	start := time.Now()
	panels, err := s.deps.Comics.CreateComic(ctx, script)
	if err != nil {
		s.mu.Lock()
		s.applyLocked(GenerationFailed{Generation: generation, Err: err})
		state := s.comic.Clone()
		s.mu.Unlock()

		log.LogError(err, "comic generation failed", "duration", time.Since(start).String())
		s.notify.Notify(ctx, notify.New(notify.SeverityError, GenerationFailedMessage, 0))
		s.deps.Metrics.RecordComic(ctx, outcomeOf(ctx, err))
		s.persistAsync()
		return state, err
	}

	s.mu.Lock()
	s.applyLocked(GenerationSucceeded{Generation: generation, Panels: panels})
	state := s.comic.Clone()
	s.startImagesLocked(generation, panels)
	s.mu.Unlock()

	log.Info("comic generation succeeded", "panels", len(panels), "duration", time.Since(start).String())
	s.deps.Metrics.RecordComic(ctx, observability.OutcomeOK)

	s.chat.AnnounceCompletion(s.ctx)
	s.archiveAsync(generation, script, panels)
	s.persistAsync()
	return state, nil
}

// SendChat starts a chat turn outside of comic generation
func (s *Session) SendChat(ctx context.Context, text string, onUpdate func(models.ChatMessage)) (*chat.Turn, error) {
	return s.chat.Send(ctx, text, onUpdate)
}

// CancelChat cancels the chat turn in progress, if any
func (s *Session) CancelChat() bool {
	return s.chat.Cancel()
}

// Comic returns a copy of the current comic
func (s *Session) Comic() ComicState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comic.Clone()
}

// Messages returns the conversation log
func (s *Session) Messages() []models.ChatMessage {
	return s.chat.Messages()
}

// Generating reports whether a comic request is in flight
func (s *Session) Generating() bool {
	return s.slot.Busy()
}

// Subscribe streams session events until the returned func is called
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.bus.Subscribe(buffer)
}

// History lists archived comics of this session, newest first
func (s *Session) History(ctx context.Context, limit int) ([]models.ComicRecord, error) {
	if s.deps.Archive == nil {
		return []models.ComicRecord{}, nil
	}
	return s.deps.Archive.ListComics(ctx, s.id, limit)
}

// Export packs the current comic's ready images and a manifest into a ZIP
func (s *Session) Export(ctx context.Context) (*ExportFile, error) {
	state := s.Comic()
	if len(state.Panels) == 0 {
		s.notify.Notify(ctx, notify.New(notify.SeverityWarning, exportEmptyMessage, 0))
		return nil, export.ErrNothingToExport
	}

	s.notify.Notify(ctx, notify.New(notify.SeverityInfo, exportPreparingMessage, -1))

	title := s.deps.ExportTitle
	blobs, err := export.ComicBlobs(title, state.Script, state.Panels, state.Images)
	if err == nil {
		var buf bytes.Buffer
		if err = export.WriteZip(&buf, blobs); err == nil {
			s.notify.Notify(ctx, notify.New(notify.SeveritySuccess, exportDoneMessage, 3*time.Second))
			return &ExportFile{Name: export.ArchiveName(title), Data: buf.Bytes()}, nil
		}
	}

	s.log.LogError(err, "comic export failed", "generation", state.Generation)
	s.notify.Notify(ctx, notify.New(notify.SeverityError, exportFailedMessage, 0))
	return nil, err
}

// Restore loads a snapshot into a fresh session. A generation that was in
// flight is marked failed; unfinished images are fetched again.
func (s *Session) Restore(snap *Snapshot) {
	s.chat.Restore(snap.Messages)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.comic = snap.Comic.Clone()
	switch s.comic.Status {
	case "":
		s.comic.Status = ComicIdle
	case ComicGenerating:
		s.comic.Status = ComicFailed
		s.comic.Panels = nil
		s.comic.Images = nil
		s.comic.Error = GenerationFailedMessage
	case ComicReady:
		var unsettled models.PanelSequence
		for _, p := range s.comic.Panels {
			img, ok := s.comic.Image(p.Panel)
			if !ok || img.Status == images.StatusPending || img.Status == images.StatusLoading {
				unsettled = append(unsettled, p)
			}
		}
		if len(unsettled) > 0 {
			s.startImagesLocked(s.comic.Generation, unsettled)
		}
	}
}

// Snapshot captures the session for persistence
func (s *Session) Snapshot() *Snapshot {
	return &Snapshot{
		SessionID: s.id,
		Messages:  s.chat.Messages(),
		Comic:     s.Comic(),
		SavedAt:   time.Now().UTC(),
	}
}

// Close stops background work and disconnects subscribers
func (s *Session) Close() {
	s.chat.Cancel()
	s.mu.Lock()
	s.stopImagesLocked()
	s.mu.Unlock()
	s.cancel()
	s.bus.Close()
}

// Wait blocks until background work started by the session has finished
func (s *Session) Wait() {
	s.wg.Wait()
}

// applyLocked runs the comic reducer and publishes the state if it changed
func (s *Session) applyLocked(e ComicEvent) bool {
	before := s.comic
	s.comic = ReduceComic(s.comic, e)
	if sameComic(before, s.comic) {
		return false
	}

	if ev, ok := e.(PanelImageUpdated); ok {
		s.bus.Publish(EventPanelImage, PanelImageEvent{Generation: ev.Generation, Image: ev.Image})
		return true
	}
	s.bus.Publish(EventComicState, s.comic.Clone())
	return true
}

func (s *Session) startImagesLocked(generation int, panels models.PanelSequence) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelImages = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		s.deps.Images.Fetch(ctx, panels, func(img images.PanelImage) {
			s.mu.Lock()
			s.applyLocked(PanelImageUpdated{Generation: generation, Image: img})
			s.mu.Unlock()
		})
		if ctx.Err() == nil {
			s.persistAsync()
		}
	}()
}

func (s *Session) stopImagesLocked() {
	if s.cancelImages != nil {
		s.cancelImages()
		s.cancelImages = nil
	}
}

func (s *Session) persistAsync() {
	if s.deps.Snapshots == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
		defer cancel()
		if err := s.deps.Snapshots.SaveSnapshot(ctx, s.Snapshot()); err != nil {
			s.log.LogError(err, "failed to save session snapshot")
		}
	}()
}

func (s *Session) archiveAsync(generation int, script string, panels models.PanelSequence) {
	if s.deps.Archive == nil {
		return
	}
	record, err := models.NewComicRecord(s.id, generation, script, panels)
	if err != nil {
		s.log.LogError(err, "failed to build comic record")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), persistTimeout)
		defer cancel()
		if err := s.deps.Archive.SaveComic(ctx, record); err != nil {
			s.log.LogError(err, "failed to archive comic", "generation", generation)
		}
	}()
}

func sameComic(a, b ComicState) bool {
	if a.Generation != b.Generation || a.Status != b.Status || a.Error != b.Error || len(a.Images) != len(b.Images) || len(a.Panels) != len(b.Panels) {
		return false
	}
	for i := range a.Images {
		if a.Images[i] != b.Images[i] {
			return false
		}
	}
	return true
}

func outcomeOf(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return observability.OutcomeCanceled
	}
	return observability.OutcomeError
}
