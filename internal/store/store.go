// Package store holds the panel's application state: the image collection,
// training and caption configuration, training status, auth state, and the
// background captioning job. Every mutation replaces the snapshot atomically
// and notifies subscribers; the training config and caption job are persisted
// to a local bolt database so they survive a restart.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

var ErrImageNotFound = errors.New("image not found")

var bucketState = []byte("state")

// stateKey names the single persisted record.
const stateKey = "panel"

// Snapshot is the full state value at one instant. Mutations never modify a
// snapshot in place; they build a new one and swap it in.
type Snapshot struct {
	Images         []models.ImageEntry
	TrainingConfig models.TrainingConfig
	CaptionConfig  models.CaptionConfig
	Training       models.TrainingStatus
	Auth           models.AuthState
	CaptionJob     models.CaptionJob
}

// persistedState is the durable subset of the snapshot.
type persistedState struct {
	TrainingConfig models.TrainingConfig `json:"training_config"`
	CaptionJob     models.CaptionJob     `json:"caption_job"`
}

// Store is the process-wide state container. Safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	snap       Snapshot
	db         *bolt.DB
	uploadsDir string

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// Open creates a Store rooted at dataDir. An empty dataDir yields a
// memory-only store: nothing is persisted and uploads are kept in memory.
// Otherwise the durable record is rehydrated from dataDir/state.db.
func Open(dataDir string) (*Store, error) {
	s := &Store{
		snap: Snapshot{
			TrainingConfig: models.DefaultTrainingConfig(),
			CaptionConfig:  models.DefaultCaptionConfig(),
		},
		subs: make(map[int]chan Snapshot),
	}

	if dataDir == "" {
		return s, nil
	}

	s.uploadsDir = filepath.Join(dataDir, "uploads")
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "state.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	s.db = db

	if ps, ok := s.loadPersisted(); ok {
		s.snap.TrainingConfig = ps.TrainingConfig
		s.snap.CaptionJob = ps.CaptionJob
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) loadPersisted() (persistedState, bool) {
	var data []byte
	s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketState).Get([]byte(stateKey)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return persistedState{}, false
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return persistedState{}, false
	}
	return ps, true
}

func (s *Store) persistLocked() {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(persistedState{
		TrainingConfig: s.snap.TrainingConfig,
		CaptionJob:     s.snap.CaptionJob,
	})
	if err != nil {
		return
	}
	s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(stateKey), data)
	})
}

// apply runs a mutation under the write lock and publishes the new snapshot.
// persist controls whether the durable subset is rewritten.
func (s *Store) apply(persist bool, fn func(*Snapshot)) {
	s.mu.Lock()
	next := s.snap.clone()
	fn(&next)
	s.snap = next
	if persist {
		s.persistLocked()
	}
	out := next.clone()
	s.mu.Unlock()

	s.publish(out)
}

func (s *Snapshot) clone() Snapshot {
	c := *s
	c.Images = append([]models.ImageEntry(nil), s.Images...)
	c.Training.Log = append([]string(nil), s.Training.Log...)
	c.CaptionJob.Queue = append([]string(nil), s.CaptionJob.Queue...)
	return c
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// === Observers ===

// Subscribe registers an observer channel that receives the new snapshot
// after every mutation. Sends are non-blocking: a slow subscriber misses
// intermediate snapshots rather than stalling mutations. The returned func
// cancels the subscription.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Snapshot, 16)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// === Images ===

// AddImage stores an uploaded image and returns its entry. With a data dir
// configured the bytes are written to the uploads directory; otherwise they
// are held in memory.
func (s *Store) AddImage(filename string, data []byte) (models.ImageEntry, error) {
	entry := models.ImageEntry{
		ID:       uuid.NewString(),
		Filename: filename,
	}
	if s.uploadsDir != "" {
		ext := filepath.Ext(filename)
		entry.PreviewPath = filepath.Join(s.uploadsDir, entry.ID+ext)
		if err := os.WriteFile(entry.PreviewPath, data, 0644); err != nil {
			return models.ImageEntry{}, fmt.Errorf("write upload: %w", err)
		}
	} else {
		entry.Data = append([]byte(nil), data...)
	}

	s.apply(false, func(snap *Snapshot) {
		snap.Images = append(snap.Images, entry)
	})
	return entry, nil
}

// RemoveImage deletes an entry and releases its stored file. Returns false if
// the id is unknown.
func (s *Store) RemoveImage(id string) bool {
	var removed *models.ImageEntry
	s.apply(false, func(snap *Snapshot) {
		for i := range snap.Images {
			if snap.Images[i].ID == id {
				img := snap.Images[i]
				removed = &img
				snap.Images = append(snap.Images[:i:i], snap.Images[i+1:]...)
				return
			}
		}
	})
	if removed == nil {
		return false
	}
	if removed.PreviewPath != "" {
		os.Remove(removed.PreviewPath) // best effort
	}
	return true
}

// ClearImages drops the whole collection and releases all stored files.
func (s *Store) ClearImages() {
	var old []models.ImageEntry
	s.apply(false, func(snap *Snapshot) {
		old = snap.Images
		snap.Images = nil
	})
	for _, img := range old {
		if img.PreviewPath != "" {
			os.Remove(img.PreviewPath)
		}
	}
}

// Image looks up an entry by id.
func (s *Store) Image(id string) (models.ImageEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, img := range s.snap.Images {
		if img.ID == id {
			return img, true
		}
	}
	return models.ImageEntry{}, false
}

// Images returns the current collection in upload order.
func (s *Store) Images() []models.ImageEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ImageEntry(nil), s.snap.Images...)
}

// ImageBytes returns the raw bytes for an image, reading from the uploads
// directory or the in-memory copy.
func (s *Store) ImageBytes(id string) ([]byte, error) {
	img, ok := s.Image(id)
	if !ok {
		return nil, ErrImageNotFound
	}
	if img.PreviewPath != "" {
		return os.ReadFile(img.PreviewPath)
	}
	return img.Data, nil
}

// SetImageCaption overwrites an image's caption. Returns false if the id is
// unknown (e.g. the image was removed while a job was running).
func (s *Store) SetImageCaption(id, caption string) bool {
	found := false
	s.apply(false, func(snap *Snapshot) {
		for i := range snap.Images {
			if snap.Images[i].ID == id {
				snap.Images[i].Caption = caption
				found = true
				return
			}
		}
	})
	return found
}

// === Configuration ===

// UpdateTrainingConfig applies a field-level mutation and persists the result.
func (s *Store) UpdateTrainingConfig(fn func(*models.TrainingConfig)) models.TrainingConfig {
	var out models.TrainingConfig
	s.apply(true, func(snap *Snapshot) {
		fn(&snap.TrainingConfig)
		out = snap.TrainingConfig
	})
	return out
}

// UpdateCaptionConfig applies a field-level mutation. Session-only.
func (s *Store) UpdateCaptionConfig(fn func(*models.CaptionConfig)) models.CaptionConfig {
	var out models.CaptionConfig
	s.apply(false, func(snap *Snapshot) {
		fn(&snap.CaptionConfig)
		out = snap.CaptionConfig
	})
	return out
}

// === Training status ===

// UpdateTraining mutates the training status record.
func (s *Store) UpdateTraining(fn func(*models.TrainingStatus)) {
	s.apply(false, func(snap *Snapshot) {
		fn(&snap.Training)
	})
}

// AppendTrainingLog appends lines to the run log.
func (s *Store) AppendTrainingLog(lines ...string) {
	if len(lines) == 0 {
		return
	}
	s.apply(false, func(snap *Snapshot) {
		snap.Training.Log = append(snap.Training.Log, lines...)
	})
}

// === Auth ===

// SetHFAuth records the Hugging Face token for publishing. In-memory only.
func (s *Store) SetHFAuth(token, username string) {
	s.apply(false, func(snap *Snapshot) {
		snap.Auth = models.AuthState{Token: token, Authenticated: token != "", Username: username}
	})
}

// ClearHFAuth forgets the stored token.
func (s *Store) ClearHFAuth() {
	s.apply(false, func(snap *Snapshot) {
		snap.Auth = models.AuthState{}
	})
}

// === Caption job ===

// BeginCaptionJob snapshots the current image id list as the queue and marks
// the job running. Returns false without touching anything if a job is
// already running, so a second start can never produce a duplicate queue.
func (s *Store) BeginCaptionJob(params models.CaptionConfig) bool {
	started := false
	s.apply(true, func(snap *Snapshot) {
		if snap.CaptionJob.Running {
			return
		}
		queue := make([]string, len(snap.Images))
		for i, img := range snap.Images {
			queue[i] = img.ID
		}
		snap.CaptionJob = models.CaptionJob{
			Running:   true,
			Current:   0,
			Total:     len(queue),
			Queue:     queue,
			StartedAt: time.Now().UTC(),
			Params:    params,
		}
		started = true
	})
	return started
}

// RequestCaptionCancel flags the running job for cancellation. The loop
// observes the flag at its next iteration boundary.
func (s *Store) RequestCaptionCancel() {
	s.apply(true, func(snap *Snapshot) {
		if snap.CaptionJob.Running {
			snap.CaptionJob.CancelRequested = true
		}
	})
}

// AdvanceCaptionJob moves the queue position forward by one.
func (s *Store) AdvanceCaptionJob() {
	s.apply(true, func(snap *Snapshot) {
		if snap.CaptionJob.Running && snap.CaptionJob.Current < snap.CaptionJob.Total {
			snap.CaptionJob.Current++
		}
	})
}

// ResetCaptionJob returns the job to idle and clears the queue.
func (s *Store) ResetCaptionJob() {
	s.apply(true, func(snap *Snapshot) {
		snap.CaptionJob = models.CaptionJob{}
	})
}
