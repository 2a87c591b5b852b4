package session

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/model"
	"github.com/makeasinger/storystudio/internal/service"
)

type blob struct {
	data        []byte
	contentType string
	// fresh blobs were stored by a running stage and may not be committed yet
	fresh bool
}

// BlobRegistry holds generated media that has no durable URL. A blob is
// released once neither the undo history nor a snapshot of this session
// refers to it.
type BlobRegistry struct {
	mu     sync.Mutex
	blobs  map[string]*blob
	pinned map[string][]string
	logger *zap.Logger
}

func NewBlobRegistry(logger *zap.Logger) *BlobRegistry {
	return &BlobRegistry{
		blobs:  make(map[string]*blob),
		pinned: make(map[string][]string),
		logger: logger.Named("blobs"),
	}
}

// Put stores data and returns its reference.
func (r *BlobRegistry) Put(data []byte, contentType string) string {
	ref := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[ref] = &blob{data: data, contentType: contentType, fresh: true}
	return ref
}

func (r *BlobRegistry) Get(ref string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[ref]
	if !ok {
		return nil, false
	}
	return b.data, true
}

// DropLost removes references to blobs this registry does not hold. Narration
// segments without a durable URL are dropped so the narration stage
// synthesizes them again; a film kept only as a blob is forgotten. It returns
// the scenes whose narration was dropped.
func (r *BlobRegistry) DropLost(st *model.ProjectState) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var lost []string
	kept := make([]model.NarrationSegment, 0, len(st.NarrationSegments))
	for _, n := range st.NarrationSegments {
		if n.AudioURL == "" && n.AudioBlobRef != "" && r.blobs[n.AudioBlobRef] == nil {
			lost = append(lost, n.SceneID)
			continue
		}
		kept = append(kept, n)
	}
	st.NarrationSegments = kept
	if ref, ok := strings.CutPrefix(st.FinalVideoURL, service.BlobPrefix); ok && r.blobs[ref] == nil {
		st.FinalVideoURL = ""
	}
	return lost
}

// ContentType returns the media type a blob was stored with.
func (r *BlobRegistry) ContentType(ref string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.blobs[ref]; ok {
		return b.contentType
	}
	return ""
}

// Len returns the number of held blobs.
func (r *BlobRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Pin keeps the blobs of st alive for as long as snapshot id exists.
func (r *BlobRegistry) Pin(id string, st *model.ProjectState) {
	refs := blobRefs(st)
	if len(refs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinned[id] = refs
}

// Unpin releases the hold of snapshot id.
func (r *BlobRegistry) Unpin(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pinned, id)
}

// Retain drops the pins of snapshots that no longer exist.
func (r *BlobRegistry) Retain(ids map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.pinned {
		if !ids[id] {
			delete(r.pinned, id)
		}
	}
}

// Settle marks every blob as committed or abandoned. It runs when no stage
// is in flight.
func (r *BlobRegistry) Settle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.blobs {
		b.fresh = false
	}
}

// Sweep releases settled blobs that no state yielded by each refers to and
// no snapshot pins. It returns the number released.
func (r *BlobRegistry) Sweep(each func(func(*model.ProjectState))) int {
	live := make(map[string]bool)
	each(func(st *model.ProjectState) {
		for _, ref := range blobRefs(st) {
			live[ref] = true
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, refs := range r.pinned {
		for _, ref := range refs {
			live[ref] = true
		}
	}
	released := 0
	for ref, b := range r.blobs {
		if b.fresh || live[ref] {
			continue
		}
		delete(r.blobs, ref)
		released++
	}
	if released > 0 {
		r.logger.Debug("Released blobs", zap.Int("count", released), zap.Int("held", len(r.blobs)))
	}
	return released
}

// blobRefs lists the blob references held by a state.
func blobRefs(st *model.ProjectState) []string {
	var refs []string
	for _, n := range st.NarrationSegments {
		if n.AudioBlobRef != "" {
			refs = append(refs, n.AudioBlobRef)
		}
	}
	if ref, ok := strings.CutPrefix(st.FinalVideoURL, service.BlobPrefix); ok {
		refs = append(refs, ref)
	}
	return refs
}
