package simdev

import (
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"

	"github.com/gomlx/hive/backends"
	"github.com/gomlx/hive/types/tensors"
)

// The workspace side of the backend: every blob produced by executed programs,
// held by its owning device until reset.

// Blobs returns the names of all materialized blobs, sorted lexicographically.
func (b *Backend) Blobs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := maps.Keys(b.blobs)
	slices.Sort(names)
	return names
}

// FetchBlob copies the named blob out of its device into a host Tensor.
func (b *Backend) FetchBlob(name string) (*tensors.Tensor, error) {
	b.mu.Lock()
	entry, found := b.blobs[name]
	b.mu.Unlock()
	if !found {
		return nil, errors.Errorf("simdev: blob %q not found in workspace", name)
	}
	return tensors.FromFlatAndShape(cloneFlat(entry.buffer.flat), entry.buffer.shape), nil
}

// ResetWorkspace discards all blobs, returning their buffers to the pools.
func (b *Backend) ResetWorkspace() {
	b.mu.Lock()
	entries := b.blobs
	b.blobs = make(map[string]*blob)
	b.mu.Unlock()
	for _, entry := range entries {
		b.putBuffer(entry.device, entry.buffer)
	}
}

// setBlob publishes a buffer under name, owned by device. A replaced buffer is
// recycled.
func (b *Backend) setBlob(name string, device backends.DeviceNum, buffer *Buffer) {
	b.mu.Lock()
	previous := b.blobs[name]
	b.blobs[name] = &blob{buffer: buffer, device: device}
	b.mu.Unlock()
	if previous != nil {
		b.putBuffer(previous.device, previous.buffer)
	}
}

// getBlobBuffer returns the live buffer of a blob. Exec-time callers rely on
// hazard edges to guarantee the buffer is not concurrently replaced.
func (b *Backend) getBlobBuffer(name string) (*Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, found := b.blobs[name]
	if !found {
		return nil, errors.Errorf("simdev: blob %q not found in workspace", name)
	}
	return entry.buffer, nil
}

// blobMeta returns the shape and placement of an existing blob, if any. Used by
// the Builder to resolve inputs that predate the program.
func (b *Backend) blobMeta(name string) (bufferMeta, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, found := b.blobs[name]
	if !found {
		return bufferMeta{}, false
	}
	return bufferMeta{shape: entry.buffer.shape, device: entry.device}, true
}

// noteHostStaged counts one cross-device copy staged through the host.
func (b *Backend) noteHostStaged() {
	b.mu.Lock()
	b.hostStaged++
	b.mu.Unlock()
}
