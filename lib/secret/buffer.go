// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive material — the bot password and Matrix
// access tokens — in memory that the Go runtime never manages.
//
// Buffer allocates its backing store with mmap(MAP_ANONYMOUS), pins it
// into RAM with mlock so it cannot reach swap, and marks it
// MADV_DONTDUMP so it is excluded from core dumps. Close zeros the
// region before unmapping. The garbage collector never sees the
// allocation, so it cannot copy or relocate the secret.
package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a protected byte region for a single secret. It must not be
// copied after creation. Accessing the contents after Close panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New allocates a protected buffer of the given size. The caller must
// Close it when the secret is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}

	// Non-fatal: MADV_DONTDUMP may not be supported on all kernels,
	// and the secret is still locked against swap.
	excludeFromDumps(data)

	return &Buffer{
		data:   data,
		length: size,
	}, nil
}

// NewFromBytes moves existing data into a protected buffer. The source
// slice is zeroed in place, so the caller's copy no longer holds the
// secret after this returns.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}

	copy(buffer.data, source)
	Zero(source)

	return buffer, nil
}

// Bytes returns the secret data. The slice points directly into the
// mmap region — do not retain it beyond the Buffer's lifetime.
// Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}

	return b.data[:b.length]
}

// String returns the secret as a heap string copy. Go strings are
// immutable heap values, so this escapes the protected region — use
// only at API boundaries that require a string (JSON bodies, HTTP
// headers). Panics if the buffer has been closed.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}

	return string(b.data[:b.length])
}

// Len returns the size of the secret data.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length
}

// Close zeros the contents, unlocks and unmaps the memory. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)

	var firstError error
	if err := unix.Munlock(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}

// excludeFromDumps marks the region MADV_DONTDUMP. Overridable so tests
// can exercise the tolerated-failure path.
var excludeFromDumps = func(data []byte) error {
	return unix.Madvise(data, unix.MADV_DONTDUMP)
}

// Zero overwrites a byte slice with zeros. Use on transient heap copies
// of secret material once they have served their purpose.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
