// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"context"
	"fmt"
	"sync"
)

type asyncSource struct {
	src Source

	mu      sync.Mutex
	pending chan Reading
}

// Async returns a Source that gives up on src when ctx is done, even if src
// is blocked in a bus transaction that cannot be interrupted.
//
// At most one read of src is in flight. While an abandoned read is still
// running, further reads fail with ErrBusy. A read that completes after
// being abandoned is discarded.
func Async(src Source) Source {
	return &asyncSource{src: src}
}

func (a *asyncSource) Read(ctx context.Context) Reading {
	a.mu.Lock()
	if a.pending != nil {
		select {
		case <-a.pending:
			// Abandoned read finished, too late to be used.
		default:
			a.mu.Unlock()
			return Failed(ErrBusy)
		}
	}
	ch := make(chan Reading, 1)
	a.pending = ch
	a.mu.Unlock()

	go func() {
		ch <- a.src.Read(ctx)
	}()

	select {
	case r := <-ch:
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		return r
	case <-ctx.Done():
		return Failed(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
	}
}

func (a *asyncSource) String() string {
	return fmt.Sprintf("async(%v)", a.src)
}
