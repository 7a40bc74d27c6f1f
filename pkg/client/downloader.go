// Copyright 2026 Scalaris Ledger
//
// A cooperative fetch-once cache for missing certificates. Concurrent
// callers asking for the same sequence number share a single in-flight
// query; results are memoized and drained back to the caller at the end.

package client

import (
	"context"
	"sort"
	"sync"

	"github.com/scalaris-ledger/scalaris/pkg/base"
	"github.com/scalaris-ledger/scalaris/pkg/messages"
)

type downloadEntry struct {
	done chan struct{}
	cert *messages.Certificate
	err  error
}

// downloader coalesces certificate fetches by sequence number.
type downloader struct {
	fetch func(ctx context.Context, seq base.SequenceNumber) (*messages.Certificate, error)

	mu      sync.Mutex
	entries map[base.SequenceNumber]*downloadEntry
}

// newDownloader builds a downloader seeded with already-known certificates.
func newDownloader(
	fetch func(ctx context.Context, seq base.SequenceNumber) (*messages.Certificate, error),
	known []messages.Certificate,
	accountID base.AccountID,
) *downloader {
	d := &downloader{
		fetch:   fetch,
		entries: make(map[base.SequenceNumber]*downloadEntry),
	}
	for i := range known {
		cert := known[i]
		request := cert.Value.ConfirmRequest()
		if request == nil || !request.AccountID.Equal(accountID) {
			continue
		}
		entry := &downloadEntry{done: make(chan struct{}), cert: &cert}
		close(entry.done)
		d.entries[request.SequenceNumber] = entry
	}
	return d
}

// Query returns the certificate for the sequence number, fetching it at
// most once across all concurrent callers.
func (d *downloader) Query(ctx context.Context, seq base.SequenceNumber) (*messages.Certificate, error) {
	d.mu.Lock()
	if entry, ok := d.entries[seq]; ok {
		d.mu.Unlock()
		select {
		case <-entry.done:
			return entry.cert, entry.err
		case <-ctx.Done():
			return nil, base.NewClientIOError(ctx.Err().Error())
		}
	}
	entry := &downloadEntry{done: make(chan struct{})}
	d.entries[seq] = entry
	d.mu.Unlock()

	entry.cert, entry.err = d.fetch(ctx, seq)
	close(entry.done)
	return entry.cert, entry.err
}

// Certificates drains the successful downloads in sequence order.
func (d *downloader) Certificates() []messages.Certificate {
	d.mu.Lock()
	defer d.mu.Unlock()
	seqs := make([]base.SequenceNumber, 0, len(d.entries))
	for seq, entry := range d.entries {
		select {
		case <-entry.done:
			if entry.err == nil && entry.cert != nil {
				seqs = append(seqs, seq)
			}
		default:
			// Still in flight; skip.
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	out := make([]messages.Certificate, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, *d.entries[seq].cert)
	}
	return out
}
