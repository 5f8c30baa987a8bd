package xfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/arithx/update-engine/pkg/reactor"
)

// ChunkMax is the engine-wide maximum chunk size delivered per callback.
const ChunkMax = 64 * 1024

// Delegate receives chunks and exactly one terminal callback from a
// Fetcher.
type Delegate interface {
	OnChunk(offset uint64, data []byte)
	// OnTransferComplete fires when the fetch ran to completion; success is
	// false if the transport failed (but was not cancelled).
	OnTransferComplete(success bool)
	// OnTransferTerminated fires instead of OnTransferComplete when
	// Terminate() caused the stop.
	OnTransferTerminated()
}

// Fetcher is the HTTP Fetcher contract: a resumable, cancellable,
// chunked byte source.
type Fetcher interface {
	SetOffset(n uint64)
	Begin(ctx context.Context, delegate Delegate)
	Terminate()
}

// HTTPFetcher performs a resumable, cancellable ranged GET, delivering the
// response body in ChunkMax-sized pieces through the injected Reactor:
// every chunk hand-off and the terminal callback are scheduled rather than
// called inline, so production and fake reactors see the same suspension
// points.
type HTTPFetcher struct {
	URL        string
	Client     *http.Client
	React      reactor.Reactor
	offset     uint64
	cancel     context.CancelFunc
	terminated bool
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher returns a Fetcher for url using client (http.DefaultClient
// if nil) and react to schedule chunk delivery.
func NewHTTPFetcher(url string, client *http.Client, react reactor.Reactor) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{URL: url, Client: client, React: react}
}

func (f *HTTPFetcher) SetOffset(n uint64) { f.offset = n }

func (f *HTTPFetcher) Begin(ctx context.Context, delegate Delegate) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.terminated = false

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		f.React.Schedule(0, func() { delegate.OnTransferComplete(false) })
		return
	}
	if f.offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", f.offset))
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		if f.terminated {
			f.React.Schedule(0, delegate.OnTransferTerminated)
		} else {
			f.React.Schedule(0, func() { delegate.OnTransferComplete(false) })
		}
		return
	}

	go f.pump(resp.Body, delegate)
}

// pump reads the body in ChunkMax pieces and hands each to the reactor.
// It runs on its own goroutine because the underlying network read blocks,
// but every delegate callback is still funneled through f.React.Schedule,
// so from the delegate's point of view chunks still arrive one at a time,
// in order, on the reactor's single logical task.
func (f *HTTPFetcher) pump(body io.ReadCloser, delegate Delegate) {
	defer body.Close()
	offset := f.offset
	buf := make([]byte, ChunkMax)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			off := offset
			f.React.Schedule(0, func() { delegate.OnChunk(off, chunk) })
			offset += uint64(n)
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if f.terminated {
					f.React.Schedule(0, delegate.OnTransferTerminated)
				} else {
					f.React.Schedule(0, func() { delegate.OnTransferComplete(true) })
				}
				return
			}
			if f.terminated {
				f.React.Schedule(0, delegate.OnTransferTerminated)
			} else {
				f.React.Schedule(0, func() { delegate.OnTransferComplete(false) })
			}
			return
		}
	}
}

// Terminate requests cancellation; the fetcher delivers
// OnTransferTerminated() once its in-flight read unblocks.
func (f *HTTPFetcher) Terminate() {
	f.terminated = true
	if f.cancel != nil {
		f.cancel()
	}
}
