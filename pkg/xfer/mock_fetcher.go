package xfer

import "context"

// MockFetcher serves a fixed byte slice in ChunkSize-sized pieces
// (ChunkMax if ChunkSize is zero) without touching the network. Used by
// the tests of pkg/pipeline/download and pkg/service.
type MockFetcher struct {
	Data       []byte
	ChunkSize  int
	FailAt     bool // if true, OnTransferComplete(false) instead of (true) at EOF
	offset     uint64
	terminated bool
}

var _ Fetcher = (*MockFetcher)(nil)

func (f *MockFetcher) SetOffset(n uint64) { f.offset = n }

func (f *MockFetcher) chunkSize() int {
	if f.ChunkSize > 0 {
		return f.ChunkSize
	}
	return ChunkMax
}

// Begin delivers the configured data synchronously, starting at offset, in
// chunkSize()-sized pieces, then one terminal callback. Synchronous
// delivery is fine for a mock: real suspension points are exercised by
// HTTPFetcher and by the Reactor scheduling the stage performs around it.
func (f *MockFetcher) Begin(ctx context.Context, delegate Delegate) {
	pos := f.offset
	size := uint64(f.chunkSize())
	for pos < uint64(len(f.Data)) {
		if f.terminated {
			delegate.OnTransferTerminated()
			return
		}
		end := pos + size
		if end > uint64(len(f.Data)) {
			end = uint64(len(f.Data))
		}
		chunk := append([]byte(nil), f.Data[pos:end]...)
		delegate.OnChunk(pos, chunk)
		pos = end
	}
	if f.terminated {
		delegate.OnTransferTerminated()
		return
	}
	delegate.OnTransferComplete(!f.FailAt)
}

func (f *MockFetcher) Terminate() { f.terminated = true }
