package renderworker

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"shuttle/internal/wire"
)

// syncBuffer lets the server goroutine write messages while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) messages(t *testing.T) []wire.Message {
	t.Helper()
	b.mu.Lock()
	data := b.buf.String()
	b.mu.Unlock()
	dec := wire.NewDecoder(bytes.NewReader([]byte(data)))
	var msgs []wire.Message
	for {
		msg, err := dec.DecodeMessage()
		if err == io.EOF {
			return msgs
		}
		if err != nil {
			t.Fatalf("decode emitted message: %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func TestServeRunsExportAndReturnsOnEOF(t *testing.T) {
	renderer := &fakeRenderer{}
	sampler := healthySampler()
	worker := testWorker(renderer, sampler)

	in, inWriter := io.Pipe()
	var out syncBuffer
	server := NewServer(worker, sampler, in, &out, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	job := chunkedJob(t, 2, false)
	enc := wire.NewEncoder(inWriter)
	if err := enc.EncodeRequest(wire.Request{ID: "r-1", Type: wire.RequestExport, Job: &job}); err != nil {
		t.Fatalf("send export: %v", err)
	}
	if err := enc.EncodeRequest(wire.Request{ID: "q-1", Type: wire.RequestStatus}); err != nil {
		t.Fatalf("send status: %v", err)
	}

	// Wait for the result to land before closing the request stream.
	deadline := time.After(5 * time.Second)
	for {
		var result *wire.ExportResult
		for _, msg := range out.messages(t) {
			if msg.Type == wire.MessageResult && msg.ID == "r-1" {
				result = msg.Result
			}
		}
		if result != nil {
			if !result.OK {
				t.Fatalf("export failed: %s", result.Error)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for export result")
		case <-time.After(10 * time.Millisecond):
		}
	}

	inWriter.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	sawStatus := false
	for _, msg := range out.messages(t) {
		if msg.Type == wire.MessageHeartbeat && msg.ID == "q-1" {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatal("status request did not produce a heartbeat reply")
	}
}

func TestServeRejectsSecondConcurrentJob(t *testing.T) {
	// A renderer that blocks until released keeps the first job busy.
	release := make(chan struct{})
	renderer := &blockingRenderer{release: release}
	sampler := healthySampler()
	worker := testWorker(renderer, sampler)

	in, inWriter := io.Pipe()
	var out syncBuffer
	server := NewServer(worker, sampler, in, &out, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- server.Serve(context.Background()) }()

	job := chunkedJob(t, 1, false)
	enc := wire.NewEncoder(inWriter)
	if err := enc.EncodeRequest(wire.Request{ID: "r-1", Type: wire.RequestExport, Job: &job}); err != nil {
		t.Fatalf("send first export: %v", err)
	}
	<-renderer.started()
	if err := enc.EncodeRequest(wire.Request{ID: "r-2", Type: wire.RequestExport, Job: &job}); err != nil {
		t.Fatalf("send second export: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		rejected := false
		for _, msg := range out.messages(t) {
			if msg.Type == wire.MessageResult && msg.ID == "r-2" && msg.Result != nil && !msg.Result.OK {
				rejected = true
			}
		}
		if rejected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("second job was not rejected")
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(release)
	inWriter.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

type blockingRenderer struct {
	release   chan struct{}
	mu        sync.Mutex
	startedCh chan struct{}
}

func (b *blockingRenderer) started() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startedCh == nil {
		b.startedCh = make(chan struct{})
	}
	return b.startedCh
}

func (b *blockingRenderer) RenderRange(ctx context.Context, req RenderRequest, progress FrameProgress) error {
	b.mu.Lock()
	if b.startedCh == nil {
		b.startedCh = make(chan struct{})
	}
	ch := b.startedCh
	b.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}
