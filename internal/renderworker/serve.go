package renderworker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"shuttle/internal/logging"
	"shuttle/internal/machine"
	"shuttle/internal/wire"
)

// Server speaks the worker protocol over a request stream (stdin) and a
// message stream (stdout), running at most one export job at a time and
// emitting heartbeats while alive.
type Server struct {
	worker            *Worker
	sampler           Sampler
	enc               *wire.Encoder
	dec               *wire.Decoder
	heartbeatInterval time.Duration
	logger            *slog.Logger

	mu          sync.Mutex
	busy        bool
	cancelJob   context.CancelFunc
	concurrency int
	jobs        sync.WaitGroup
}

// NewServer wires a worker to its protocol streams.
func NewServer(worker *Worker, sampler Sampler, in io.Reader, out io.Writer, heartbeatInterval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		worker:            worker,
		sampler:           sampler,
		enc:               wire.NewEncoder(out),
		dec:               wire.NewDecoder(in),
		heartbeatInterval: heartbeatInterval,
		logger:            logging.WithComponent(logger, "worker_server"),
	}
}

// Serve processes requests until the input stream closes or ctx is
// cancelled. Closing stdin is the daemon's shutdown signal; any job still
// running is cancelled and awaited before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go s.heartbeatLoop(ctx, done)

	var serveErr error
	for {
		req, err := s.dec.DecodeRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				serveErr = err
			}
			break
		}
		switch req.Type {
		case wire.RequestExport:
			s.startJob(ctx, req)
		case wire.RequestStatus:
			s.emitHeartbeat(req.ID)
		case wire.RequestCancel:
			s.requestCancel()
		}
	}

	s.requestCancel()
	cancel()
	s.jobs.Wait()
	<-done
	return serveErr
}

func (s *Server) startJob(ctx context.Context, req wire.Request) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.emit(wire.Message{
			ID:   req.ID,
			Type: wire.MessageResult,
			Result: &wire.ExportResult{
				Error:     "worker already running a job",
				ErrorKind: "worker_spawn",
			},
		})
		return
	}
	jobCtx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancelJob = cancel
	s.concurrency = req.Job.Concurrency
	s.jobs.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.jobs.Done()
		defer cancel()
		result := s.worker.Run(jobCtx, req.ID, *req.Job, s.trackingEmitter())
		s.mu.Lock()
		s.busy = false
		s.cancelJob = nil
		s.mu.Unlock()
		s.emit(wire.Message{ID: req.ID, Type: wire.MessageResult, Result: &result})
	}()
}

func (s *Server) requestCancel() {
	s.mu.Lock()
	cancel := s.cancelJob
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// trackingEmitter forwards messages and remembers the latest concurrency so
// heartbeats report what the adaptive loop is actually doing.
func (s *Server) trackingEmitter() Emitter {
	return func(msg wire.Message) {
		if msg.Progress != nil && msg.Progress.Concurrency > 0 {
			s.mu.Lock()
			s.concurrency = msg.Progress.Concurrency
			s.mu.Unlock()
		}
		s.emit(msg)
	}
}

func (s *Server) heartbeatLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitHeartbeat("")
		}
	}
}

func (s *Server) emitHeartbeat(id string) {
	snap, err := s.sampler.Sample()
	if err != nil {
		snap = machine.Snapshot{}
	}
	s.mu.Lock()
	busy := s.busy
	concurrency := s.concurrency
	s.mu.Unlock()
	s.emit(wire.Message{
		ID:   id,
		Type: wire.MessageHeartbeat,
		Heartbeat: &wire.Heartbeat{
			RSSMB:       snap.RSSMB,
			FreeMB:      snap.FreeMB,
			Concurrency: concurrency,
			Busy:        busy,
		},
	})
}

func (s *Server) emit(msg wire.Message) {
	if err := s.enc.EncodeMessage(msg); err != nil {
		s.logger.Warn("failed to emit message",
			logging.String("type", msg.Type),
			logging.Error(err),
		)
	}
}
