package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"shuttle/internal/coordinator"
	"shuttle/internal/daemon"
	"shuttle/internal/logging"
	"shuttle/internal/planner"
	"shuttle/internal/sessionstore"
)

// Control is the daemon surface the IPC layer exposes. *daemon.Daemon
// satisfies it; tests substitute stubs.
type Control interface {
	StartExport(ctx context.Context, req coordinator.ExportRequest) (string, error)
	CancelExport(id string) error
	Status(ctx context.Context) daemon.Status
	Sessions(ctx context.Context, limit int) ([]*sessionstore.Session, error)
	DescribeSession(ctx context.Context, id string) (*sessionstore.Session, error)
	ClearSessions(ctx context.Context) (int64, error)
}

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, control Control, logger *slog.Logger) (*Server, error) {
	if control == nil {
		return nil, errors.New("ipc server requires a control surface")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{control: control, logger: logging.WithComponent(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Shuttle", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually before restarting"))
	}
}

type service struct {
	control Control
	logger  *slog.Logger
	ctx     context.Context
}

func (s *service) StartExport(req StartExportRequest, resp *StartExportResponse) error {
	if strings.TrimSpace(req.SourcePath) == "" {
		return errors.New("source path is required")
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return errors.New("output path is required")
	}
	id, err := s.control.StartExport(s.ctx, coordinator.ExportRequest{
		SourcePath: req.SourcePath,
		OutputPath: req.OutputPath,
		Content: planner.ContentMetrics{
			TotalFrames: req.TotalFrames,
			FPS:         req.FPS,
			Width:       req.Width,
			Height:      req.Height,
		},
		ExtraArgs:         req.ExtraArgs,
		ForceSerialDecode: req.ForceSerialDecode,
		MaxWorkers:        req.MaxWorkers,
	})
	if err != nil {
		return err
	}
	resp.SessionID = id
	s.logger.Info("export started via IPC",
		logging.String(logging.FieldSessionID, id),
		logging.String(logging.FieldEventType, "export_start"))
	return nil
}

func (s *service) CancelExport(req CancelExportRequest, resp *CancelExportResponse) error {
	if err := s.control.CancelExport(req.SessionID); err != nil {
		return err
	}
	resp.Cancelled = true
	s.logger.Info("export cancelled via IPC",
		logging.String(logging.FieldSessionID, req.SessionID),
		logging.String(logging.FieldEventType, "export_cancel"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.control.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.StartedAt = status.StartedAt
	resp.SessionDBPath = status.SessionDBPath
	resp.LockPath = status.LockPath
	resp.Workers = append(resp.Workers, status.Workers...)
	if status.Active != nil {
		active := convertSession(status.Active)
		resp.Active = &active
	}
	return nil
}

func (s *service) SessionList(req SessionListRequest, resp *SessionListResponse) error {
	sessions, err := s.control.Sessions(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	resp.Sessions = make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess == nil {
			continue
		}
		resp.Sessions = append(resp.Sessions, convertSession(sess))
	}
	return nil
}

func (s *service) SessionClear(_ SessionClearRequest, resp *SessionClearResponse) error {
	removed, err := s.control.ClearSessions(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) SessionDescribe(req SessionDescribeRequest, resp *SessionDescribeResponse) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("session id is required")
	}
	sess, err := s.control.DescribeSession(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Session = convertSession(sess)
	return nil
}
