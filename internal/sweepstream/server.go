package sweepstream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/banshee-data/rangesweep/internal/monitoring"
	"github.com/banshee-data/rangesweep/internal/scan"
	"github.com/banshee-data/rangesweep/internal/shutdown"
	"github.com/banshee-data/rangesweep/internal/timeutil"
)

// DefaultPollInterval is how often a stream checks the history for new
// frames.
const DefaultPollInterval = 50 * time.Millisecond

// maxMsgSize fits a few thousand points per frame with room to spare.
const maxMsgSize = 4 * 1024 * 1024

// Source provides consistent copies of the frame history.
type Source interface {
	Snapshot() scan.Snapshot
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the clock driving the poll ticker.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPollInterval sets how often streams look for new frames.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// Server streams frames from a Source to every subscriber. A subscriber
// first receives the newest frame, then each frame appended after it in
// order. Streams end cleanly once shutdown is requested.
type Server struct {
	source   Source
	sd       *shutdown.Coordinator
	clock    timeutil.Clock
	logger   *zap.SugaredLogger
	interval time.Duration

	clients atomic.Int64
	sent    atomic.Uint64
	skipped atomic.Uint64
}

var _ FrameStreamer = (*Server)(nil)

// NewServer creates a frame stream server.
func NewServer(source Source, sd *shutdown.Coordinator, opts ...Option) *Server {
	s := &Server{
		source:   source,
		sd:       sd,
		clock:    timeutil.RealClock{},
		logger:   monitoring.L(),
		interval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Clients uint64 `json:"clients"`
	Sent    uint64 `json:"frames_sent"`
	Skipped uint64 `json:"frames_skipped"`
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Clients: uint64(max(s.clients.Load(), 0)),
		Sent:    s.sent.Load(),
		Skipped: s.skipped.Load(),
	}
}

// StreamFrames implements FrameStreamer.
func (s *Server) StreamFrames(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	s.clients.Add(1)
	defer s.clients.Add(-1)
	s.logger.Infow("stream client connected", "clients", s.clients.Load())

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	var last uint64
	first := true
	for {
		snap := s.source.Snapshot()
		if snap.Version != last && snap.Len() > 0 {
			var pending []*scan.Frame
			if first {
				pending = snap.Frames[snap.Len()-1:]
			} else {
				n := snap.Version - last
				if n > uint64(snap.Len()) {
					s.skipped.Add(n - uint64(snap.Len()))
					n = uint64(snap.Len())
				}
				pending = snap.Frames[snap.Len()-int(n):]
			}
			for _, f := range pending {
				if err := stream.SendMsg(EncodeFrame(f)); err != nil {
					s.logger.Debugw("stream send failed", "error", err)
					return err
				}
				s.sent.Add(1)
			}
			last = snap.Version
			first = false
		}

		select {
		case <-ctx.Done():
			s.logger.Infow("stream client disconnected")
			return ctx.Err()
		case <-s.sd.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Endpoint is a listening gRPC server carrying the SweepStream service.
type Endpoint struct {
	server *grpc.Server
	lis    net.Listener
	logger *zap.SugaredLogger
	wg     sync.WaitGroup
}

// Listen starts serving srv on addr.
func Listen(addr string, srv *Server) (*Endpoint, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return Serve(lis, srv), nil
}

// Serve starts serving srv on an existing listener.
func Serve(lis net.Listener, srv *Server) *Endpoint {
	e := &Endpoint{
		server: grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize)),
		lis:    lis,
		logger: srv.logger,
	}
	RegisterService(e.server, srv)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.server.Serve(lis); err != nil {
			e.logger.Errorw("stream server failed", "error", err)
		}
	}()
	e.logger.Infow("stream server listening", "addr", lis.Addr().String())
	return e
}

// Addr returns the listen address.
func (e *Endpoint) Addr() string {
	return e.lis.Addr().String()
}

// Stop waits for open streams to finish and closes the listener. Streams
// end on their own once shutdown is requested; ctx bounds the wait before
// they are cut off.
func (e *Endpoint) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.server.Stop()
		<-done
	}
	e.wg.Wait()
}
