// Package server owns the TCP accept loop and the single-writer driver
// task. Each connection gets its own transport goroutine; every parsed
// command is funneled through one channel to the driver goroutine, so the
// cache sees a total order without any locking in the engine.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	derrors "github.com/y3owk1n/kioku/internal/errors"
	"github.com/y3owk1n/kioku/internal/infra/metrics"
	"github.com/y3owk1n/kioku/internal/infra/trace"
	"github.com/y3owk1n/kioku/internal/protocol"
	"github.com/y3owk1n/kioku/internal/transport"
	"go.uber.org/zap"
)

const (
	// requestBacklog bounds commands in flight between transports and the
	// driver.
	requestBacklog = 64

	// drainTimeout bounds how long Stop waits for connection handlers.
	drainTimeout = 1 * time.Second
)

// request couples a parsed command with its reply channel and the issuing
// transport's byte-counter snapshot.
type request struct {
	connID  trace.ID
	cmd     protocol.Cmd
	stats   protocol.TransportStats
	replyCh chan protocol.Resp
}

// Server accepts connections and routes their commands to the driver.
type Server struct {
	listener  net.Listener
	driver    *protocol.Driver
	logger    *zap.Logger
	collector metrics.Collector
	requests  chan request
	done      chan struct{}
	wg        sync.WaitGroup
	driverWG  sync.WaitGroup
}

// New binds addr and prepares a server around the given driver. The
// collector receives per-verb timing histograms; pass a NoOpCollector to
// disable that.
func New(
	addr string,
	driver *protocol.Driver,
	logger *zap.Logger,
	collector metrics.Collector,
) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, derrors.Wrapf(err, derrors.CodeBindFailed, "failed to bind %s", addr)
	}

	logger.Info("server listening", zap.String("addr", listener.Addr().String()))

	return &Server{
		listener:  listener,
		driver:    driver,
		logger:    logger,
		collector: collector,
		requests:  make(chan request, requestBacklog),
		done:      make(chan struct{}),
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start launches the driver goroutine and the accept loop. It does not
// block.
func (s *Server) Start() {
	s.driverWG.Add(1)

	go s.driverLoop()

	go func() {
		for {
			conn, acceptErr := s.listener.Accept()
			if acceptErr != nil {
				// A closed listener means we are shutting down
				if errors.Is(acceptErr, net.ErrClosed) {
					s.logger.Info("listener closed, stopping accept loop")

					return
				}

				s.logger.Error("failed to accept connection", zap.Error(acceptErr))

				continue
			}

			s.wg.Add(1)

			go s.handleConnection(conn)
		}
	}()
}

// Stop closes the listener, drains connection handlers for a bounded time,
// then stops the driver and logs the timing summary.
func (s *Server) Stop() error {
	closeErr := s.listener.Close()
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return derrors.Wrap(closeErr, derrors.CodeInternal, "failed to close listener")
	}

	drained := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn("timeout waiting for connections to close")
	}

	close(s.done)
	s.driverWG.Wait()

	s.logTimings()

	return nil
}

// driverLoop is the single writer: it executes commands one at a time in
// arrival order. Before each command it refreshes the driver's view of the
// summed transport byte counters.
func (s *Server) driverLoop() {
	defer s.driverWG.Done()

	perTransport := make(map[trace.ID]protocol.TransportStats)

	for {
		select {
		case req := <-s.requests:
			perTransport[req.connID] = req.stats
			s.driver.UpdateTransportStats(sumStats(perTransport))

			started := time.Now()
			resp := s.driver.Run(req.cmd)

			s.collector.ObserveHistogram(
				"cmd_duration_seconds",
				time.Since(started).Seconds(),
				map[string]string{"verb": protocol.CmdName(req.cmd)},
			)

			req.replyCh <- resp
		case <-s.done:
			return
		}
	}
}

func sumStats(perTransport map[trace.ID]protocol.TransportStats) protocol.TransportStats {
	var total protocol.TransportStats

	for _, stats := range perTransport {
		total.BytesRead += stats.BytesRead
		total.BytesWritten += stats.BytesWritten
	}

	return total
}

// handleConnection runs the per-connection read/dispatch/write loop until
// the client quits, the stream breaks, or the server shuts down.
func (s *Server) handleConnection(conn net.Conn) {
	connID := trace.NewID()
	logger := s.logger.With(
		zap.String("conn_id", connID.String()),
		zap.String("remote", conn.RemoteAddr().String()),
	)

	defer func() {
		connCloseErr := conn.Close()
		if connCloseErr != nil && !errors.Is(connCloseErr, net.ErrClosed) {
			logger.Error("failed to close connection", zap.Error(connCloseErr))
		}

		s.wg.Done()
	}()

	logger.Info("connection accepted")

	tp := transport.New(conn)
	replyCh := make(chan protocol.Resp, 1)

	for {
		cmd, readErr := tp.ReadCommand()
		if readErr != nil {
			// A broken stream gets no response; a malformed command on a
			// live stream gets ERROR and the connection continues
			if derrors.IsStreamError(readErr) {
				logger.Info("connection closed", zap.String("reason", readErr.Error()))

				return
			}

			logger.Warn("rejected command", zap.Error(readErr))

			writeErr := tp.WriteResponse(protocol.Error)
			if writeErr != nil {
				logger.Error("failed to write error response", zap.Error(writeErr))

				return
			}

			continue
		}

		logger.Debug("received command", zap.String("verb", protocol.CmdName(cmd)))

		select {
		case s.requests <- request{connID: connID, cmd: cmd, stats: tp.Stats(), replyCh: replyCh}:
		case <-s.done:
			return
		}

		var resp protocol.Resp

		select {
		case resp = <-replyCh:
		case <-s.done:
			return
		}

		writeErr := tp.WriteResponse(resp)
		if writeErr != nil {
			logger.Error("failed to write response", zap.Error(writeErr))

			return
		}

		if _, isQuit := cmd.(protocol.Quit); isQuit {
			logger.Info("client quit")

			return
		}
	}
}

// logTimings emits the aggregated per-command timings collected during the
// server's lifetime.
func (s *Server) logTimings() {
	snapshot := s.collector.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	for name, agg := range metrics.Aggregates(snapshot) {
		s.logger.Info("command timing",
			zap.String("metric", name),
			zap.Uint64("count", agg.Count),
			zap.Float64("avg_secs", agg.Avg),
			zap.Float64("min_secs", agg.Min),
			zap.Float64("max_secs", agg.Max))
	}
}
