// Package operatorsock — server.go
//
// Unix domain socket server for remediation-agent operator overrides.
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/remediation-agent/operator.sock (configurable).
// Permissions: 0600, owned by the service account running the agent.
//
// Commands (JSON request → JSON response):
//
//   {"cmd":"reset_dampening","signal_key":"disk.free:/:C","device_id":"dev-1"}
//     → Clears remediation-memory dampening counters for the given
//       signal key on the given device, so the decision engine stops
//       suppressing further attempts against it.
//     → Response: {"ok":true}
//
//   {"cmd":"cancel_pending_action","signature_id":"abc123"}
//     → Removes a pending action from the awaiting-review set without
//       waiting for a server decision, e.g. after a human resolved the
//       issue out of band.
//     → Response: {"ok":true}
//
//   {"cmd":"list_tickets"}
//     → Returns a snapshot of all tracked action tickets.
//     → Response: {"ok":true,"tickets":[{...},...]}
//
//   {"cmd":"get_ticket","ticket_id":"t-1"}
//     → Returns a single ticket by ID.
//     → Response: {"ok":true,"tickets":[{...}]}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: 10s read, 10s write.
//   - Successful reset_dampening and cancel_pending_action commands are
//     logged; list_tickets and get_ticket are not.
package operatorsock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/ticket"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// Registry is the interface the operator server uses to read and mutate
// pipeline-domain state. Implemented by the pipeline coordinator.
type Registry interface {
	// ResetDampening clears remediation-memory counters for a signal
	// key on a device, allowing suppressed remediation to resume.
	ResetDampening(signalKey, deviceID string) error

	// CancelPendingAction removes a signature from the
	// awaiting-review set without a server reply.
	CancelPendingAction(signatureID string) error

	// ListTickets returns a snapshot of every tracked ticket.
	ListTickets() []ticket.ActionTicket

	// GetTicket returns a single ticket by ID.
	GetTicket(ticketID string) (ticket.ActionTicket, bool)
}

// Request is the JSON structure for operator commands.
type Request struct {
	Cmd         string `json:"cmd"`
	SignalKey   string `json:"signal_key,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	SignatureID string `json:"signature_id,omitempty"`
	TicketID    string `json:"ticket_id,omitempty"`
}

// Response is the JSON structure for operator command responses.
type Response struct {
	OK      bool                    `json:"ok"`
	Error   string                  `json:"error,omitempty"`
	Tickets []ticket.ActionTicket   `json:"tickets,omitempty"`
}

// Server is the operator Unix domain socket server.
type Server struct {
	socketPath string
	runDir     string
	registry   Registry
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an operator Server. runDir is created (if missing)
// as the socket's parent directory.
func NewServer(socketPath, runDir string, registry Registry, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		runDir:     runDir,
		registry:   registry,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the operator socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("operatorsock: remove stale socket %q: %w", s.socketPath, err)
	}

	dir := s.runDir
	if dir == "" {
		dir = filepath.Dir(s.socketPath)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("operatorsock: mkdir %q: %w", dir, err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("operatorsock: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("operatorsock: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("operator socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("operatorsock: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("operatorsock: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("operatorsock: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "reset_dampening":
		return s.cmdResetDampening(req)
	case "cancel_pending_action":
		return s.cmdCancelPendingAction(req)
	case "list_tickets":
		return s.cmdListTickets()
	case "get_ticket":
		return s.cmdGetTicket(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdResetDampening(req Request) Response {
	if req.SignalKey == "" || req.DeviceID == "" {
		return Response{OK: false, Error: "signal_key and device_id required for reset_dampening"}
	}
	if err := s.registry.ResetDampening(req.SignalKey, req.DeviceID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operatorsock: dampening reset",
		zap.String("signal_key", req.SignalKey),
		zap.String("device_id", req.DeviceID))
	return Response{OK: true}
}

func (s *Server) cmdCancelPendingAction(req Request) Response {
	if req.SignatureID == "" {
		return Response{OK: false, Error: "signature_id required for cancel_pending_action"}
	}
	if err := s.registry.CancelPendingAction(req.SignatureID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("operatorsock: pending action cancelled", zap.String("signature_id", req.SignatureID))
	return Response{OK: true}
}

func (s *Server) cmdListTickets() Response {
	return Response{OK: true, Tickets: s.registry.ListTickets()}
}

func (s *Server) cmdGetTicket(req Request) Response {
	if req.TicketID == "" {
		return Response{OK: false, Error: "ticket_id required for get_ticket"}
	}
	t, ok := s.registry.GetTicket(req.TicketID)
	if !ok {
		return Response{OK: false, Error: fmt.Sprintf("ticket %q not found", req.TicketID)}
	}
	return Response{OK: true, Tickets: []ticket.ActionTicket{t}}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
