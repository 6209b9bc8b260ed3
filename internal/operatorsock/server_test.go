package operatorsock

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/ticket"
)

type fakeRegistry struct {
	resetCalls    []string
	cancelCalls   []string
	tickets       map[string]ticket.ActionTicket
	resetErr      error
	cancelErr     error
}

func (f *fakeRegistry) ResetDampening(signalKey, deviceID string) error {
	f.resetCalls = append(f.resetCalls, signalKey+"|"+deviceID)
	return f.resetErr
}

func (f *fakeRegistry) CancelPendingAction(signatureID string) error {
	f.cancelCalls = append(f.cancelCalls, signatureID)
	return f.cancelErr
}

func (f *fakeRegistry) ListTickets() []ticket.ActionTicket {
	out := make([]ticket.ActionTicket, 0, len(f.tickets))
	for _, t := range f.tickets {
		out = append(out, t)
	}
	return out
}

func (f *fakeRegistry) GetTicket(ticketID string) (ticket.ActionTicket, bool) {
	t, ok := f.tickets[ticketID]
	return t, ok
}

func startTestServer(t *testing.T, reg *fakeRegistry) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "operator.sock")
	srv := NewServer(sockPath, dir, reg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ListenAndServe(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", sockPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	return sockPath, func() {
		cancel()
		<-done
	}
}

func roundTrip(t *testing.T, sockPath string, req Request) Response {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestResetDampening(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "reset_dampening", SignalKey: "disk.free:/:C", DeviceID: "dev-1"})
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if len(reg.resetCalls) != 1 || reg.resetCalls[0] != "disk.free:/:C|dev-1" {
		t.Errorf("unexpected reset calls: %v", reg.resetCalls)
	}
}

func TestResetDampening_MissingFieldsRejected(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "reset_dampening"})
	if resp.OK {
		t.Fatal("expected rejection for missing signal_key/device_id")
	}
}

func TestCancelPendingAction(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "cancel_pending_action", SignatureID: "sig-1"})
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if len(reg.cancelCalls) != 1 || reg.cancelCalls[0] != "sig-1" {
		t.Errorf("unexpected cancel calls: %v", reg.cancelCalls)
	}
}

func TestCancelPendingAction_PropagatesRegistryError(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}, cancelErr: errors.New("not found")}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "cancel_pending_action", SignatureID: "sig-missing"})
	if resp.OK {
		t.Fatal("expected failure to propagate from registry")
	}
}

func TestListTickets(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{
		"t-1": {TicketID: "t-1", Status: ticket.StatusOpen},
	}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "list_tickets"})
	if !resp.OK || len(resp.Tickets) != 1 {
		t.Fatalf("expected one ticket, got %+v", resp)
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "get_ticket", TicketID: "missing"})
	if resp.OK {
		t.Fatal("expected not-found error")
	}
}

func TestUnknownCommand(t *testing.T) {
	reg := &fakeRegistry{tickets: map[string]ticket.ActionTicket{}}
	sock, stop := startTestServer(t, reg)
	defer stop()

	resp := roundTrip(t, sock, Request{Cmd: "bogus"})
	if resp.OK {
		t.Fatal("expected rejection of unknown command")
	}
}
