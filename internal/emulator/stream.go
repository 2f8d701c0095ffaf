package emulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sentra-lang/pcodec/internal/pcode"
)

// StepEvent is one broadcast frame: the op just executed, the memory
// delta it caused, and the PC it left the Emulator at.
type StepEvent struct {
	Opcode  string `json:"opcode"`
	Addr    string `json:"addr"`
	PC      string `json:"pc"`
	Written []MemDelta `json:"written,omitempty"`
}

// MemDelta is one (space, offset, size, value) write recorded for a step.
type MemDelta struct {
	Space string `json:"space"`
	Offset uint64 `json:"offset"`
	Size   int    `json:"size"`
	Value  uint64 `json:"value"`
}

// StepStream is an optional live viewer: it wraps an Emulator, steps it,
// and broadcasts a StepEvent to every connected websocket client after
// each step. Grounded on internal/network/websocket.go's
// WebSocketServer (upgrader + client map + best-effort broadcast),
// generalized from "chat/event relay" to "decompiler step relay."
type StepStream struct {
	e        *Emulator
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*websocket.Conn
	nextID  int
}

func NewStepStream(e *Emulator) *StepStream {
	return &StepStream{
		e:       e,
		clients: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler is an http.HandlerFunc that upgrades the connection and
// registers it as a step-event subscriber until it disconnects.
func (s *StepStream) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.nextID++
	id := s.clientKey(s.nextID)
	s.clients[id] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StepStream) clientKey(n int) string {
	return fmt.Sprintf("client-%d", n)
}

// Step executes one Emulator step, then broadcasts a StepEvent
// describing it to every connected client; write errors just drop that
// client the way WebSocketBroadcast does.
func (s *StepStream) Step() error {
	before := s.e.pc
	op := s.currentOp()
	if op == nil {
		if ops, _, err := s.e.translator.Translate(s.e.fd, s.e.pc); err == nil && len(ops) > 0 {
			op = ops[0]
		}
	}

	if err := s.e.Step(); err != nil {
		return err
	}
	if s.e.cacheIdx == 0 && len(s.e.cache) > 0 {
		op = nil // an address breakpoint suppressed the op
	}

	ev := StepEvent{PC: addrString(s.e.pc), Addr: addrString(before)}
	if op != nil {
		ev.Opcode = op.Opcode.String()
		if op.Output != nil {
			ev.Written = []MemDelta{{
				Space:  op.Output.Addr.Space.Name,
				Offset: op.Output.Addr.Offset,
				Size:   op.Output.Size,
				Value:  s.e.Mem.ReadVarnode(op.Output),
			}}
		}
	}
	s.broadcast(ev)
	return nil
}

func (s *StepStream) currentOp() *pcode.PcodeOp {
	if s.e.cacheIdx < len(s.e.cache) {
		return s.e.cache[s.e.cacheIdx]
	}
	return nil
}

func (s *StepStream) broadcast(ev StepEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.RLock()
	conns := make(map[string]*websocket.Conn, len(s.clients))
	for id, c := range s.clients {
		conns[id] = c
	}
	s.mu.RUnlock()
	for id, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			c.Close()
		}
	}
}

func addrString(a pcode.Address) string {
	name := "?"
	if a.Space != nil {
		name = a.Space.Name
	}
	return fmt.Sprintf("%s:0x%x", name, a.Offset)
}
