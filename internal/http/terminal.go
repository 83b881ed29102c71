package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/gorilla/websocket"

	"github.com/Datify-sh/Datify/internal/domain"
	"github.com/Datify-sh/Datify/internal/engine"
)

const (
	terminalKindShell  = "terminal"
	terminalKindPsql   = "psql"
	terminalKindValkey = "valkey-cli"
	terminalKindRedis  = "redis-cli"

	terminalWriteWait = 10 * time.Second
	terminalReadBuf   = 4096
)

// sessionKey identifies one interactive session slot. A second connect on
// the same key replaces the first.
type sessionKey struct {
	userID     string
	databaseID string
	kind       string
}

// terminalSession owns one upgraded connection. Writes are serialized and
// deadline-bounded; a terminal peer that stops reading blocks its own
// output instead of the whole daemon.
type terminalSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func (s *terminalSession) writeFrame(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(terminalWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// closeWith sends a close frame and tears the connection down. Safe to call
// more than once and from any goroutine.
func (s *terminalSession) closeWith(code int, reason string) {
	s.once.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(terminalWriteWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// sessionRegistry enforces the per-instance session cap and the
// one-session-per-slot rule.
type sessionRegistry struct {
	mu    sync.Mutex
	limit int
	open  map[sessionKey]*terminalSession
	count map[string]int
}

func newSessionRegistry(limit int) *sessionRegistry {
	return &sessionRegistry{
		limit: limit,
		open:  make(map[sessionKey]*terminalSession),
		count: make(map[string]int),
	}
}

// claim reserves a slot, closing any previous session on the same key. It
// reports false when the instance is at its cap.
func (sr *sessionRegistry) claim(key sessionKey, s *terminalSession) bool {
	sr.mu.Lock()
	prev, replaced := sr.open[key]
	if !replaced && sr.limit > 0 && sr.count[key.databaseID] >= sr.limit {
		sr.mu.Unlock()
		return false
	}
	sr.open[key] = s
	if !replaced {
		sr.count[key.databaseID]++
	}
	sr.mu.Unlock()
	if replaced {
		prev.closeWith(websocket.CloseGoingAway, "session replaced")
	}
	return true
}

func (sr *sessionRegistry) release(key sessionKey, s *terminalSession) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.open[key] != s {
		return
	}
	delete(sr.open, key)
	if n := sr.count[key.databaseID]; n <= 1 {
		delete(sr.count, key.databaseID)
	} else {
		sr.count[key.databaseID] = n - 1
	}
}

func (r *Router) handleTerminal(w http.ResponseWriter, req *http.Request) {
	r.runTerminal(w, req, terminalKindShell)
}

func (r *Router) handlePsql(w http.ResponseWriter, req *http.Request) {
	r.runTerminal(w, req, terminalKindPsql)
}

func (r *Router) handleValkeyCli(w http.ResponseWriter, req *http.Request) {
	r.runTerminal(w, req, terminalKindValkey)
}

func (r *Router) handleRedisCli(w http.ResponseWriter, req *http.Request) {
	r.runTerminal(w, req, terminalKindRedis)
}

// terminalArgv resolves the command a session kind spawns, guarding
// engine-specific clients against the wrong engine.
func terminalArgv(adapter engine.Adapter, kind string, inst *domain.Database) ([]string, error) {
	requires := func(want domain.Engine) error {
		if inst.Engine != want {
			return domain.NewError(domain.CodeBadName, "%s requires a %s instance", kind, want).
				WithDetail("database_type", "requires "+want.String())
		}
		return nil
	}
	switch kind {
	case terminalKindPsql:
		if err := requires(domain.EnginePostgres); err != nil {
			return nil, err
		}
	case terminalKindValkey:
		if err := requires(domain.EngineValkey); err != nil {
			return nil, err
		}
	case terminalKindRedis:
		if err := requires(domain.EngineRedis); err != nil {
			return nil, err
		}
	}
	if kind == terminalKindShell {
		return adapter.CLICommand(engine.CLIShell, inst.Username), nil
	}
	return adapter.CLICommand(engine.CLIClient, inst.Username), nil
}

// terminalClientFrame is every inbound text frame shape; Type selects which
// fields matter.
type terminalClientFrame struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Cols uint   `json:"cols"`
	Rows uint   `json:"rows"`
}

// runTerminal bridges a websocket peer and a TTY exec inside the instance
// container. Binary frames pass to stdin raw; text frames carry the control
// protocol.
func (r *Router) runTerminal(w http.ResponseWriter, req *http.Request, kind string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, info, ok := r.ensureStreamAuth(w, req)
	if !ok {
		return
	}
	req = req.WithContext(ctx)
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	inst, err := r.databases.Get(ctx, info.Actor, req.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	adapter, err := r.adapters.ForKind(inst.Engine)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	argv, err := terminalArgv(adapter, kind, inst)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if inst.Status != domain.StatusRunning || inst.ContainerID == nil {
		writeDomainError(w, domain.NewError(domain.CodeConflictingState, "database is not running; status is %s", inst.Status))
		return
	}
	containerID := *inst.ContainerID

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err, "path", req.URL.Path)
		return
	}
	session := &terminalSession{conn: conn}
	key := sessionKey{userID: info.Actor.UserID, databaseID: inst.ID, kind: kind}
	if !r.sessions.claim(key, session) {
		session.closeWith(websocket.CloseTryAgainLater, "session limit reached")
		return
	}
	untrack := r.trackStreamSession(kind)
	defer func() {
		r.sessions.release(key, session)
		untrack()
	}()

	execID, hijack, err := r.spawnExec(ctx, containerID, argv)
	if err != nil && kind == terminalKindShell {
		r.logger.Debug("shell spawn failed, retrying fallback", "error", err, "database_id", inst.ID)
		execID, hijack, err = r.spawnExec(ctx, containerID, engine.ShellFallback)
	}
	if err != nil {
		r.logger.Warn("terminal exec failed", "error", err, "database_id", inst.ID, "kind", kind)
		_ = session.writeFrame(map[string]string{"type": "error", "message": "could not start session"})
		session.closeWith(websocket.CloseInternalServerErr, "exec failed")
		return
	}
	defer hijack.Close()

	if err := session.writeFrame(map[string]string{"type": "connected"}); err != nil {
		session.closeWith(websocket.CloseInternalServerErr, "write failed")
		return
	}

	// Pump exec output to the peer until the process exits.
	go func() {
		buf := make([]byte, terminalReadBuf)
		for {
			n, err := hijack.Reader.Read(buf)
			if n > 0 {
				frame := map[string]string{"type": "output", "data": string(buf[:n])}
				if werr := session.writeFrame(frame); werr != nil {
					session.closeWith(websocket.CloseInternalServerErr, "write failed")
					return
				}
			}
			if err != nil {
				session.closeWith(websocket.CloseNormalClosure, "session ended")
				return
			}
		}
	}()

	r.terminalReadLoop(ctx, session, hijack, execID)
	session.closeWith(websocket.CloseNormalClosure, "session ended")
}

func (r *Router) spawnExec(ctx context.Context, containerID string, argv []string) (string, types.HijackedResponse, error) {
	execID, err := r.driver.CreateExec(ctx, containerID, argv, true, true)
	if err != nil {
		return "", types.HijackedResponse{}, err
	}
	hijack, err := r.driver.AttachExec(ctx, execID, true)
	if err != nil {
		return "", types.HijackedResponse{}, err
	}
	return execID, hijack, nil
}

func (r *Router) terminalReadLoop(ctx context.Context, session *terminalSession, hijack types.HijackedResponse, execID string) {
	for {
		msgType, payload, err := session.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := hijack.Conn.Write(payload); err != nil {
				return
			}
		case websocket.TextMessage:
			var frame terminalClientFrame
			if err := json.Unmarshal(payload, &frame); err != nil {
				_ = session.writeFrame(map[string]string{"type": "error", "message": "invalid frame"})
				continue
			}
			switch frame.Type {
			case "input":
				if _, err := hijack.Conn.Write([]byte(frame.Data)); err != nil {
					return
				}
			case "resize":
				if err := r.driver.ResizeExec(ctx, execID, frame.Cols, frame.Rows); err != nil {
					r.logger.Debug("terminal resize failed", "error", err)
				}
			case "ping":
				_ = session.writeFrame(map[string]string{"type": "pong"})
			}
		}
	}
}
