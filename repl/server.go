package repl

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/rydesta-lang/rydesta/master"
	"github.com/rydesta-lang/rydesta/value"
)

// upgrader accepts any origin — this server is meant for local/trusted
// network use (an IDE plugin, a classroom exercise), not a public
// internet-facing deployment.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a REPL session over a websocket: one text message in is
// one line fed to a fresh, per-connection master.Master, one text
// message out is the resulting value or error report.
type Server struct {
	Filename string // synthetic filename every connection's Master reports under
}

// NewServer returns a Server whose Masters are rooted at filename, used
// only for "needs" path resolution and error messages (a websocket
// session has no real source file backing it).
func NewServer(filename string) *Server {
	return &Server{Filename: filename}
}

// ServeHTTP upgrades the request to a websocket and runs a REPL session
// on it until the client disconnects.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	m, err := master.New(srv.Filename)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("[internal error] "+err.Error()))
		return
	}

	for {
		_, line, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("repl server connection closed", "error", err)
			return
		}

		reply := srv.evalLine(m, string(line))
		if reply == "" {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			slog.Debug("repl server write failed", "error", err)
			return
		}
	}
}

// evalLine feeds one line through m and renders the outcome as a single
// reply string, or "" when the result is "nothing" and there is nothing
// worth echoing back.
func (srv *Server) evalLine(m *master.Master, line string) string {
	v, err := m.Feed(line)
	if err != nil {
		return m.Report(err)
	}
	if _, isNothing := v.(value.Nothing); isNothing || v == nil {
		return ""
	}
	return v.String()
}
