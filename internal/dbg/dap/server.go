package dap

import (
	"fmt"
	"io"
	"net"

	"caesar.dev/cmd/internal/dbg/debugger"
	"caesar.dev/cmd/internal/dbg/logflags"
)

// Server accepts DAP clients on a local port, one at a time. Each client
// gets its own debugging session.
type Server struct {
	port int
	cfg  debugger.Config
}

func NewServer(port int, cfg debugger.Config) *Server {
	return &Server{port: port, cfg: cfg}
}

func (s *Server) Run() error {
	listen, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", s.port))
	if err != nil {
		return err
	}
	defer listen.Close()
	return s.Serve(listen)
}

// Serve handles the clients of l until one disconnects cleanly.
func (s *Server) Serve(l net.Listener) error {
	log := logflags.DAPLogger()
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		log.Infof("client %s connected", conn.RemoteAddr())
		sess := NewSession(conn, s.cfg)
		err = sess.Serve()
		conn.Close()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			log.Errorf("client %s: %v", conn.RemoteAddr(), err)
		}
	}
}
