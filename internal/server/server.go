// Package server is the transport adapter: it runs the SSH protocol engine
// from golang.org/x/crypto/ssh and translates decoded events into calls on a
// per-connection session.Controller. All honeypot behavior lives in the
// controller; this package only accepts, decodes, and replies.
package server

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sundew-sh/sundew/internal/audit"
	"github.com/sundew-sh/sundew/internal/command"
	"github.com/sundew-sh/sundew/internal/policy"
	"github.com/sundew-sh/sundew/internal/session"
)

// errAuthFailed is the rejection returned to the client for every refused
// authentication attempt. The text is never shown to the attacker.
var errAuthFailed = errors.New("permission denied")

// Server accepts SSH connections and drives one session.Controller per
// connection.
type Server struct {
	signer   ssh.Signer
	version  string
	policy   *policy.Policy
	pipeline *audit.Pipeline
	emulator *command.Emulator

	listener net.Listener
}

// New creates a Server. version must be a full SSH identification string
// ("SSH-2.0-...").
func New(signer ssh.Signer, version string, pol *policy.Policy, pipe *audit.Pipeline, emu *command.Emulator) *Server {
	return &Server{
		signer:   signer,
		version:  version,
		policy:   pol,
		pipeline: pipe,
		emulator: emu,
	}
}

// Listen binds the listening socket. Serve starts accepting on it.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until the listener is closed or fails. A closed
// listener is a clean stop and returns nil; anything else is a listener
// failure. Per-connection errors never escape their connection's goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops the accept loop. Connections already open run to their own
// natural close.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// handleConn owns one TCP connection for its whole life. The controller is
// always finalized on the way out, whether the handshake failed, the client
// vanished, or the session ended normally, so the audit record is enqueued
// exactly once regardless of how the connection terminates.
func (s *Server) handleConn(netConn net.Conn) {
	ctl := session.New(netConn.RemoteAddr().String(), s.policy, s.pipeline, s.emulator)
	defer ctl.Close()
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.sshConfig(ctl))
	if err != nil {
		// Handshake never completed or the client gave up during auth.
		// Whatever attempts were made are already on the record.
		logrus.WithField("peer", netConn.RemoteAddr().String()).
			WithError(err).Debug("handshake ended without authentication")
		return
	}
	defer sshConn.Close()

	go s.handleGlobalRequests(ctl, reqs)

	for newChan := range chans {
		s.handleNewChannel(ctl, newChan)
	}
}

// sshConfig builds the per-connection protocol configuration. Auth callbacks
// close over the connection's controller; retries are unlimited.
func (s *Server) sshConfig(ctl *session.Controller) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: s.version,
		MaxAuthTries:  -1,

		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if ctl.AuthPassword(meta.User(), string(password)) == session.AuthAccept {
				return nil, nil
			}
			// AuthPartial: the failure is non-terminal, the client is free
			// to try again and keyboard-interactive stays advertised.
			return nil, errAuthFailed
		},

		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			ctl.AuthPublicKey(key.Type(), ssh.FingerprintSHA256(key))
			return nil, errAuthFailed
		},

		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			if _, err := challenge("", "", []string{"Password: "}, []bool{false}); err != nil {
				return nil, err
			}
			if ctl.KeyboardInteractive() == session.AuthAccept {
				return nil, nil
			}
			return nil, errAuthFailed
		},
	}
	cfg.AddHostKey(s.signer)
	return cfg
}

// Channel open payloads, per RFC 4254.
type x11OpenPayload struct {
	OriginatorAddr string
	OriginatorPort uint32
}

type directTCPIPPayload struct {
	Host           string
	Port           uint32
	OriginatorAddr string
	OriginatorPort uint32
}

func (s *Server) handleNewChannel(ctl *session.Controller, newChan ssh.NewChannel) {
	switch newChan.ChannelType() {
	case "session":
		if !ctl.OpenSession() {
			newChan.Reject(ssh.Prohibited, "")
			return
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			logrus.WithError(err).Debug("session channel accept failed")
			return
		}
		go s.handleSession(ctl, ch, requests)

	case "x11":
		var p x11OpenPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err == nil {
			ctl.OpenX11(p.OriginatorAddr, p.OriginatorPort)
		}
		newChan.Reject(ssh.Prohibited, "")

	case "direct-tcpip":
		var p directTCPIPPayload
		if err := ssh.Unmarshal(newChan.ExtraData(), &p); err == nil {
			ctl.OpenDirectTCPIP(p.Host, p.Port, p.OriginatorAddr, p.OriginatorPort)
		}
		newChan.Reject(ssh.Prohibited, "")

	default:
		newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
	}
}

// Global request payloads, per RFC 4254.
type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

func (s *Server) handleGlobalRequests(ctl *session.Controller, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			var p tcpipForwardPayload
			granted := false
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				granted = ctl.TCPIPForward(p.Addr, p.Port)
			}
			req.Reply(granted, nil)

		case "cancel-tcpip-forward":
			var p tcpipForwardPayload
			granted := false
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				granted = ctl.CancelTCPIPForward(p.Addr, p.Port)
			}
			req.Reply(granted, nil)

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// Channel request payloads, per RFC 4254.
type ptyReqPayload struct {
	Term        string
	Cols        uint32
	Rows        uint32
	PixelWidth  uint32
	PixelHeight uint32
	Modes       string
}

type envPayload struct {
	Name  string
	Value string
}

type execPayload struct {
	Command string
}

type subsystemPayload struct {
	Name string
}

type windowChangePayload struct {
	Cols        uint32
	Rows        uint32
	PixelWidth  uint32
	PixelHeight uint32
}

type signalPayload struct {
	Name string
}

type x11ReqPayload struct {
	SingleConnection bool
	AuthProtocol     string
	AuthCookie       string
	Screen           uint32
}

// handleSession serves one interactive session channel: it answers channel
// requests and feeds raw channel data through the controller's fake shell.
func (s *Server) handleSession(ctl *session.Controller, ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	go s.relayData(ctl, ch)

	for req := range requests {
		switch req.Type {
		case "shell":
			out, ok := ctl.ShellRequest()
			if ok {
				ch.Write(out)
			}
			reply(req, ok)

		case "exec":
			var p execPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			out, ok := ctl.ExecRequest([]byte(p.Command))
			if ok && len(out) > 0 {
				ch.Write(out)
			}
			reply(req, ok)

		case "pty-req":
			var p ptyReqPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			reply(req, ctl.PtyRequest(audit.PtyRequest{
				Term:        p.Term,
				Cols:        p.Cols,
				Rows:        p.Rows,
				PixelWidth:  p.PixelWidth,
				PixelHeight: p.PixelHeight,
				Modes:       parseTerminalModes([]byte(p.Modes)),
			}))

		case "env":
			var p envPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			reply(req, ctl.EnvRequest(p.Name, p.Value))

		case "subsystem":
			var p subsystemPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			reply(req, ctl.SubsystemRequest(p.Name))

		case "window-change":
			var p windowChangePayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			reply(req, ctl.WindowChange(audit.WindowChange{
				Cols:        p.Cols,
				Rows:        p.Rows,
				PixelWidth:  p.PixelWidth,
				PixelHeight: p.PixelHeight,
			}))

		case "signal":
			var p signalPayload
			if err := ssh.Unmarshal(req.Payload, &p); err == nil {
				ctl.Signal(p.Name)
			}
			reply(req, true)

		case "x11-req":
			var p x11ReqPayload
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				reply(req, false)
				continue
			}
			reply(req, ctl.X11Request(audit.X11Request{
				SingleConnection: p.SingleConnection,
				AuthProtocol:     p.AuthProtocol,
				AuthCookie:       p.AuthCookie,
				Screen:           p.Screen,
			}))

		default:
			reply(req, false)
		}
	}
}

// relayData feeds raw channel input (the fake shell's stdin) through the
// controller and writes the fabricated response back.
func (s *Server) relayData(ctl *session.Controller, ch ssh.Channel) {
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(ctl.Data(buf[:n])); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func reply(req *ssh.Request, ok bool) {
	if req.WantReply {
		req.Reply(ok, nil)
	}
}

// parseTerminalModes decodes the opcode/argument list from a pty request.
// Opcode 0 (TTY_OP_END) or any opcode outside the single-argument range ends
// the list, per RFC 4254 section 8.
func parseTerminalModes(data []byte) []audit.TerminalMode {
	var modes []audit.TerminalMode
	for len(data) >= 5 {
		op := data[0]
		if op == 0 || op >= 160 {
			break
		}
		modes = append(modes, audit.TerminalMode{
			Opcode:   op,
			Argument: binary.BigEndian.Uint32(data[1:5]),
		})
		data = data[5:]
	}
	return modes
}
