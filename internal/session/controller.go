// Package session turns decoded protocol events for one connection into
// policy decisions, emulator invocations, and audit actions.
//
// A Controller owns its connection's audit record for the record's entire
// mutable life. Every operation records its action before the reply is
// decided, including rejections: the record is the product, the responses
// are just stagecraft.
package session

import (
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sundew-sh/sundew/internal/audit"
	"github.com/sundew-sh/sundew/internal/command"
	"github.com/sundew-sh/sundew/internal/logutil"
	"github.com/sundew-sh/sundew/internal/policy"
)

// ShellPrompt is written after every fabricated shell interaction so the
// illusion of a live shell persists.
const ShellPrompt = "bash-5.1$ "

// AuthOutcome is the controller's answer to an authentication attempt.
type AuthOutcome int

const (
	// AuthReject terminates the method attempt outright.
	AuthReject AuthOutcome = iota
	// AuthAccept grants access.
	AuthAccept
	// AuthPartial offers the client another prompt instead of terminating,
	// keeping the attacker engaged. Retries are unbounded.
	AuthPartial
)

// Phase is the coarse lifecycle of a connection. Channel-scoped requests are
// independent of each other, so the phase is tracked for observability and
// tests rather than enforced as a closed state machine.
type Phase string

const (
	PhaseConnected      Phase = "connected"
	PhaseAuthenticating Phase = "authenticating"
	PhaseAuthenticated  Phase = "authenticated"
	PhaseClosed         Phase = "closed"
)

// Controller is the per-connection event handler. Methods may be called from
// the transport's connection, channel, and global-request goroutines; all
// record mutation is serialized by an internal mutex. The store behind the
// credential policy is shared across all controllers.
type Controller struct {
	policy   *policy.Policy
	pipeline *audit.Pipeline
	emulator *command.Emulator
	log      *logrus.Entry

	mu        sync.Mutex
	record    *audit.Record
	phase     Phase
	finalized bool
}

// New creates a controller for a freshly accepted connection. peerAddr may
// be empty when unknown.
func New(peerAddr string, pol *policy.Policy, pipe *audit.Pipeline, emu *command.Emulator) *Controller {
	rec := audit.NewRecord(peerAddr)
	return &Controller{
		policy:   pol,
		pipeline: pipe,
		emulator: emu,
		record:   rec,
		phase:    PhaseConnected,
		log: logrus.WithFields(logrus.Fields{
			"connection_id": rec.ID.String(),
			"peer":          peerAddr,
		}),
	}
}

// ID returns the connection's 128-bit random identifier.
func (c *Controller) ID() uuid.UUID {
	return c.record.ID
}

// addAction appends one action to the record unless it has already been
// finalized. The transport services channel and global requests on separate
// goroutines, so a request can still be in flight while the connection
// goroutine runs Close; once ownership of the record has passed to the
// pipeline the late action is dropped rather than mutating a record the
// consumer may be serializing.
func (c *Controller) addAction(a audit.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.record.AddAction(a)
}

// Phase returns the connection's current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// AuthPassword handles one password authentication attempt. The attempt is
// recorded whether or not it is accepted.
func (c *Controller) AuthPassword(user, password string) AuthOutcome {
	c.mu.Lock()
	if c.phase == PhaseConnected {
		c.phase = PhaseAuthenticating
	}
	if !c.finalized {
		c.record.AddAction(audit.NewPasswordAttempt(user, password))
	}
	c.mu.Unlock()

	accepted, replayed := c.policy.DecideDetail(password)
	entry := c.log.WithFields(logrus.Fields{
		"user":     logutil.SanitizeForLog(user),
		"password": logutil.SanitizeForLog(password),
	})

	switch {
	case accepted && replayed:
		entry.Info("accepted login due to it being used before")
	case accepted:
		entry.Info("accepted login randomly")
	default:
		entry.Info("rejected login")
		return AuthPartial
	}

	c.mu.Lock()
	c.phase = PhaseAuthenticated
	c.mu.Unlock()
	return AuthAccept
}

// AuthPublicKey handles a public key attempt: constant rejection, but the
// key's algorithm and fingerprint are still recorded. Rejecting keys pushes
// attackers toward password submission, which is the data of interest.
func (c *Controller) AuthPublicKey(algorithm, fingerprint string) AuthOutcome {
	c.mu.Lock()
	if c.phase == PhaseConnected {
		c.phase = PhaseAuthenticating
	}
	if !c.finalized {
		c.record.AddAction(audit.NewPublicKeyAttempt(algorithm, fingerprint))
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"algorithm":   algorithm,
		"fingerprint": fingerprint,
	}).Info("rejected public key login")
	return AuthReject
}

// KeyboardInteractive always rejects. The method stays advertised so clients
// keep trying passwords.
func (c *Controller) KeyboardInteractive() AuthOutcome {
	return AuthReject
}

// OpenSession accepts a plain interactive session channel.
func (c *Controller) OpenSession() bool {
	return true
}

// OpenX11 records an attempted x11 channel open and rejects it. Rejecting
// non-interactive channel kinds limits real network egress while still
// capturing attacker intent.
func (c *Controller) OpenX11(originatorAddr string, originatorPort uint32) bool {
	c.addAction(audit.NewOpenX11(originatorAddr, originatorPort))
	return false
}

// OpenDirectTCPIP records an attempted direct-tcpip channel open and rejects
// it.
func (c *Controller) OpenDirectTCPIP(host string, port uint32, originatorAddr string, originatorPort uint32) bool {
	c.addAction(audit.NewOpenDirectTCPIP(audit.OpenDirectTCPIP{
		Host:           host,
		Port:           port,
		OriginatorAddr: originatorAddr,
		OriginatorPort: originatorPort,
	}))
	return false
}

// ShellRequest records the shell request and returns the fixed prompt to
// write back. Always succeeds.
func (c *Controller) ShellRequest() (output []byte, ok bool) {
	c.addAction(audit.NewShellRequested())
	return []byte(ShellPrompt), true
}

// ExecRequest handles an exec request carrying a raw command line. The line
// is shell-token-split; if splitting fails the request fails and the
// emulator is never invoked. Otherwise the command is recorded and the
// fabricated output returned.
func (c *Controller) ExecRequest(raw []byte) (output []byte, ok bool) {
	args, err := shlex.Split(string(raw))
	if err != nil {
		c.log.WithField("command", logutil.SanitizeForLog(string(raw))).
			Debug("unparsable exec command line")
		return nil, false
	}

	output = c.emulator.Run(args)
	c.addAction(audit.NewExecCommand(args))
	return output, true
}

// Data handles one chunk of interactive shell input. Parsable input is run
// through the emulator and recorded; either way the prompt is re-presented
// so the shell keeps looking alive.
func (c *Controller) Data(raw []byte) (output []byte) {
	if args, err := shlex.Split(string(raw)); err == nil {
		output = c.emulator.Run(args)
		c.addAction(audit.NewExecCommand(args))
	}
	return append(output, ShellPrompt...)
}

// PtyRequest records the pty parameters and fails the request: granting it
// would imply a real terminal resource.
func (c *Controller) PtyRequest(p audit.PtyRequest) bool {
	c.addAction(audit.NewPtyRequest(p))
	return false
}

// X11Request records the x11-req parameters and fails the request.
func (c *Controller) X11Request(x audit.X11Request) bool {
	c.addAction(audit.NewX11Request(x))
	return false
}

// EnvRequest stores the variable on the record (never applied to any real
// process) and succeeds.
func (c *Controller) EnvRequest(name, value string) bool {
	c.mu.Lock()
	if !c.finalized {
		c.record.AddEnv(name, value)
	}
	c.mu.Unlock()
	return true
}

// SubsystemRequest records the requested subsystem name and fails the
// request.
func (c *Controller) SubsystemRequest(name string) bool {
	c.addAction(audit.NewSubsystemRequest(name))
	return false
}

// WindowChange records the new window geometry and succeeds.
func (c *Controller) WindowChange(w audit.WindowChange) bool {
	c.addAction(audit.NewWindowChange(w))
	return true
}

// WindowAdjusted records a flow-control window adjustment. The size passes
// through unchanged; the channel only ever carries fabricated data, so no
// real accounting is needed.
func (c *Controller) WindowAdjusted(newSize uint32) {
	c.addAction(audit.NewWindowAdjusted(newSize))
}

// Signal records a delivered signal name.
func (c *Controller) Signal(name string) {
	c.addAction(audit.NewSignal(name))
}

// TCPIPForward records a tcpip-forward global request and refuses it.
func (c *Controller) TCPIPForward(addr string, port uint32) bool {
	c.addAction(audit.NewTCPIPForward(addr, port))
	return false
}

// CancelTCPIPForward records a cancel-tcpip-forward global request and
// refuses it.
func (c *Controller) CancelTCPIPForward(addr string, port uint32) bool {
	c.addAction(audit.NewCancelTCPIPForward(addr, port))
	return false
}

// Close finalizes the audit record and hands it to the pipeline. It is
// idempotent: the explicit close path and deferred cleanup may both call it,
// and the record is enqueued exactly once. After Close the record must not
// be mutated.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	c.phase = PhaseClosed
	c.record.EndedAt = time.Now().UTC()
	rec := c.record
	c.mu.Unlock()

	c.log.Info("connection closed")

	if err := c.pipeline.Enqueue(rec); err != nil {
		// Only possible once shutdown has closed intake; the record is lost.
		c.log.WithError(err).Warn("audit record dropped")
	}
}
