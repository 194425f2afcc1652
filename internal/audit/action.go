// Package audit defines the per-connection audit record, the closed set of
// recordable protocol actions, and the pipeline that persists finalized
// records without blocking connection handling.
package audit

// ActionKind tags an Action with its variant.
type ActionKind string

const (
	KindLoginAttempt       ActionKind = "login_attempt"
	KindShellRequested     ActionKind = "shell_requested"
	KindExecCommand        ActionKind = "exec_command"
	KindPtyRequest         ActionKind = "pty_request"
	KindX11Request         ActionKind = "x11_request"
	KindOpenX11            ActionKind = "open_x11"
	KindOpenDirectTCPIP    ActionKind = "open_direct_tcpip"
	KindSubsystemRequest   ActionKind = "subsystem_request"
	KindWindowChange       ActionKind = "window_change_request"
	KindWindowAdjusted     ActionKind = "window_adjusted"
	KindSignal             ActionKind = "signal"
	KindTCPIPForward       ActionKind = "tcpip_forward"
	KindCancelTCPIPForward ActionKind = "cancel_tcpip_forward"
)

// LoginMethod distinguishes the two authentication attempt shapes.
type LoginMethod string

const (
	LoginPassword  LoginMethod = "password"
	LoginPublicKey LoginMethod = "publickey"
)

// LoginAttempt records one authentication attempt, successful or not.
// Password attempts carry Username/Password; public key attempts carry
// Algorithm/Fingerprint.
type LoginAttempt struct {
	Method      LoginMethod `json:"method"`
	Username    string      `json:"username,omitempty"`
	Password    string      `json:"password,omitempty"`
	Algorithm   string      `json:"algorithm,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
}

// ExecCommand records a command line after shell-token splitting.
type ExecCommand struct {
	Args []string `json:"args"`
}

// TerminalMode is one opcode/argument pair from a pty request's encoded
// terminal modes.
type TerminalMode struct {
	Opcode   uint8  `json:"opcode"`
	Argument uint32 `json:"argument"`
}

// PtyRequest records a pseudo-terminal allocation request.
type PtyRequest struct {
	Term        string         `json:"term"`
	Cols        uint32         `json:"cols"`
	Rows        uint32         `json:"rows"`
	PixelWidth  uint32         `json:"pixel_width"`
	PixelHeight uint32         `json:"pixel_height"`
	Modes       []TerminalMode `json:"modes,omitempty"`
}

// X11Request records an x11-req channel request.
type X11Request struct {
	SingleConnection bool   `json:"single_connection"`
	AuthProtocol     string `json:"auth_protocol"`
	AuthCookie       string `json:"auth_cookie"`
	Screen           uint32 `json:"screen"`
}

// OpenX11 records an attempt to open an x11 channel.
type OpenX11 struct {
	OriginatorAddr string `json:"originator_address"`
	OriginatorPort uint32 `json:"originator_port"`
}

// OpenDirectTCPIP records an attempt to open a direct-tcpip channel.
type OpenDirectTCPIP struct {
	Host           string `json:"host"`
	Port           uint32 `json:"port"`
	OriginatorAddr string `json:"originator_address"`
	OriginatorPort uint32 `json:"originator_port"`
}

// SubsystemRequest records a subsystem request (sftp and friends).
type SubsystemRequest struct {
	Name string `json:"name"`
}

// WindowChange records a window-change channel request.
type WindowChange struct {
	Cols        uint32 `json:"cols"`
	Rows        uint32 `json:"rows"`
	PixelWidth  uint32 `json:"pixel_width"`
	PixelHeight uint32 `json:"pixel_height"`
}

// WindowAdjusted records a flow-control window adjustment.
type WindowAdjusted struct {
	NewSize uint32 `json:"new_size"`
}

// Signal records a signal delivered to the fake session.
type Signal struct {
	Name string `json:"name"`
}

// TCPIPForward records a tcpip-forward or cancel-tcpip-forward global
// request; the Kind on the enclosing Action distinguishes the two.
type TCPIPForward struct {
	Addr string `json:"address"`
	Port uint32 `json:"port"`
}

// Action is one recorded protocol interaction: a kind tag plus exactly one
// non-nil payload (none for shell_requested). The set of variants is closed;
// constructing actions through the New* helpers keeps tag and payload
// consistent.
type Action struct {
	Kind           ActionKind        `json:"kind"`
	Login          *LoginAttempt     `json:"login,omitempty"`
	Exec           *ExecCommand      `json:"exec,omitempty"`
	Pty            *PtyRequest       `json:"pty,omitempty"`
	X11            *X11Request       `json:"x11,omitempty"`
	OpenX11        *OpenX11          `json:"open_x11,omitempty"`
	DirectTCPIP    *OpenDirectTCPIP  `json:"direct_tcpip,omitempty"`
	Subsystem      *SubsystemRequest `json:"subsystem,omitempty"`
	WindowChange   *WindowChange     `json:"window_change,omitempty"`
	WindowAdjusted *WindowAdjusted   `json:"window_adjusted,omitempty"`
	Signal         *Signal           `json:"signal,omitempty"`
	Forward        *TCPIPForward     `json:"forward,omitempty"`
}

func NewPasswordAttempt(username, password string) Action {
	return Action{Kind: KindLoginAttempt, Login: &LoginAttempt{
		Method:   LoginPassword,
		Username: username,
		Password: password,
	}}
}

func NewPublicKeyAttempt(algorithm, fingerprint string) Action {
	return Action{Kind: KindLoginAttempt, Login: &LoginAttempt{
		Method:      LoginPublicKey,
		Algorithm:   algorithm,
		Fingerprint: fingerprint,
	}}
}

func NewShellRequested() Action {
	return Action{Kind: KindShellRequested}
}

func NewExecCommand(args []string) Action {
	return Action{Kind: KindExecCommand, Exec: &ExecCommand{Args: args}}
}

func NewPtyRequest(p PtyRequest) Action {
	return Action{Kind: KindPtyRequest, Pty: &p}
}

func NewX11Request(x X11Request) Action {
	return Action{Kind: KindX11Request, X11: &x}
}

func NewOpenX11(originatorAddr string, originatorPort uint32) Action {
	return Action{Kind: KindOpenX11, OpenX11: &OpenX11{
		OriginatorAddr: originatorAddr,
		OriginatorPort: originatorPort,
	}}
}

func NewOpenDirectTCPIP(d OpenDirectTCPIP) Action {
	return Action{Kind: KindOpenDirectTCPIP, DirectTCPIP: &d}
}

func NewSubsystemRequest(name string) Action {
	return Action{Kind: KindSubsystemRequest, Subsystem: &SubsystemRequest{Name: name}}
}

func NewWindowChange(w WindowChange) Action {
	return Action{Kind: KindWindowChange, WindowChange: &w}
}

func NewWindowAdjusted(newSize uint32) Action {
	return Action{Kind: KindWindowAdjusted, WindowAdjusted: &WindowAdjusted{NewSize: newSize}}
}

func NewSignal(name string) Action {
	return Action{Kind: KindSignal, Signal: &Signal{Name: name}}
}

func NewTCPIPForward(addr string, port uint32) Action {
	return Action{Kind: KindTCPIPForward, Forward: &TCPIPForward{Addr: addr, Port: port}}
}

func NewCancelTCPIPForward(addr string, port uint32) Action {
	return Action{Kind: KindCancelTCPIPForward, Forward: &TCPIPForward{Addr: addr, Port: port}}
}
