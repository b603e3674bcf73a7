// Package wallet tracks whether a respondent has connected a wallet and which
// address it is. Connectors decide what counts as proof of an address.
package wallet

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownConnector = errors.New("unknown wallet connector")
	ErrInvalidProof     = errors.New("invalid wallet proof")
)

type Status string

const (
	Disconnected Status = "disconnected"
	Connected    Status = "connected"
)

// State is the connection state: disconnected, or connected with an address.
type State struct {
	Status    Status         `json:"status"`
	Address   common.Address `json:"-"`
	Connector string         `json:"connector,omitempty"`
}

func (s State) IsConnected() bool {
	return s.Status == Connected
}

// Proof is what the client sends when connecting.
type Proof struct {
	Address   string `json:"address"`
	Signature string `json:"signature,omitempty"`
}

type Connector interface {
	Name() string
	Verify(challenge string, proof Proof) (common.Address, error)
}

// Registry holds the connectors enabled for this deployment.
type Registry struct {
	connectors map[string]Connector
	order      []string
}

// NewRegistry enables the named connectors. Known names are "injected" and
// "frame".
func NewRegistry(names ...string) (*Registry, error) {
	reg := &Registry{connectors: map[string]Connector{}}
	for _, name := range names {
		var c Connector
		switch name {
		case InjectedName:
			c = InjectedConnector{}
		case FrameName:
			c = FrameConnector{}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
		}
		if _, dup := reg.connectors[name]; dup {
			continue
		}
		reg.connectors[name] = c
		reg.order = append(reg.order, name)
	}
	if len(reg.order) == 0 {
		return nil, errors.New("wallet: no connectors enabled")
	}
	return reg, nil
}

// Names lists enabled connectors in configuration order; the first is the default.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

func (r *Registry) Lookup(name string) (Connector, error) {
	if name == "" {
		name = r.order[0]
	}
	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}
	return c, nil
}

// Session is one respondent's wallet connection.
type Session struct {
	mu    sync.Mutex
	state State
}

func NewSession() *Session {
	return &Session{state: State{Status: Disconnected}}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect verifies proof with the chosen connector. Once connected, further
// calls return the existing state unchanged.
func (s *Session) Connect(reg *Registry, choice, challenge string, proof Proof) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsConnected() {
		return s.state, nil
	}

	c, err := reg.Lookup(choice)
	if err != nil {
		return s.state, err
	}
	addr, err := c.Verify(challenge, proof)
	if err != nil {
		return s.state, err
	}
	s.state = State{Status: Connected, Address: addr, Connector: c.Name()}
	return s.state, nil
}

// Challenge is the message a respondent signs to prove control of an address
// for one feedback attempt.
func Challenge(attemptID string) string {
	return "Connect wallet to leave anonymous feedback.\nAttempt: " + attemptID
}
