package session

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyRegistered is returned when a connection that has already
	// been promoted attempts a second role change.
	ErrAlreadyRegistered = errors.New("ALREADY_REGISTERED")

	// ErrSessionNotFound is returned when a code resolves to no live session.
	ErrSessionNotFound = errors.New("SESSION_NOT_FOUND")

	// ErrSessionFull is returned when a session is at its viewer capacity.
	ErrSessionFull = errors.New("SESSION_FULL")
)

// Peer is the non-owning handle a Client holds to its socket. It is used
// only for sending and for closing with a status code; reads stay with the
// connection's own loop. Send reports whether the message was accepted for
// delivery — a full or over-budget socket drops the message and returns
// false rather than blocking.
type Peer interface {
	Send(data []byte) bool
	CloseWithStatus(code int, reason string)
}

// Client is the registry record for one live socket.
type Client struct {
	ID   string
	peer Peer

	mu            sync.Mutex
	role          Role
	sessionCode   string
	nickname      string
	lastHeartbeat time.Time
}

// NewClient creates a Client in the Observer role.
func NewClient(id string, peer Peer) *Client {
	return &Client{
		ID:            id,
		peer:          peer,
		role:          Observer,
		lastHeartbeat: time.Now(),
	}
}

func (c *Client) Peer() Peer { return c.peer }

func (c *Client) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Promote transitions the client from Observer to the given terminal role.
// The transition happens at most once; a second attempt fails with
// ErrAlreadyRegistered regardless of the requested role.
func (c *Client) Promote(role Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != Observer {
		return ErrAlreadyRegistered
	}
	if role != Agent && role != Viewer {
		return ErrAlreadyRegistered
	}
	c.role = role
	return nil
}

func (c *Client) SessionCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionCode
}

func (c *Client) setSessionCode(code string) {
	c.mu.Lock()
	c.sessionCode = code
	c.mu.Unlock()
}

func (c *Client) Nickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

func (c *Client) SetNickname(name string) {
	c.mu.Lock()
	c.nickname = name
	c.mu.Unlock()
}

// TouchHeartbeat records that the peer is still alive.
func (c *Client) TouchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}
