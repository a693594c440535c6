package rcon

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"

	"github.com/gorcon/rcon"
)

const (
	defaultHost = "localhost"
	defaultPort = 27015
)

// Env holds the RCON endpoint. The FACTORIO_* names are read as a fallback
// so existing deployments keep working; RCON_* wins when both are set.
type Env struct {
	Host     string `envconfig:"RCON_HOST"`
	Port     int    `envconfig:"RCON_PORT"`
	Password string `envconfig:"RCON_PASSWORD"`

	FactorioServerIP       string `envconfig:"FACTORIO_SERVER_IP"`
	FactorioRCONPort       int    `envconfig:"FACTORIO_RCON_PORT"`
	FactorioServerPassword string `envconfig:"FACTORIO_SERVER_PASSWORD"`
}

// Addr returns host:port of the RCON endpoint.
func (e Env) Addr() string {
	host := firstNonZero(e.Host, e.FactorioServerIP, defaultHost)
	port := firstNonZero(e.Port, e.FactorioRCONPort, defaultPort)
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (e Env) secret() string {
	return firstNonZero(e.Password, e.FactorioServerPassword)
}

func firstNonZero[T comparable](vs ...T) T {
	var zero T
	for _, v := range vs {
		if v != zero {
			return v
		}
	}
	return zero
}

// Session is one authenticated console connection.
type Session interface {
	Command(cmd string) (string, error)
	Close() error
}

// Dialer opens a raw console connection. Tests swap it for a fake.
type Dialer interface {
	Dial(ctx context.Context, addr, password string) (Session, error)
}

type gorconDialer struct{}

type gorconSession struct {
	conn *rcon.Conn
}

func (gorconDialer) Dial(ctx context.Context, addr, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := rcon.Dial(addr, password)
	if err != nil {
		return nil, err
	}
	return &gorconSession{conn: conn}, nil
}

func (s *gorconSession) Command(cmd string) (string, error) {
	return s.conn.Execute(cmd)
}

func (s *gorconSession) Close() error {
	return s.conn.Close()
}

type Client struct {
	Env
	Debug  bool
	Dialer Dialer
}

// Open connects and authenticates. The caller must Close the returned session.
func (c *Client) Open(ctx context.Context) (Session, error) {
	d := c.Dialer
	if d == nil {
		d = gorconDialer{}
	}
	if c.Debug {
		log.Printf("rcon: connecting to %s", c.Addr())
	}
	s, err := d.Dial(ctx, c.Addr(), c.secret())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Addr(), err)
	}
	return &loggedSession{Session: s, debug: c.Debug}, nil
}

type loggedSession struct {
	Session
	debug bool
}

func (s *loggedSession) Command(cmd string) (string, error) {
	resp, err := s.Session.Command(cmd)
	if err != nil {
		return "", fmt.Errorf("error executing cmd:'%s': %w", cmd, err)
	}
	if s.debug {
		log.Printf("rcon: cmd:'%s' resp:'%s'", cmd, resp)
	}
	return resp, nil
}
