package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnknownEngine = errors.New("unknown database type")

type Engine string

const (
	EnginePostgreSQL Engine = "postgresql"
	EngineMongoDB    Engine = "mongodb"
	EngineMySQL      Engine = "mysql"
	EngineUnknown    Engine = "unknown"
)

// EngineFromScheme maps a connection-string scheme to its engine.
func EngineFromScheme(scheme string) Engine {
	switch strings.ToLower(scheme) {
	case "postgresql", "postgres":
		return EnginePostgreSQL
	case "mongodb", "mongodb+srv":
		return EngineMongoDB
	case "mysql":
		return EngineMySQL
	default:
		return EngineUnknown
	}
}

// Target is one database connection string broken into its URI components.
type Target struct {
	Engine   Engine
	Scheme   string
	Database string
	Host     string
	Port     string
	Username string
	Password string
	Raw      string
}

// ParseTarget decomposes a URI-shaped connection string. An unrecognised
// scheme is not an error here; it surfaces as EngineUnknown.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		// url.Error echoes the input, which may carry a password.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Target{}, fmt.Errorf("invalid connection string: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("invalid connection string: scheme and host are required")
	}

	t := Target{
		Engine:   EngineFromScheme(u.Scheme),
		Scheme:   u.Scheme,
		Database: strings.TrimPrefix(u.Path, "/"),
		Host:     u.Hostname(),
		Port:     u.Port(),
		Raw:      raw,
	}
	if u.User != nil {
		t.Username = u.User.Username()
		t.Password, _ = u.User.Password()
	}

	return t, nil
}

// Redacted returns the connection string with the password masked.
func (t Target) Redacted() string {
	u, err := url.Parse(t.Raw)
	if err != nil {
		return "<invalid connection string>"
	}
	return u.Redacted()
}

func (t Target) String() string {
	return fmt.Sprintf("%s %s on %s", t.Engine, t.Database, t.Host)
}
