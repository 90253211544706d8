// Package dayz holds the canonical server record shared by the directory
// clients, the reconciler, the prober and the store.
package dayz

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// ServerType is the coarse classification of who operates a server.
type ServerType string

const (
	Official  ServerType = "official"
	Community ServerType = "community"
	Private   ServerType = "private"
	Custom    ServerType = "custom"
)

// Ping sentinels. PingUnmeasured must never be written back once a probe
// has produced a real measurement.
const (
	PingUnmeasured = -1
	PingOffline    = 999
)

// Mod is a single workshop mod advertised by a server.
type Mod struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Server is one known game server. The natural key is (Address, QueryPort);
// a server may change its display name or game port, but the queryable
// endpoint identifies it.
type Server struct {
	Name        string
	Address     string
	GamePort    int
	QueryPort   int
	MapName     string
	Country     string
	Perspective string
	Type        ServerType
	Players     int
	MaxPlayers  int
	QueueLength int
	Ping        int
	Online      bool
	Mods        []Mod
	LastSeen    time.Time
	LastUpdated time.Time
}

// Addr returns the queryable endpoint as host:port.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.QueryPort))
}

// QueryPortFor applies the DayZ convention of query port = game port + 1.
// Ports already in the Steam query range are used as-is.
func QueryPortFor(gamePort int) int {
	if gamePort < 27000 {
		return gamePort + 1
	}

	return gamePort
}

// ParsePerspective extracts the camera perspective from the gametype
// keyword blob advertised over the Steam query protocol.
func ParsePerspective(gametype string) string {
	keywords := strings.ToLower(gametype)
	firstPerson := strings.Contains(keywords, "1pp")
	thirdPerson := strings.Contains(keywords, "3pp")

	switch {
	case firstPerson && thirdPerson:
		return "1PP/3PP"
	case firstPerson:
		return "1PP"
	case thirdPerson:
		return "3PP"
	default:
		return "Unknown"
	}
}
