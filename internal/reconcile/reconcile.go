// Package reconcile merges records from the directory sources into the
// canonical server set. The classification rules are reproduced exactly
// from observed behavior; they are fragile free-text heuristics and the
// precedence order below is the contract, not a guarantee of correctness.
package reconcile

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/steamweb"
)

// privateKeywords route a server to the private bucket regardless of
// anything else in the name.
var privateKeywords = []string{"private", "whitelist", "closed"}

// officialRegionTokens are the two letter region markers, surrounded by
// spaces, that official hive names carry.
var officialRegionTokens = []string{" de ", " us ", " eu ", " uk ", " fr ", " au ", " ca "}

// officialSymbolBlacklist disqualifies a name from the official bucket.
var officialSymbolBlacklist = []string{"[", "]", "|", "★", "♦", "●", "~", "!"}

// officialKeywordBlacklist catches marketing noise no official server uses.
var officialKeywordBlacklist = []string{"discord", "www", "http", "x10", "loot+", "rp", "roleplay", "clan"}

// Classify determines the server type. Precedence: private keyword or
// flag, then the strict official test (name contains "dayz" and a region
// token, zero mods, no blacklisted symbol or keyword), else community.
// Any failed clause of the official test routes to community.
func Classify(name string, modCount int, private bool) dayz.ServerType {
	lowered := strings.ToLower(name)

	if private || containsAny(lowered, privateKeywords) {
		return dayz.Private
	}

	official := strings.Contains(lowered, "dayz") &&
		containsAny(lowered, officialRegionTokens) &&
		modCount == 0 &&
		!containsAny(lowered, officialSymbolBlacklist) &&
		!containsAny(lowered, officialKeywordBlacklist)
	if official {
		return dayz.Official
	}

	return dayz.Community
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}

	return false
}

// CountryResolver fills in countries the directory omitted. A nil
// resolver is valid.
type CountryResolver interface {
	Country(address string) string
}

// Merge produces the canonical record set from primary descriptors plus
// optional secondary map data. The secondary map name wins unconditionally
// over the name-substring inference since it comes from the server itself.
// Merge is deterministic: identical inputs yield identical output.
func Merge(primary []battlemetrics.RawServer, mapNames map[string]string, countries CountryResolver, now time.Time) []dayz.Server {
	records := make([]dayz.Server, 0, len(primary))

	for _, raw := range primary {
		record := dayz.Server{
			Name:        raw.Name,
			Address:     raw.Address,
			GamePort:    raw.GamePort,
			QueryPort:   raw.QueryPort,
			MapName:     raw.MapName,
			Country:     raw.Country,
			Perspective: "Unknown",
			Type:        Classify(raw.Name, len(raw.Mods), raw.Private),
			Players:     raw.Players,
			MaxPlayers:  raw.MaxPlayers,
			QueueLength: raw.Queue,
			Ping:        dayz.PingUnmeasured,
			Online:      raw.Status == "online",
			Mods:        raw.Mods,
			LastSeen:    now,
			LastUpdated: now,
		}

		if mapName, found := mapNames[raw.Address]; found && mapName != "" {
			record.MapName = mapName
		}

		if record.Country == "" && countries != nil {
			record.Country = countries.Country(raw.Address)
		}

		records = append(records, record)
	}

	return records
}

// FromSteam converts the bulk listing into canonical records for the
// fallback discovery path when the primary directory is degraded.
func FromSteam(bulk []steamweb.BulkServer, countries CountryResolver, now time.Time) []dayz.Server {
	records := make([]dayz.Server, 0, len(bulk))

	for _, server := range bulk {
		host, portRaw, errSplit := net.SplitHostPort(server.Addr)
		if errSplit != nil {
			continue
		}

		gamePort, errPort := strconv.Atoi(portRaw)
		if errPort != nil {
			continue
		}

		mapName := server.Map
		if mapName == "" {
			mapName = battlemetrics.UnknownMap
		}

		record := dayz.Server{
			Name:        server.Name,
			Address:     host,
			GamePort:    gamePort,
			QueryPort:   dayz.QueryPortFor(gamePort),
			MapName:     mapName,
			Perspective: dayz.ParsePerspective(server.GameType),
			Type:        Classify(server.Name, 0, false),
			Players:     server.Players,
			MaxPlayers:  server.MaxPlayers,
			Ping:        dayz.PingUnmeasured,
			Online:      true,
			LastSeen:    now,
			LastUpdated: now,
		}

		if countries != nil {
			record.Country = countries.Country(host)
		}

		records = append(records, record)
	}

	return records
}
