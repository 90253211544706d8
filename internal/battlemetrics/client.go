// Package battlemetrics implements the primary directory client. The
// upstream API only supports cursor based pagination, so fetches chase the
// links.next URL sequentially and are paced to stay under its rate limits.
package battlemetrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/network"
	"golang.org/x/time/rate"
)

// The inter-page delay is a hard requirement of the upstream, not an
// optimization. Hammering pages back to back earns throttling or bans.
const interPageDelay = 100 * time.Millisecond

const maxPageSize = 100

var ErrFetchPage = errors.New("failed to fetch directory page")

// RawServer is one descriptor as extracted from the directory envelope,
// before reconciliation.
type RawServer struct {
	ID         string
	Name       string
	Address    string
	GamePort   int
	QueryPort  int
	Players    int
	MaxPlayers int
	Queue      int
	MapName    string
	Country    string
	Status     string
	Private    bool
	Password   bool
	Rank       int
	Mods       []dayz.Mod
}

type Client struct {
	baseURL  string
	http     *http.Client
	pageSize int
	limiter  *rate.Limiter
}

func New(baseURL string, httpClient *http.Client, pageSize int) *Client {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     httpClient,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(rate.Every(interPageDelay), 1),
	}
}

// Fetch pulls up to limit online servers, most populated first. Caller
// filters are merged into the first page request; subsequent pages follow
// the cursor URL exactly as the server handed it out. A page level failure
// stops fetching but keeps everything already collected.
func (c *Client) Fetch(ctx context.Context, limit int, filters map[string]string) ([]RawServer, error) {
	var (
		collected []RawServer
		nextURL   string
		page      = 1
	)

	for len(collected) < limit {
		if errWait := c.limiter.Wait(ctx); errWait != nil {
			return collected, errors.Join(errWait, ErrFetchPage)
		}

		requestURL := nextURL
		var params url.Values
		if requestURL == "" {
			requestURL = c.baseURL + "/servers"
			params = c.firstPageParams(min(c.pageSize, limit-len(collected)), filters)
		}

		envelope, errFetch := network.FetchJSON[apiResponse](ctx, c.http, requestURL, params)
		if errFetch != nil {
			if len(collected) == 0 {
				return nil, errors.Join(errFetch, ErrFetchPage)
			}
			slog.Error("Directory page fetch failed, keeping partial results",
				slog.Int("page", page), slog.Int("fetched", len(collected)),
				slog.String("error", errFetch.Error()))

			return collected, nil
		}

		servers := parseEnvelope(envelope)
		collected = append(collected, servers...)

		slog.Debug("Fetched directory page", slog.Int("page", page),
			slog.Int("servers", len(servers)), slog.Int("total", len(collected)))

		nextURL = envelope.Links.Next
		if nextURL == "" || len(servers) == 0 {
			break
		}
		page++
	}

	if len(collected) > limit {
		collected = collected[:limit]
	}

	return collected, nil
}

// firstPageParams builds the initial query. Caller supplied filter keys
// are namespaced as filter[key] unless already namespaced or one of the
// recognized bare keys.
func (c *Client) firstPageParams(pageSize int, filters map[string]string) url.Values {
	params := url.Values{}
	params.Set("filter[game]", "dayz")
	params.Set("filter[status]", "online")
	params.Set("page[size]", strconv.Itoa(pageSize))
	params.Set("sort", "-players")

	for key, value := range filters {
		if strings.HasPrefix(key, "filter[") || strings.HasPrefix(key, "search") {
			params.Set(key, value)

			continue
		}
		params.Set("filter["+key+"]", value)
	}

	return params
}

type apiResponse struct {
	Data     []apiServer   `json:"data"`
	Included []apiIncluded `json:"included"`
	Links    struct {
		Next string `json:"next"`
	} `json:"links"`
}

type apiServer struct {
	ID         string `json:"id"`
	Attributes struct {
		Name       string         `json:"name"`
		IP         string         `json:"ip"`
		Port       int            `json:"port"`
		Players    int            `json:"players"`
		MaxPlayers int            `json:"maxPlayers"`
		Country    string         `json:"country"`
		Rank       int            `json:"rank"`
		Status     string         `json:"status"`
		Private    bool           `json:"private"`
		Details    map[string]any `json:"details"`
	} `json:"attributes"`
	Relationships struct {
		ServerInfo struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"serverInfo"`
	} `json:"relationships"`
}

type apiIncluded struct {
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// parseEnvelope joins each record to its serverInfo side table entry and
// extracts the fields we keep. A malformed record is skipped, never
// failing the page.
func parseEnvelope(envelope apiResponse) []RawServer {
	sideTable := make(map[string]map[string]any, len(envelope.Included))
	for _, included := range envelope.Included {
		if included.Type == "serverInfo" {
			sideTable[included.ID] = included.Attributes
		}
	}

	servers := make([]RawServer, 0, len(envelope.Data))
	for _, data := range envelope.Data {
		attrs := data.Attributes
		if attrs.IP == "" || attrs.Name == "" {
			slog.Warn("Skipping malformed directory record", slog.String("id", data.ID))

			continue
		}

		// The side table entry supplements the inline details; inline keys win.
		details := make(map[string]any)
		infoID := data.Relationships.ServerInfo.Data.ID
		if infoID == "" {
			infoID = data.ID
		}
		for key, value := range sideTable[infoID] {
			details[key] = value
		}
		for key, value := range attrs.Details {
			details[key] = value
		}

		queryPort := asInt(details["queryPort"])
		if queryPort == 0 {
			queryPort = attrs.Port + 1
		}

		password, _ := details["password"].(bool)

		servers = append(servers, RawServer{
			ID:         data.ID,
			Name:       attrs.Name,
			Address:    attrs.IP,
			GamePort:   attrs.Port,
			QueryPort:  queryPort,
			Players:    attrs.Players,
			MaxPlayers: attrs.MaxPlayers,
			Queue:      asInt(details["squad_publicQueue"]),
			MapName:    MapFromName(attrs.Name),
			Country:    attrs.Country,
			Status:     attrs.Status,
			Private:    attrs.Private,
			Password:   password,
			Rank:       attrs.Rank,
			Mods:       ExtractMods(details),
		})
	}

	return servers
}

// asInt tolerates the number/string ambiguity of the details blob.
func asInt(value any) int {
	switch typed := value.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case string:
		parsed, err := strconv.Atoi(typed)
		if err != nil {
			return 0
		}

		return parsed
	default:
		return 0
	}
}
