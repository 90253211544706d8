// Package steamweb implements the secondary, popularity ranked directory.
// It is strictly best effort: a failed fetch degrades to the last cached
// snapshot, and a missing snapshot degrades to nothing at all. The
// pipeline must keep working without it.
package steamweb

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dzbrowse/dzbrowse/internal/cache"
	"github.com/dzbrowse/dzbrowse/internal/network"
	"github.com/dzbrowse/dzbrowse/internal/network/encoding"
)

const dayzAppID = 221100

var ErrFetchBulk = errors.New("failed to fetch bulk server list")

// BulkServer is one entry of the bulk listing.
type BulkServer struct {
	Addr       string `json:"addr"`
	Name       string `json:"name"`
	Map        string `json:"map"`
	GameType   string `json:"gametype"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
}

// Host returns the bare address with any port stripped. Map enrichment
// matches on address only since the two directories disagree on port
// conventions for the same physical server.
func (b BulkServer) Host() string {
	host, _, err := net.SplitHostPort(b.Addr)
	if err != nil {
		return b.Addr
	}

	return host
}

type response struct {
	Response struct {
		Servers []BulkServer `json:"servers"`
	} `json:"response"`
}

type Client struct {
	baseURL   string
	apiKey    string
	http      *http.Client
	snapshots cache.Cache
}

func New(baseURL string, apiKey string, httpClient *http.Client, snapshots cache.Cache) *Client {
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		http:      httpClient,
		snapshots: snapshots,
	}
}

// FetchBulk pulls up to limit popular servers in one request. On upstream
// failure it falls back to a recent snapshot; callers always get a usable
// (possibly empty) slice and should treat an empty result as "no
// enrichment this cycle", never as a fatal condition.
func (c *Client) FetchBulk(ctx context.Context, limit int) []BulkServer {
	if c.apiKey == "" {
		slog.Debug("No steam api key configured, skipping bulk fetch")

		return c.fromSnapshot()
	}

	params := url.Values{}
	params.Set("filter", `\appid\`+strconv.Itoa(dayzAppID))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("key", c.apiKey)
	params.Set("format", "json")

	body, errFetch := network.FetchJSON[response](ctx, c.http,
		c.baseURL+"/IGameServersService/GetServerList/v1/", params)
	if errFetch != nil {
		slog.Warn("Bulk server fetch failed, trying snapshot",
			slog.String("error", errFetch.Error()))

		return c.fromSnapshot()
	}

	servers := body.Response.Servers
	if len(servers) > limit {
		servers = servers[:limit]
	}

	c.saveSnapshot(servers)

	return servers
}

func (c *Client) fromSnapshot() []BulkServer {
	if c.snapshots == nil {
		return nil
	}

	body, errGet := c.snapshots.Get(cache.SnapshotSteamList)
	if errGet != nil {
		return nil
	}

	servers, errDecode := encoding.UnmarshalJSON[[]BulkServer](bytes.NewReader(body))
	if errDecode != nil {
		slog.Warn("Discarding undecodable bulk snapshot", slog.String("error", errDecode.Error()))

		return nil
	}

	return servers
}

func (c *Client) saveSnapshot(servers []BulkServer) {
	if c.snapshots == nil || len(servers) == 0 {
		return
	}

	var body bytes.Buffer
	if errMarshal := encoding.MarshalJSON(&body, servers); errMarshal != nil {
		return
	}

	if errSet := c.snapshots.Set(cache.SnapshotSteamList, body.Bytes()); errSet != nil {
		slog.Warn("Failed to save bulk snapshot", slog.String("error", errSet.Error()))
	}
}

// MapNames indexes the bulk listing by bare address for map enrichment.
// Entries without a usable map name are dropped.
func MapNames(servers []BulkServer) map[string]string {
	index := make(map[string]string, len(servers))
	for _, server := range servers {
		if server.Map == "" {
			continue
		}
		index[server.Host()] = server.Map
	}

	return index
}
