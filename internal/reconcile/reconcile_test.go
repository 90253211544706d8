package reconcile_test

import (
	"testing"
	"time"

	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/dzbrowse/dzbrowse/internal/reconcile"
	"github.com/dzbrowse/dzbrowse/internal/steamweb"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		modCount int
		private  bool
		expected dayz.ServerType
	}{
		{"DayZ US 1", 0, false, dayz.Official},
		{"DayZ DE 4242", 0, false, dayz.Official},
		{"[EU] Clan PVP |x10 Loot+|", 0, false, dayz.Community},
		{"Server with whitelist access", 0, false, dayz.Private},
		{"Anything", 0, true, dayz.Private},
		// Only private/whitelist/closed are private markers; "members" in a
		// name that passes every official clause stays official.
		{"DayZ US Members 1", 0, false, dayz.Official},
		// Official needs every clause: mods, symbols and keywords all disqualify.
		{"DayZ US 1", 2, false, dayz.Community},
		{"DayZ US 1!", 0, false, dayz.Community},
		{"DayZ US 1 discord.gg", 0, false, dayz.Community},
		{"DayZ roleplay US 1", 0, false, dayz.Community},
		// Region token must be space delimited.
		{"DayZ prudence 1", 0, false, dayz.Community},
		{"Banov Adventures", 0, false, dayz.Community},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.expected,
				reconcile.Classify(testCase.name, testCase.modCount, testCase.private))
		})
	}
}

func TestMergeMapOverlay(t *testing.T) {
	now := time.Unix(1700000000, 0)
	primary := []battlemetrics.RawServer{
		{
			ID: "1", Name: "Cherno Nights", Address: "1.2.3.4", GamePort: 2302,
			QueryPort: 2303, Players: 10, MaxPlayers: 60, Status: "online",
			MapName: "Chernarus",
		},
		{
			ID: "2", Name: "Mystery Island", Address: "5.6.7.8", GamePort: 2302,
			QueryPort: 2303, Status: "online", MapName: battlemetrics.UnknownMap,
		},
	}

	// Secondary data matches by bare address and wins unconditionally.
	mapNames := map[string]string{"1.2.3.4": "banov", "5.6.7.8": "namalsk"}

	records := reconcile.Merge(primary, mapNames, nil, now)
	require.Len(t, records, 2)
	require.Equal(t, "banov", records[0].MapName)
	require.Equal(t, "namalsk", records[1].MapName)
	require.Equal(t, dayz.PingUnmeasured, records[0].Ping)
	require.True(t, records[0].Online)
}

func TestMergeIdempotent(t *testing.T) {
	now := time.Unix(1700000000, 0)
	primary := []battlemetrics.RawServer{
		{
			ID: "1", Name: "DayZ US 1", Address: "1.2.3.4", GamePort: 2302,
			QueryPort: 2303, Players: 42, MaxPlayers: 60, Status: "online",
			Country: "US", MapName: "Chernarus",
			Mods: []dayz.Mod{},
		},
		{
			ID: "2", Name: "Modded Banov", Address: "5.6.7.8", GamePort: 2302,
			QueryPort: 2303, Status: "online", MapName: "Banov",
			Mods: []dayz.Mod{{ID: "1559212036", Name: "CF"}},
		},
	}
	mapNames := map[string]string{"5.6.7.8": "banov"}

	first := reconcile.Merge(primary, mapNames, nil, now)
	second := reconcile.Merge(primary, mapNames, nil, now)
	require.Equal(t, first, second)
}

func TestMergeScenario(t *testing.T) {
	// A populated server with a region token, zero mods and no enrichment
	// match keeps its heuristic map and classifies by the name rules.
	now := time.Unix(1700000000, 0)
	primary := []battlemetrics.RawServer{{
		ID: "1", Name: "DayZ Test DE 1", Address: "1.2.3.4", GamePort: 2302,
		QueryPort: 2303, Players: 10, MaxPlayers: 60, Status: "online",
		MapName: battlemetrics.UnknownMap,
	}}

	records := reconcile.Merge(primary, nil, nil, now)
	require.Len(t, records, 1)
	require.Equal(t, dayz.Official, records[0].Type)
	require.Equal(t, battlemetrics.UnknownMap, records[0].MapName)
	require.True(t, records[0].Online)
}

type staticCountries map[string]string

func (s staticCountries) Country(address string) string { return s[address] }

func TestMergeCountryFill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	primary := []battlemetrics.RawServer{
		{ID: "1", Name: "Has Country", Address: "1.1.1.1", GamePort: 2302, QueryPort: 2303, Country: "DE", Status: "online"},
		{ID: "2", Name: "No Country", Address: "2.2.2.2", GamePort: 2302, QueryPort: 2303, Status: "online"},
	}

	records := reconcile.Merge(primary, nil, staticCountries{"2.2.2.2": "FR"}, now)
	require.Equal(t, "DE", records[0].Country)
	require.Equal(t, "FR", records[1].Country)
}

func TestFromSteam(t *testing.T) {
	now := time.Unix(1700000000, 0)
	bulk := []steamweb.BulkServer{
		{Addr: "1.2.3.4:2302", Name: "DayZ US 1", Map: "chernarusplus", GameType: "1pp", Players: 30, MaxPlayers: 60},
		{Addr: "not-an-addr", Name: "Broken"},
	}

	records := reconcile.FromSteam(bulk, nil, now)
	require.Len(t, records, 1)
	require.Equal(t, "1.2.3.4", records[0].Address)
	require.Equal(t, 2303, records[0].QueryPort)
	require.Equal(t, "chernarusplus", records[0].MapName)
	require.Equal(t, "1PP", records[0].Perspective)
	require.Equal(t, dayz.Official, records[0].Type)
}
