package battlemetrics_test

import (
	"testing"

	"github.com/dzbrowse/dzbrowse/internal/battlemetrics"
	"github.com/dzbrowse/dzbrowse/internal/dayz"
	"github.com/stretchr/testify/require"
)

func TestExtractMods(t *testing.T) {
	cases := []struct {
		name     string
		details  map[string]any
		expected []dayz.Mod
	}{
		{
			name: "paired id and name arrays",
			details: map[string]any{
				"modIds":   []any{"1559212036", "1564026768"},
				"modNames": []any{"CF", "Community Online Tools"},
			},
			expected: []dayz.Mod{
				{ID: "1559212036", Name: "CF"},
				{ID: "1564026768", Name: "Community Online Tools"},
			},
		},
		{
			name:    "ids only with numeric entries",
			details: map[string]any{"modIds": []any{float64(1559212036)}},
			expected: []dayz.Mod{
				{ID: "1559212036", Name: "Mod 1559212036"},
			},
		},
		{
			name: "list of objects",
			details: map[string]any{
				"mods": []any{map[string]any{"id": "1559212036", "name": "CF"}},
			},
			expected: []dayz.Mod{{ID: "1559212036", Name: "CF"}},
		},
		{
			name:    "comma joined id string",
			details: map[string]any{"serverMods": "1559212036, 1564026768"},
			expected: []dayz.Mod{
				{ID: "1559212036", Name: "Mod 1559212036"},
				{ID: "1564026768", Name: "Mod 1564026768"},
			},
		},
		{
			name:    "workshop ids in free text",
			details: map[string]any{"modInfo": "running 1559212036 and 1564026768 today"},
			expected: []dayz.Mod{
				{ID: "1559212036", Name: "Mod 1559212036"},
				{ID: "1564026768", Name: "Mod 1564026768"},
			},
		},
		{
			name: "deduplicated across heuristics, highest confidence name wins",
			details: map[string]any{
				"modIds":   []any{"1559212036"},
				"modNames": []any{"CF"},
				"mods":     []any{map[string]any{"id": "1559212036", "name": "Duplicate"}},
			},
			expected: []dayz.Mod{{ID: "1559212036", Name: "CF"}},
		},
		{
			name:     "eight digit tokens are not workshop ids",
			details:  map[string]any{"modInfo": "build 12345678"},
			expected: nil,
		},
		{
			name:     "vanilla",
			details:  map[string]any{},
			expected: nil,
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			require.Equal(t, testCase.expected, battlemetrics.ExtractMods(testCase.details))
		})
	}
}

func TestExtractModsDeterministic(t *testing.T) {
	details := map[string]any{
		"modInfo":  "1559212036 1564026768",
		"modExtra": "1828439124",
	}

	first := battlemetrics.ExtractMods(details)
	for range 10 {
		require.Equal(t, first, battlemetrics.ExtractMods(details))
	}
}

func TestMapFromName(t *testing.T) {
	require.Equal(t, "Chernarus", battlemetrics.MapFromName("Super Cherno Loot+ PVP"))
	require.Equal(t, "Livonia", battlemetrics.MapFromName("DayZ Livonia EU"))
	require.Equal(t, "Deer Isle", battlemetrics.MapFromName("[AU] DeerIsle RP"))
	require.Equal(t, battlemetrics.UnknownMap, battlemetrics.MapFromName("Totally Custom Island"))
}
