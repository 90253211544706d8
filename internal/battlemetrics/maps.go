package battlemetrics

import "strings"

type mapAlias struct {
	name   string
	tokens []string
}

// mapAliases is the catalog of known map names and the substrings server
// operators tend to put in their display names. Matching is best effort;
// the secondary directory overrides whatever this guesses.
var mapAliases = []mapAlias{
	{"Chernarus", []string{"chernarus", "cherno"}},
	{"Livonia", []string{"livonia"}},
	{"Namalsk", []string{"namalsk"}},
	{"Sakhal", []string{"sakhal"}},
	{"Banov", []string{"banov"}},
	{"Esseker", []string{"esseker"}},
	{"Deer Isle", []string{"deer isle", "deerisle"}},
	{"Takistan", []string{"takistan"}},
	{"Alteria", []string{"alteria"}},
	{"Pripyat", []string{"pripyat"}},
	{"Valning", []string{"valning"}},
	{"Melkart", []string{"melkart"}},
	{"Rostow", []string{"rostow"}},
	{"Iztek", []string{"iztek"}},
	{"Swans Island", []string{"swans island", "swansisland"}},
}

// UnknownMap is the placeholder until enrichment supplies the real name.
const UnknownMap = "Unknown"

// MapFromName infers the map from a server display name.
func MapFromName(serverName string) string {
	lowered := strings.ToLower(serverName)
	for _, alias := range mapAliases {
		for _, token := range alias.tokens {
			if strings.Contains(lowered, token) {
				return alias.name
			}
		}
	}

	return UnknownMap
}
