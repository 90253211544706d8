package battlemetrics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
)

// The directory exposes mod data in several shapes depending on how the
// server advertises itself. Extraction runs every heuristic in confidence
// order and deduplicates by workshop id; the order below is part of the
// contract and must stay deterministic.
var modExtractors = []func(details map[string]any) []dayz.Mod{
	pairedIDNameArrays,
	idArrayOnly,
	knownModKeys,
	freeTextWorkshopIDs,
}

// Keys that may carry structured mod lists.
var structuredModKeys = []string{"mods", "serverMods", "requiredMods"}

// Workshop ids are 9 or 10 digit numeric tokens.
var workshopIDPattern = regexp.MustCompile(`\b\d{9,10}\b`)

// ExtractMods pulls the mod list out of a server details blob.
func ExtractMods(details map[string]any) []dayz.Mod {
	var (
		mods []dayz.Mod
		seen = map[string]bool{}
	)

	for _, extract := range modExtractors {
		for _, mod := range extract(details) {
			if mod.ID == "" || seen[mod.ID] {
				continue
			}
			seen[mod.ID] = true
			mods = append(mods, mod)
		}
	}

	return mods
}

// pairedIDNameArrays handles parallel modIds/modNames arrays of equal length.
func pairedIDNameArrays(details map[string]any) []dayz.Mod {
	ids := anySlice(details["modIds"])
	names := anySlice(details["modNames"])
	if len(ids) == 0 || len(ids) != len(names) {
		return nil
	}

	var mods []dayz.Mod
	for idx, rawID := range ids {
		id := digitsOnly(rawID)
		if id == "" {
			continue
		}

		name, _ := names[idx].(string)
		if name == "" {
			name = fallbackName(id)
		}
		mods = append(mods, dayz.Mod{ID: id, Name: name})
	}

	return mods
}

// idArrayOnly handles a bare modIds array with no matching names.
func idArrayOnly(details map[string]any) []dayz.Mod {
	var mods []dayz.Mod
	for _, rawID := range anySlice(details["modIds"]) {
		if id := digitsOnly(rawID); id != "" {
			mods = append(mods, dayz.Mod{ID: id, Name: fallbackName(id)})
		}
	}

	return mods
}

// knownModKeys handles list-of-objects, list-of-strings and comma joined
// id strings under the structured keys.
func knownModKeys(details map[string]any) []dayz.Mod {
	var mods []dayz.Mod

	for _, key := range structuredModKeys {
		switch value := details[key].(type) {
		case []any:
			for _, entry := range value {
				switch typed := entry.(type) {
				case map[string]any:
					id := digitsOnly(typed["id"])
					if id == "" {
						continue
					}
					name, _ := typed["name"].(string)
					if name == "" {
						name = fallbackName(id)
					}
					mods = append(mods, dayz.Mod{ID: id, Name: name})
				case string:
					if id := digitsOnly(typed); id != "" {
						mods = append(mods, dayz.Mod{ID: id, Name: fallbackName(id)})
					}
				}
			}
		case string:
			for _, token := range strings.Split(value, ",") {
				if id := digitsOnly(strings.TrimSpace(token)); id != "" {
					mods = append(mods, dayz.Mod{ID: id, Name: fallbackName(id)})
				}
			}
		}
	}

	return mods
}

// freeTextWorkshopIDs is the lowest confidence pass: any mod-ish string
// field is scanned for workshop id shaped tokens. Keys are visited in
// sorted order so the result is stable.
func freeTextWorkshopIDs(details map[string]any) []dayz.Mod {
	keys := make([]string, 0, len(details))
	for key := range details {
		if strings.Contains(strings.ToLower(key), "mod") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var mods []dayz.Mod
	for _, key := range keys {
		text, isString := details[key].(string)
		if !isString {
			continue
		}

		for _, id := range workshopIDPattern.FindAllString(text, -1) {
			mods = append(mods, dayz.Mod{ID: id, Name: fallbackName(id)})
		}
	}

	return mods
}

func anySlice(value any) []any {
	slice, _ := value.([]any)

	return slice
}

// digitsOnly returns the value as a string when it is an all-digit token.
func digitsOnly(value any) string {
	var token string
	switch typed := value.(type) {
	case string:
		token = typed
	case float64:
		token = strconv.FormatInt(int64(typed), 10)
	default:
		return ""
	}

	if token == "" {
		return ""
	}
	for _, char := range token {
		if char < '0' || char > '9' {
			return ""
		}
	}

	return token
}

func fallbackName(id string) string {
	return "Mod " + id
}
