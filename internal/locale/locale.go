// Package locale matches client language preferences against the languages
// notification text is written in.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

const (
	English    = "en"
	Indonesian = "id"
	Default    = English
)

var (
	supported = []language.Tag{language.English, language.Indonesian}
	matcher   = language.NewMatcher(supported)
)

// Normalize maps any BCP 47 tag onto a supported locale, or Default.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Default
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return Default
	}
	return match(tag)
}

// FromAcceptLanguage returns the best supported locale for an
// Accept-Language header, or "" when the header names nothing usable.
func FromAcceptLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	return supported[idx].String()
}

// FromCountry guesses a locale from an ISO country code.
func FromCountry(country string) string {
	if strings.EqualFold(country, "ID") {
		return Indonesian
	}
	return English
}

// Region returns the region subtag of a language tag, if any.
func Region(raw string) string {
	tag, err := language.Parse(strings.ReplaceAll(strings.TrimSpace(raw), "_", "-"))
	if err != nil {
		return ""
	}
	region, conf := tag.Region()
	if conf != language.Exact {
		return ""
	}
	return region.String()
}

func match(tag language.Tag) string {
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return Default
	}
	return supported[idx].String()
}
