package types

import (
	"golang.org/x/text/language"
)

// supportedLocales and shortMonths share indexes.
var supportedLocales = []language.Tag{
	language.English,
	language.Indonesian,
	language.Spanish,
	language.Arabic,
}

var shortMonths = [][12]string{
	{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
	{"Jan", "Feb", "Mar", "Apr", "Mei", "Jun", "Jul", "Agu", "Sep", "Okt", "Nov", "Des"},
	{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sept", "oct", "nov", "dic"},
	{"يناير", "فبراير", "مارس", "أبريل", "مايو", "يونيو", "يوليو", "أغسطس", "سبتمبر", "أكتوبر", "نوفمبر", "ديسمبر"},
}

var localeMatcher = language.NewMatcher(supportedLocales)

// MonthLabels returns short month names for a BCP 47 locale or an
// Accept-Language header value, falling back to English.
func MonthLabels(locale string) [12]string {
	tags, _, err := language.ParseAcceptLanguage(locale)
	if err != nil || len(tags) == 0 {
		return shortMonths[0]
	}

	_, index, conf := localeMatcher.Match(tags...)
	if conf == language.No || index >= len(shortMonths) {
		return shortMonths[0]
	}

	return shortMonths[index]
}
