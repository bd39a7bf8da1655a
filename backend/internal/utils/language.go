package utils

import "strings"

// defaultLocales maps bare language codes to the locale the live provider
// expects for speech
var defaultLocales = map[string]string{
	"es": "es-ES",
	"en": "en-US",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"ja": "ja-JP",
	"zh": "cmn-CN",
	"ko": "ko-KR",
	"ru": "ru-RU",
}

// NormalizeLanguage turns "es", "ES" or "es_es" into "es-ES". Unknown bare
// codes are returned lowercased; empty stays empty.
func NormalizeLanguage(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if code == "" {
		return ""
	}

	lang, region, hasRegion := strings.Cut(code, "-")
	lang = strings.ToLower(lang)
	if !hasRegion {
		if locale, ok := defaultLocales[lang]; ok {
			return locale
		}
		return lang
	}
	return lang + "-" + strings.ToUpper(region)
}
