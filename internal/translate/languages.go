package translate

import "strings"

// Each provider speaks its own dialect of language tags. The task wire
// format uses lowercase BCP-47-ish tags ("en", "zh-cn"); the tables below
// project those onto what each backend accepts. Unknown tags fall back to
// English rather than failing the call.

// languageName renders a tag as the human-readable name used in the LLM
// translator prompt.
func languageName(tag string) string {
	names := map[string]string{
		"en":    "English",
		"zh-cn": "Simplified Chinese",
		"zh-tw": "Traditional Chinese",
		"ja":    "Japanese",
		"ko":    "Korean",
		"fr":    "French",
		"de":    "German",
		"es":    "Spanish",
		"ru":    "Russian",
		"it":    "Italian",
		"pt":    "Portuguese",
		"ar":    "Arabic",
	}
	if name, ok := names[strings.ToLower(tag)]; ok {
		return name
	}
	return tag
}

// googleLanguage maps a tag to the Cloud Translation v2 code.
func googleLanguage(tag string) string {
	known := map[string]bool{
		"zh-cn": true, "zh-tw": true, "ja": true, "ko": true, "en": true,
		"fr": true, "de": true, "es": true, "ru": true, "it": true,
		"pt": true, "ar": true, "hi": true, "th": true, "vi": true,
		"tr": true, "pl": true, "nl": true, "sv": true, "da": true,
		"no": true, "fi": true,
	}
	tag = strings.ToLower(tag)
	if known[tag] {
		return tag
	}
	return "en"
}

// deepLLanguage maps a tag to the DeepL v2 code. DeepL distinguishes the
// Chinese scripts and folds regional English and Portuguese variants.
func deepLLanguage(tag string) string {
	mapping := map[string]string{
		"zh-cn": "ZH-HANS",
		"zh-tw": "ZH-HANT",
		"ja":    "JA",
		"ko":    "KO",
		"en":    "EN",
		"en-gb": "EN",
		"en-us": "EN",
		"fr":    "FR",
		"de":    "DE",
		"es":    "ES",
		"ru":    "RU",
		"it":    "IT",
		"pt":    "PT",
		"pt-br": "PT",
		"pt-pt": "PT",
		"ar":    "AR",
		"th":    "TH",
		"vi":    "VI",
		"tr":    "TR",
		"pl":    "PL",
		"nl":    "NL",
		"sv":    "SV",
		"da":    "DA",
		"no":    "NB",
		"fi":    "FI",
		"bg":    "BG",
		"cs":    "CS",
		"el":    "EL",
		"et":    "ET",
		"he":    "HE",
		"hu":    "HU",
		"id":    "ID",
		"lt":    "LT",
		"lv":    "LV",
		"ro":    "RO",
		"sk":    "SK",
		"sl":    "SL",
		"uk":    "UK",
	}
	if code, ok := mapping[strings.ToLower(tag)]; ok {
		return code
	}
	return "EN"
}

// deepLSourceLanguage maps a source tag. DeepL does not accept script
// subtags on source_lang, so both Chinese variants collapse to ZH.
func deepLSourceLanguage(tag string) string {
	code := deepLLanguage(tag)
	if strings.HasPrefix(code, "ZH-") {
		return "ZH"
	}
	return code
}

// libreLanguage maps a tag to the LibreTranslate code, which has no script
// subtags.
func libreLanguage(tag string) string {
	mapping := map[string]string{
		"zh-cn": "zh", "zh-tw": "zh", "ja": "ja", "ko": "ko", "en": "en",
		"fr": "fr", "de": "de", "es": "es", "ru": "ru", "it": "it",
		"pt": "pt", "ar": "ar",
	}
	if code, ok := mapping[strings.ToLower(tag)]; ok {
		return code
	}
	return "en"
}

// Character sets separating the simplified and traditional renderings of
// common Chinese words, used to pick a script when Han text is detected.
var (
	simplifiedHint  = []rune("的了在是我有个这你们来到时大地为上就一去道出而要会年生可以还人得之后自己回事好只那些知道就要这样")
	traditionalHint = []rune("的了在是我有個這你們來到時大地為上就一去道出而要會年生可以還人得之後自己回事好只那些知道就要這樣")
)

// DetectLanguage guesses the language of text from Unicode ranges. It is a
// heuristic for choosing a transcription language when the task carries
// none, not a general-purpose detector. Defaults to English.
func DetectLanguage(text string) string {
	var hasHan, hasKana, hasHangul, hasArabic, hasCyrillic bool
	for _, r := range text {
		switch {
		case r >= 0x4e00 && r <= 0x9fff:
			hasHan = true
		case r >= 0x3040 && r <= 0x30ff:
			hasKana = true
		case r >= 0xac00 && r <= 0xd7af:
			hasHangul = true
		case r >= 0x0600 && r <= 0x06ff:
			hasArabic = true
		case r >= 0x0400 && r <= 0x04ff:
			hasCyrillic = true
		}
	}
	// Han takes priority: mixed kanji/kana text classifies as Chinese.
	switch {
	case hasHan:
		return detectHanScript(text)
	case hasKana:
		return "ja"
	case hasHangul:
		return "ko"
	case hasArabic:
		return "ar"
	case hasCyrillic:
		return "ru"
	default:
		return "en"
	}
}

// detectHanScript separates simplified from traditional Chinese by counting
// hits against the hint character sets. Ties go to simplified.
func detectHanScript(text string) string {
	simplified := make(map[rune]bool, len(simplifiedHint))
	for _, r := range simplifiedHint {
		simplified[r] = true
	}
	traditional := make(map[rune]bool, len(traditionalHint))
	for _, r := range traditionalHint {
		traditional[r] = true
	}

	var sCount, tCount int
	for _, r := range text {
		if simplified[r] {
			sCount++
		}
		if traditional[r] {
			tCount++
		}
	}
	if sCount >= tCount {
		return "zh-cn"
	}
	return "zh-tw"
}
