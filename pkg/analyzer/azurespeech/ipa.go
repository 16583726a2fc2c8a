package azurespeech

import "strings"

// azureToIPA maps the provider's phoneme names to IPA symbols.
var azureToIPA = map[string]string{
	// Vowels
	"ax": "ə",
	"ay": "aɪ",
	"ow": "oʊ",
	"iy": "i",
	"ih": "ɪ",
	"eh": "ɛ",
	"ae": "æ",
	"aa": "ɑ",
	"ao": "ɔ",
	"uw": "u",
	"uh": "ʊ",
	"er": "ɜr",
	// Consonants
	"dh": "ð",
	"th": "θ",
	"sh": "ʃ",
	"zh": "ʒ",
	"ch": "tʃ",
	"jh": "dʒ",
	"ng": "ŋ",
	"y":  "j",
}

// Stress markers, by the provider's stress field values.
const (
	primaryStress   = "ˈ"
	secondaryStress = "ˌ"
)

// ConvertToIPA converts a provider phoneme name to its IPA symbol,
// prefixing the stress marker for stress levels 1 (primary) and 2
// (secondary). Phonemes ending in a stress digit carry it the same way.
// Unknown phonemes pass through unchanged.
func ConvertToIPA(phoneme string, stress int) string {
	p := strings.ToLower(strings.TrimSpace(phoneme))

	marker := ""
	switch {
	case strings.HasSuffix(p, "1"):
		marker = primaryStress
		p = strings.TrimSuffix(p, "1")
	case strings.HasSuffix(p, "2"):
		marker = secondaryStress
		p = strings.TrimSuffix(p, "2")
	case stress == 1:
		marker = primaryStress
	case stress == 2:
		marker = secondaryStress
	}

	if ipa, ok := azureToIPA[p]; ok {
		return marker + ipa
	}
	return marker + p
}
