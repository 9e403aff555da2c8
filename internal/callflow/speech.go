package callflow

import "strings"

// digitWords is the ten-entry German digit→word table, grounded on the
// original Python service's address.py (which uses num2words before
// reading a resolved postal code back for confirmation). No example repo
// in the retrieval pack carries a words-for-digits library, so this stays
// a fixed table rather than pulling in a general i18n dependency
// (SPEC_FULL.md's "Supplemented features" item 2).
var digitWords = map[byte]string{
	'0': "null", '1': "eins", '2': "zwei", '3': "drei", '4': "vier",
	'5': "fünf", '6': "sechs", '7': "sieben", '8': "acht", '9': "neun",
}

// spokenDigits renders a numeric string (e.g. a resolved PLZ) as
// space-separated German digit words, for read-back confirmation.
func spokenDigits(digits string) string {
	words := make([]string, 0, len(digits))
	for i := 0; i < len(digits); i++ {
		if w, ok := digitWords[digits[i]]; ok {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}
