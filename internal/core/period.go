package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PeriodKey is the canonical label of one of the twelve calendar months.
// Monthly buckets are only ever persisted under these exact strings.
type PeriodKey string

const (
	Janvier   PeriodKey = "Janvier"
	Fevrier   PeriodKey = "Février"
	Mars      PeriodKey = "Mars"
	Avril     PeriodKey = "Avril"
	Mai       PeriodKey = "Mai"
	Juin      PeriodKey = "Juin"
	Juillet   PeriodKey = "Juillet"
	Aout      PeriodKey = "Août"
	Septembre PeriodKey = "Septembre"
	Octobre   PeriodKey = "Octobre"
	Novembre  PeriodKey = "Novembre"
	Decembre  PeriodKey = "Décembre"
)

// Months lists the canonical keys in calendar order.
var Months = [12]PeriodKey{
	Janvier, Fevrier, Mars, Avril, Mai, Juin,
	Juillet, Aout, Septembre, Octobre, Novembre, Decembre,
}

var periodIndex = func() map[string]PeriodKey {
	idx := make(map[string]PeriodKey, len(Months))
	for _, m := range Months {
		idx[foldPeriod(string(m))] = m
	}
	return idx
}()

// NormalizePeriod maps a free-form period label to its canonical key,
// tolerating case differences, surrounding whitespace and accent variants
// ("  janvier " -> Janvier, "AOUT" -> Août). The second return value is
// false when the input cannot be mapped; callers must abort the write in
// that case rather than persist under an unknown bucket.
func NormalizePeriod(raw string) (PeriodKey, bool) {
	folded := foldPeriod(raw)
	if folded == "" {
		return "", false
	}
	key, ok := periodIndex[folded]
	return key, ok
}

var periodFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldPeriod lowercases, trims and strips combining marks so that spelling
// variants of the same month collapse to one lookup key.
func foldPeriod(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	folded, _, err := transform.String(periodFolder, s)
	if err != nil {
		return s
	}
	return folded
}
