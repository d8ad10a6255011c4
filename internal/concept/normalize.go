package concept

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	parentheticalRe = regexp.MustCompile(`\(.*?\)`)
	punctuationRe   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

	separatorReplacer = strings.NewReplacer(
		"&", "and",
		"/", " ",
		"-", " ",
	)
)

// NormalizeItemName builds the lookup key for an item name:
//  1. Folding compatibility forms and dropping accents
//  2. Lower-casing
//  3. Removing parenthetical qualifiers ("(Loss)", "(ROE)")
//  4. Spelling out "&" and splitting on "/" and "-"
//  5. Dropping remaining punctuation and collapsing whitespace
func NormalizeItemName(name string) string {
	if name == "" {
		return ""
	}

	name = fold(name)
	name = strings.ToLower(name)
	name = parentheticalRe.ReplaceAllString(name, "")
	name = separatorReplacer.Replace(name)
	name = punctuationRe.ReplaceAllString(name, "")

	return strings.Join(strings.Fields(name), " ")
}

func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
