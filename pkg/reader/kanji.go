package reader

import "unicode"

// KanjiUsage records where a kanji occurs in a document.
type KanjiUsage struct {
	Char  string   `json:"char"`
	Count int      `json:"count"`
	Words []string `json:"words"`
}

// IsKanji reports whether r is a CJK ideograph. The iteration mark 々 is
// not counted.
func IsKanji(r rune) bool {
	return r != '々' && unicode.Is(unicode.Han, r)
}

// CollectKanji lists the distinct kanji of sentences in first-seen order,
// each with the base forms of the words it appears in.
func CollectKanji(sentences []Sentence) []KanjiUsage {
	var result []KanjiUsage
	index := make(map[rune]int)
	seenWord := make(map[rune]map[string]bool)

	for _, s := range sentences {
		for _, tok := range s.Tokens {
			for _, r := range tok.Surface {
				if !IsKanji(r) {
					continue
				}
				i, ok := index[r]
				if !ok {
					i = len(result)
					index[r] = i
					seenWord[r] = make(map[string]bool)
					result = append(result, KanjiUsage{Char: string(r)})
				}
				result[i].Count++
				if !seenWord[r][tok.BaseForm] {
					seenWord[r][tok.BaseForm] = true
					result[i].Words = append(result[i].Words, tok.BaseForm)
				}
			}
		}
	}
	return result
}

// Chars returns the Char of every usage.
func Chars(usages []KanjiUsage) []string {
	chars := make([]string, len(usages))
	for i, u := range usages {
		chars[i] = u.Char
	}
	return chars
}
