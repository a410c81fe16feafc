// Package matchkey derives the Goldrush-style approximate matching key: a
// deterministic, fixed-width composite string built from normalized
// descriptive fields. The key is useful as a secondary (blocking) matchpoint
// namespace when identifier-based matching alone is not enough to cluster
// records describing the same work.
package matchkey

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fragment widths. The widths and their order are part of the key's
// identity: two derivations only join if every fragment lines up.
const (
	TitleWidth       = 60
	titleSoftWidth   = 45
	MediaWidth       = 5
	YearWidth        = 4
	PaginationWidth  = 4
	EditionWidth     = 3
	PublisherWidth   = 5
	RecordTypeWidth  = 1
	TitlePartWidth   = 10
	TitleNumberWidth = 5

	// KeyWidth is the total width of a derived key.
	KeyWidth = TitleWidth + MediaWidth + YearWidth + PaginationWidth +
		EditionWidth + PublisherWidth + RecordTypeWidth + TitlePartWidth + TitleNumberWidth
)

var (
	yearRegex       = regexp.MustCompile(`[0-9]?([0-9]{4})`)
	paginationRegex = regexp.MustCompile(`[0-9]{1,4}`)
	fragmentRegex   = regexp.MustCompile(`[a-z0-9]+`)

	leadingArticles = map[string]struct{}{"a": {}, "an": {}, "the": {}}
)

// Inputs carries the free-text fields a key is derived from. Absent fields
// yield space-padded fragments; the key stays fixed-width regardless.
type Inputs struct {
	TitleFragments   []string
	MediaDesignation string
	PublicationYear  string
	Pagination       string
	Edition          string
	Publisher        string
	RecordType       string
	TitlePart        string
	TitleNumber      string
}

// Derive computes the composite key. It is a pure function: equal inputs
// always produce an equal key, across processes and over time.
func Derive(in Inputs) string {
	var b strings.Builder
	b.Grow(KeyWidth)

	b.WriteString(deriveTitle(in.TitleFragments))
	b.WriteString(fragment(in.MediaDesignation, MediaWidth))
	b.WriteString(deriveYear(in.PublicationYear))
	b.WriteString(derivePagination(in.Pagination))
	b.WriteString(fragment(in.Edition, EditionWidth))
	b.WriteString(fragment(in.Publisher, PublisherWidth))
	b.WriteString(fragment(in.RecordType, RecordTypeWidth))
	b.WriteString(fragment(in.TitlePart, TitlePartWidth))
	b.WriteString(fragment(in.TitleNumber, TitleNumberWidth))

	return b.String()
}

// deriveTitle greedily fills the title budget from the normalized fragment
// words: whole words separated by spaces while under the soft threshold,
// then a denser unseparated fill up to the hard cap.
func deriveTitle(fragments []string) string {
	var words []string
	for _, frag := range fragments {
		words = append(words, titleWords(frag)...)
	}

	var b strings.Builder
	for _, word := range words {
		if b.Len() >= TitleWidth {
			break
		}
		if b.Len() < titleSoftWidth {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(word)
			continue
		}
		b.WriteString(word)
	}

	return pad(b.String(), TitleWidth)
}

// titleWords normalizes one fragment into its constituent words, dropping a
// leading article and expanding ampersands.
func titleWords(fragment string) []string {
	fragment = strings.ReplaceAll(fragment, "&", " and ")
	words := fragmentRegex.FindAllString(normalize(fragment), -1)
	if len(words) > 0 {
		if _, ok := leadingArticles[words[0]]; ok {
			words = words[1:]
		}
	}
	return words
}

// deriveYear keeps the lexicographically first 4-digit year-like token,
// stripping the copyright-style prefix digit when one is present.
func deriveYear(text string) string {
	matches := yearRegex.FindAllStringSubmatch(normalize(text), -1)
	best := ""
	for _, m := range matches {
		if best == "" || m[1] < best {
			best = m[1]
		}
	}
	return pad(best, YearWidth)
}

// derivePagination extracts the first 1-4 digit run.
func derivePagination(text string) string {
	return pad(paginationRegex.FindString(normalize(text)), PaginationWidth)
}

// fragment normalizes text and keeps the first alphanumeric run, padded or
// truncated to the fragment's width.
func fragment(text string, width int) string {
	return pad(fragmentRegex.FindString(normalize(text)), width)
}

// normalize lowercases, strips diacritics, and squeezes everything that is
// not alphanumeric down to single spaces.
func normalize(s string) string {
	decomposed := norm.NFD.String(strings.ToLower(s))

	var b strings.Builder
	b.Grow(len(decomposed))
	lastSpace := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// pad left-justifies s in a field of the given width, truncating when s is
// longer.
func pad(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
