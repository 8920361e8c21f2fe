// Package gen produces the random accounts, titles and contents used to
// exercise the service. Output stays within the service's validation limits
// and mixes plain words, sentences and raw printable garbage.
package gen

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

const (
	lowercase   = "abcdefghijklmnopqrstuvwxyz"
	uppercase   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits      = "0123456789"
	punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
	whitespace  = " \t\n\r\x0b\x0c"
	printable   = digits + lowercase + uppercase + punctuation + whitespace

	titleAlphabet   = lowercase + uppercase + punctuation + digits + " \t"
	contentAlphabet = printable
)

var (
	titleSeparators   = buildTitleSeparators()
	contentSeparators = buildContentSeparators()
)

func buildTitleSeparators() []string {
	base := []string{" ", "\t"}
	for _, r := range punctuation {
		base = append(base, string(r))
	}
	out := append([]string(nil), base...)
	for _, sp := range []string{" ", "\t"} {
		for _, sep := range base {
			out = append(out, sp+sep, sep+sp)
		}
	}
	return out
}

func buildContentSeparators() []string {
	out := append([]string(nil), titleSeparators...)
	for _, nl := range []string{"\n", "\r", "\r\n"} {
		for _, sep := range titleSeparators {
			out = append(out, nl+sep, sep+nl)
		}
	}
	return out
}

// Rand is a source of bounded random test data. It is not safe for
// concurrent use.
type Rand struct {
	r     *rand.Rand
	faker *gofakeit.Faker
}

// New returns a Rand seeded from the operating system.
func New() *Rand {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("gen: reading random seed: " + err.Error())
	}
	return NewSeeded(binary.LittleEndian.Uint64(seed[:]))
}

// NewSeeded returns a deterministic Rand for tests.
func NewSeeded(seed uint64) *Rand {
	var s [32]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	// gofakeit treats seed 0 as "pick one at random".
	return &Rand{
		r:     rand.New(rand.NewChaCha8(s)),
		faker: gofakeit.New(seed | 1<<63),
	}
}

// Intn returns a value in [0, n). n must be positive.
func (g *Rand) Intn(n int) int { return g.r.IntN(n) }

// Bool returns a fair coin flip.
func (g *Rand) Bool() bool { return g.r.IntN(2) == 0 }

func (g *Rand) str(n int, alphabet string) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[g.r.IntN(len(alphabet))])
	}
	return b.String()
}

func (g *Rand) choice(opts []string) string { return opts[g.r.IntN(len(opts))] }

// Username returns 5 to 15 characters matching [a-z][a-z0-9]*.
func (g *Rand) Username() string {
	n := 5 + g.r.IntN(11)
	return g.str(1, lowercase) + g.str(n-1, lowercase+digits)
}

// Password returns 8 to 30 printable characters, whitespace included.
func (g *Rand) Password() string {
	return g.str(8+g.r.IntN(23), printable)
}

// FakeFlag returns a string shaped like a real secret.
func (g *Rand) FakeFlag() string {
	return "N" + g.str(30, uppercase+digits) + "="
}

// Title returns between 10 and limit characters without line breaks.
func (g *Rand) Title(limit int) string {
	n := 10 + g.r.IntN(limit-9)
	return g.data(n, titleAlphabet, titleSeparators)
}

// Content returns between 40 and limit characters. A non-empty flag is
// embedded verbatim at a random offset.
func (g *Rand) Content(flag string, limit int) string {
	n := 40 + g.r.IntN(limit-39)
	content := g.data(n, contentAlphabet, contentSeparators)
	if flag == "" {
		return content
	}

	if len(content) < n {
		content += strings.Repeat(" ", n-len(content))
	}
	at := 0
	if span := n - len(flag) - 1; span > 0 {
		at = g.r.IntN(span)
	}
	content = content[:at] + flag + content[at:]
	return strings.TrimRight(content[:max(n, at+len(flag))], " ")
}

// data fills about n characters with one of three textures.
func (g *Rand) data(n int, alphabet string, seps []string) string {
	variants := 2
	if n >= 30 {
		variants = 3
	}
	var s string
	switch g.r.IntN(variants) {
	case 0:
		s = g.str(n, alphabet)
	case 1:
		s = g.joined(n, 5, seps, g.word)
	default:
		s = g.joined(n, 30, seps, g.sentence)
	}
	// a lone "." line would terminate an SMTP body early
	s = strings.ReplaceAll(s, "\r\n.\r\n", ",")
	if len(s) > n {
		s = s[:n]
	}
	return s
}

func (g *Rand) joined(n, slack int, seps []string, next func(int) string) string {
	maxSep := 0
	for _, s := range seps {
		maxSep = max(maxSep, len(s))
	}
	out := next(n)
	for len(out) < n-(slack+maxSep) {
		sep := g.choice(seps)
		out += sep + next(n-len(out)-len(sep))
	}
	return out
}

// maxAttempts bounds the redraws when a word or sentence does not fit.
const maxAttempts = 16

// word returns a random word no longer than maxLen.
func (g *Rand) word(maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	w := g.faker.Word()
	for attempt := 1; len(w) > maxLen && attempt < maxAttempts; attempt++ {
		w = g.faker.Word()
	}
	if len(w) > maxLen {
		w = w[:maxLen]
	}
	return w
}

// sentence returns a sentence of two to seven words shorter than maxLen.
func (g *Rand) sentence(maxLen int) string {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		s := g.faker.Sentence(2 + g.r.IntN(6))
		if s != "" && len(s) < maxLen {
			return s
		}
	}
	return g.word(maxLen - 1)
}
