// Package quotes holds the responder's quote corpus.
//
// The corpus is immutable after startup: either the embedded default set or
// a newline-delimited file loaded once. Entries follow the
// "<quote text>. ~ <attribution>" convention.
package quotes

import (
	"bufio"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/keithlinneman/quotd/internal/xerrors"
)

// defaults ship with the binary so the service works with zero config.
var defaults = []string{
	"Quickness is the essence of the war. ~ Sun Tsu",
	"Pretend inferiority and encourage his arrogance. ~ Sun Tsu",
	"meow. ~ wffl",
}

// Corpus is a non-empty, immutable set of quote lines.
type Corpus struct {
	entries []string
}

// Default returns the embedded corpus.
func Default() *Corpus {
	return &Corpus{entries: defaults}
}

// Load reads a corpus from a newline-delimited file. Blank lines and lines
// starting with '#' are skipped. An empty result is an error so the service
// fails fast instead of serving nothing.
func Load(path string) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "opening quotes file %s", path)
	}
	defer f.Close()

	var entries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := sc.Err(); err != nil {
		return nil, xerrors.Wrapf(err, "reading quotes file %s", path)
	}
	if len(entries) == 0 {
		return nil, xerrors.Newf("quotes file %s contains no quotes", path)
	}
	return &Corpus{entries: entries}, nil
}

// Pick returns one entry chosen uniformly at random.
func (c *Corpus) Pick() string {
	return c.entries[rand.IntN(len(c.entries))]
}

// Len reports the corpus size.
func (c *Corpus) Len() int { return len(c.entries) }

// Contains reports whether s is a member of the corpus.
func (c *Corpus) Contains(s string) bool {
	for _, e := range c.entries {
		if e == s {
			return true
		}
	}
	return false
}
