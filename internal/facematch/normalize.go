package facematch

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentity canonicalizes a username so that "Jan", " jan " and the
// decomposed spelling of "Jän" resolve to the same template key.
// Diacritics are kept: "jan" and "jän" stay distinct identities.
func NormalizeIdentity(name string) string {
	name = strings.TrimSpace(name)
	name = norm.NFKC.String(name)
	return cases.Fold().String(name)
}
