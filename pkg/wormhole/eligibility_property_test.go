//go:build property
// +build property

package wormhole

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: content without the flag or a valid token is never eligible,
// whatever words it contains.
func TestEligibilityRequiresExplicitMarker(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	g := NewGate("property-secret")

	properties.Property("unmarked content is ineligible", prop.ForAll(
		func(words []string) bool {
			content := "wormhole system command deploy " + strings.Join(words, " ")
			return !g.Eligible(content, Metadata{})
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("signed content is eligible and strips back to the body", prop.ForAll(
		func(body string) bool {
			signed := g.Sign(body)
			return g.Eligible(signed, Metadata{}) && StripToken(signed) == body
		},
		gen.AnyString(),
	))

	properties.Property("a token for other content never verifies", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			token, _, _ := strings.Cut(g.Sign(a), "\n")
			return !g.Eligible(token+"\n"+b, Metadata{})
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
