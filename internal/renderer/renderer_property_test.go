//go:build property

package renderer

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/fscherf/lona/internal/logging"
)

// TestRendererProperties validates normalization laws over arbitrary
// raw response values.
func TestRendererProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	rr := NewResponseRenderer(&stubTemplates{}, logging.Discard())

	// Property: rendering is idempotent over every map shape
	properties.Property("render(render(x)) == render(x)", prop.ForAll(
		func(raw map[string]interface{}) bool {
			once, err := rr.RenderValue(raw, "prop")
			if err != nil {
				// Inputs the renderer rejects are outside the law.
				return true
			}

			twice, err := rr.RenderValue(once, "prop")
			if err != nil {
				return false
			}

			return *once == *twice
		},
		genRawResponseMap(),
	))

	// Property: the normalized record always has a status and content type
	properties.Property("defaults are always populated", prop.ForAll(
		func(raw map[string]interface{}) bool {
			dict, err := rr.RenderValue(raw, "prop")
			if err != nil {
				return true
			}
			return dict.Status != 0 && dict.ContentType != ""
		},
		genRawResponseMap(),
	))

	// Property: at most one exclusive field survives normalization of
	// redirect-bearing maps
	properties.Property("redirect maps normalize to a single populated field", prop.ForAll(
		func(target string, extraText string) bool {
			dict, err := rr.RenderValue(map[string]interface{}{
				"redirect": target,
				"text":     extraText,
				"json":     extraText,
			}, "prop")
			if err != nil {
				return false
			}

			return dict.Redirect == target &&
				dict.Text == "" && dict.File == "" && dict.HTTPRedirect == ""
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	// Property: string views always land in the text field untouched
	properties.Property("string views render verbatim", prop.ForAll(
		func(body string) bool {
			dict, err := rr.RenderValue(body, "prop")
			if err != nil {
				return false
			}
			return dict.Text == body && dict.Status == 200 && dict.ContentType == "text/html"
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func genRawResponseMap() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(100, 599),  // status
		gen.AlphaString(),       // text
		gen.Identifier(),        // redirect target
		gen.Bool(),              // include status
		gen.Bool(),              // include text
		gen.Bool(),              // include redirect
		gen.Bool(),              // include json
	).Map(func(values []interface{}) map[string]interface{} {
		raw := make(map[string]interface{})

		if values[3].(bool) {
			raw["status"] = values[0].(int)
		}
		if values[4].(bool) {
			raw["text"] = values[1].(string)
		}
		if values[5].(bool) {
			raw["redirect"] = "/" + values[2].(string)
		}
		if values[6].(bool) {
			raw["json"] = map[string]interface{}{"k": values[1].(string)}
		}

		return raw
	})
}
