// Package reply provides the default template-based reply generator. It is a
// stand-in for the hosted generation service with the same contract: a pure
// function of the supplied context. Production deployments swap in the remote
// generator; tests and self-hosted setups use this one.
package reply

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/replyflow/go-autoreply-backend/internal/intent"
)

// ErrNoTemplate indicates that no template exists for the resolved intent.
var ErrNoTemplate = errors.New("no reply template for intent")

// Input carries everything the generator may use. ProductName and ProductURL
// come from the resolved conversation context; Clarify is set when the
// product could not be resolved and the plan allows asking.
type Input struct {
	Intent      string
	ProductName string
	ProductURL  string
	Clarify     bool
}

// TemplateGenerator renders fixed reply templates per intent.
type TemplateGenerator struct {
	titler cases.Caser
}

// NewTemplateGenerator returns a generator with language-und title casing.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{titler: cases.Title(language.Und)}
}

// Generate renders the reply for in. It never returns an empty string
// without an error.
func (g *TemplateGenerator) Generate(_ context.Context, in Input) (string, error) {
	name := strings.TrimSpace(in.ProductName)
	if in.Clarify || name == "" {
		return "Happy to help! Which product are you asking about?", nil
	}
	name = g.titler.String(name)

	var b strings.Builder
	switch in.Intent {
	case intent.PriceInquiry:
		b.WriteString("Thanks for asking about ")
		b.WriteString(name)
		b.WriteString("! You can find the current price and details here: ")
	case intent.SizeInquiry:
		b.WriteString("Great question! Sizing info for ")
		b.WriteString(name)
		b.WriteString(" is on the product page: ")
	case intent.PurchaseIntent:
		b.WriteString("Awesome! You can grab ")
		b.WriteString(name)
		b.WriteString(" right here: ")
	default:
		return "", ErrNoTemplate
	}
	if url := strings.TrimSpace(in.ProductURL); url != "" {
		b.WriteString(url)
	} else {
		b.WriteString("check the link in our bio.")
	}
	return b.String(), nil
}
