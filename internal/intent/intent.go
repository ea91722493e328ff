// Package intent provides a small, deterministic keyword classifier used as
// the fallback when no AI classification is available for an inbound message.
// It is intentionally conservative: it only fires when the conversation
// already carries a product reference, so a bare "yes" in a cold conversation
// never triggers an automated reply.
//
// Design notes:
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization, lowercased via golang.org/x/text casing
//   - Pure functions, safe for concurrent use
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Intents the automation engine is willing to reply to.
const (
	PriceInquiry   = "price_inquiry"
	SizeInquiry    = "size_inquiry"
	PurchaseIntent = "purchase_intent"
)

// Eligible reports whether name is an intent automation may act on.
func Eligible(name string) bool {
	switch name {
	case PriceInquiry, SizeInquiry, PurchaseIntent:
		return true
	}
	return false
}

var lower = cases.Lower(language.Und)

// keyword groups checked in priority order. Price beats size beats purchase
// when a message matches more than one group.
var (
	priceWords    = wordSet("price", "pricing", "cost", "costs", "expensive", "cheap")
	sizeWords     = wordSet("size", "sizes", "sizing", "fit", "fits", "small", "medium", "large", "xs", "xl", "xxl")
	purchaseWords = wordSet("buy", "buying", "order", "ordering", "purchase", "link", "shop", "checkout", "available", "stock")
	affirmatives  = wordSet("yes", "yeah", "yep", "sure", "ok", "okay", "please", "interested")
)

// maxAffirmativeTokens bounds how long a message may be and still count as a
// short affirmative reply ("yes please", "ok sure").
const maxAffirmativeTokens = 3

// Infer returns the inferred intent for raw message text, or "" when no
// eligible intent can be resolved. "how much" is treated as a price phrase
// even though neither word alone is a price keyword.
func Infer(text string) string {
	toks := tokenize(text)
	if len(toks) == 0 {
		return ""
	}

	joined := " " + strings.Join(toks, " ") + " "
	if strings.Contains(joined, " how much ") {
		return PriceInquiry
	}

	var price, size, purchase, affirm int
	for _, tok := range toks {
		switch {
		// A currency glyph anywhere in a token ("$20") is a price signal.
		case priceWords[tok] || strings.ContainsRune(tok, '$'):
			price++
		case sizeWords[tok]:
			size++
		case purchaseWords[tok]:
			purchase++
		case affirmatives[tok]:
			affirm++
		}
	}

	switch {
	case price > 0:
		return PriceInquiry
	case size > 0:
		return SizeInquiry
	case purchase > 0:
		return PurchaseIntent
	case affirm > 0 && len(toks) <= maxAffirmativeTokens:
		// A short "yes"/"sure" in a product conversation reads as intent to buy.
		return PurchaseIntent
	}
	return ""
}

// tokenize lowercases text and splits it into word tokens. "$" survives as
// its own token because it is a price signal on its own.
func tokenize(text string) []string {
	text = lower.String(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '$'
	})
}

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
