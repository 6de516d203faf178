package fetcher

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	// numberToken is any run of digits, dots and commas containing at least one digit.
	numberToken = regexp.MustCompile(`[\d.,]*\d[\d.,]*`)
	// groupedPrice allows comma grouping (1,299 or 1,00,000) and a dot decimal part.
	groupedPrice = regexp.MustCompile(`^\d+(?:,\d+)*(?:\.\d+)?$`)
)

// ExtractPrice locates the price element in a rendered page and parses its text.
func ExtractPrice(page string, expr string) (decimal.Decimal, error) {
	doc, err := htmlquery.Parse(strings.NewReader(page))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse html: %v", ErrPageLoad, err)
	}
	return ExtractPriceFromNode(doc, expr)
}

// ExtractPriceFromNode is ExtractPrice over an already parsed document.
func ExtractPriceFromNode(doc *html.Node, expr string) (decimal.Decimal, error) {
	node, err := htmlquery.Query(doc, expr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w %q: %v", ErrInvalidXPath, expr, err)
	}
	if node == nil {
		return decimal.Decimal{}, ErrPriceNotFound
	}

	text := compactWhitespace(htmlquery.InnerText(node))
	if text == "" {
		return decimal.Decimal{}, ErrPriceNotFound
	}
	return ParsePrice(text)
}

// ParsePrice reads the single price in text. Currency markers around it ("MRP", "₹", "Rs.")
// are ignored and commas are treated as grouping separators. Text with no number, more
// than one number, or a decimal comma is an error; "0" is a valid price.
func ParsePrice(text string) (decimal.Decimal, error) {
	tokens := numberToken.FindAllString(text, -1)
	if len(tokens) != 1 {
		return decimal.Decimal{}, fmt.Errorf("%w: %q has %d numbers", ErrPriceUnparseable, text, len(tokens))
	}

	token := strings.TrimRight(tokens[0], ".,")
	if !groupedPrice.MatchString(token) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrPriceUnparseable, text)
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(token, ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrPriceUnparseable, text, err)
	}
	return price, nil
}

func compactWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}
