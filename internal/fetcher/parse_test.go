package fetcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pdpXPath = `//span[contains(concat(" ", normalize-space(@class), " "), " pdp-price ")]`

func TestParsePrice(t *testing.T) {
	cases := map[string]string{
		"₹1,299":       "1299",
		"MRP₹2,499.50": "2499.5",
		"  ₹ 799 ":     "799",
		"Rs. 12,000":   "12000",
		"₹0":           "0",
	}
	for input, want := range cases {
		got, err := ParsePrice(input)
		require.NoError(t, err, input)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%q parsed as %s", input, got)
	}
}

func TestParsePriceRejectsTextWithoutDigits(t *testing.T) {
	for _, input := range []string{"₹", "Sold out", "MRP₹,"} {
		_, err := ParsePrice(input)
		assert.ErrorIs(t, err, ErrPriceUnparseable, input)
	}
}

func TestParsePriceRejectsAmbiguousText(t *testing.T) {
	cases := map[string]string{
		"mrp and sale price": "MRP ₹2,000 ₹999",
		"decimal comma":      "1.299,00",
		"two dots":           "1.2.3",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePrice(input)
			assert.ErrorIs(t, err, ErrPriceUnparseable)
		})
	}
}

func TestParsePriceIndianGrouping(t *testing.T) {
	got, err := ParsePrice("₹1,00,000.")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.NewFromInt(100000)))
}

func TestExtractPrice(t *testing.T) {
	page := `<html><body>
		<div class="pdp-price-info">
			<span class="pdp-price"><strong>₹1,349</strong></span>
			<span class="pdp-mrp"><s>₹2,999</s></span>
		</div>
	</body></html>`

	price, err := ExtractPrice(page, pdpXPath)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1349)))
}

func TestExtractPriceMissingElement(t *testing.T) {
	_, err := ExtractPrice(`<html><body><span class="pdp-mrp">₹2,999</span></body></html>`, pdpXPath)
	assert.ErrorIs(t, err, ErrPriceNotFound)

	_, err = ExtractPrice(`<html><body><span class="pdp-price"> </span></body></html>`, pdpXPath)
	assert.ErrorIs(t, err, ErrPriceNotFound)
}

func TestExtractPriceInvalidXPath(t *testing.T) {
	_, err := ExtractPrice(`<html></html>`, `//span[`)
	assert.ErrorIs(t, err, ErrInvalidXPath)
	assert.NotErrorIs(t, err, ErrPriceNotFound)
}

func TestExtractPriceZeroIsAPrice(t *testing.T) {
	price, err := ExtractPrice(`<span class="pdp-price">₹0</span>`, pdpXPath)
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}
