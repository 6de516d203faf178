package alerting

import (
	_ "embed"
	"html/template"
	"strings"
)

const historyDateLayout = "2006-01-02 15:04"

var (
	//go:embed templates/price_history.html
	priceHistoryHTML     string
	priceHistoryTemplate = template.Must(template.New("price_history.html").Parse(priceHistoryHTML))
)

// TemplateData is the view model handed to the email template.
type TemplateData struct {
	ProductName  string
	CurrentPrice string
	HighestPrice string
	LowestPrice  string
	PriceHistory []HistoryRow
}

// HistoryRow is one formatted price point.
type HistoryRow struct {
	Date  string
	Price string
}

// Renderer turns a Notification into an HTML body.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer returns a renderer over the built-in template.
func NewRenderer() *Renderer {
	return &Renderer{tmpl: priceHistoryTemplate}
}

// NewRendererFromTemplate substitutes a custom template; it receives TemplateData.
func NewRendererFromTemplate(tmpl *template.Template) *Renderer {
	return &Renderer{tmpl: tmpl}
}

// Render executes the template. History rows keep the notification's order.
func (r *Renderer) Render(note Notification) (string, error) {
	buf := new(strings.Builder)
	if err := r.tmpl.Execute(buf, NewTemplateData(note)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// NewTemplateData formats prices and dates for display.
func NewTemplateData(note Notification) TemplateData {
	rows := make([]HistoryRow, 0, len(note.History))
	for _, point := range note.History {
		rows = append(rows, HistoryRow{
			Date:  point.RecordedAt.UTC().Format(historyDateLayout),
			Price: point.Price.StringFixed(2),
		})
	}
	return TemplateData{
		ProductName:  note.ProductName,
		CurrentPrice: note.CurrentPrice.StringFixed(2),
		HighestPrice: note.HighestPrice.StringFixed(2),
		LowestPrice:  note.LowestPrice.StringFixed(2),
		PriceHistory: rows,
	}
}
