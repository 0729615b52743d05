package templates

import (
	"regexp"
	"strconv"
	"strings"

	"shopnotify/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes {{key}} placeholders in tmpl from data. The structured
// fields items and shipping_address get dedicated formatting; every other key
// resolves from data.Vars. A key with no value renders as the empty string,
// so a rendered message never contains a literal placeholder.
func Render(tmpl string, data domain.TemplateData) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderRe.FindStringSubmatch(m)[1]
		switch key {
		case "items":
			if len(data.Items) > 0 {
				return formatItems(data.Items, data.Currency)
			}
		case "shipping_address":
			if data.ShippingAddress != nil {
				return formatAddress(*data.ShippingAddress)
			}
		}
		return data.Vars[key]
	})
}

// formatItems renders a bulleted list, one line per item:
// "• {name} ({quantity}x) - {currency} {price}"
func formatItems(items []domain.LineItem, currency string) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		var b strings.Builder
		b.WriteString("• ")
		b.WriteString(it.Name)
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(it.Quantity))
		b.WriteString("x) - ")
		if currency != "" {
			b.WriteString(currency)
			b.WriteString(" ")
		}
		b.WriteString(it.Price)
		lines = append(lines, b.String())
	}
	return strings.Join(lines, "\n")
}

// formatAddress renders a multi-line block: name, address line, "city, country".
func formatAddress(a domain.Address) string {
	lines := make([]string, 0, 3)
	if a.Name != "" {
		lines = append(lines, a.Name)
	}
	if a.Address1 != "" {
		lines = append(lines, a.Address1)
	}
	switch {
	case a.City != "" && a.Country != "":
		lines = append(lines, a.City+", "+a.Country)
	case a.City != "":
		lines = append(lines, a.City)
	case a.Country != "":
		lines = append(lines, a.Country)
	}
	return strings.Join(lines, "\n")
}
