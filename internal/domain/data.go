package domain

// Constructors for the per-event template payloads. Each variant carries the
// variables its notification family can interpolate; everything else renders
// empty.

type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	Total           string
	Currency        string
	TrackingNumber  string
	TrackingURL     string
	Items           []LineItem
	ShippingAddress *Address
	ShopName        string
}

func OrderData(o OrderInfo) TemplateData {
	return TemplateData{
		Vars: map[string]string{
			"order_number":    o.OrderNumber,
			"customer_name":   o.CustomerName,
			"first_name":      firstName(o.CustomerName),
			"total":           o.Total,
			"total_price":     currencyTotal(o.Currency, o.Total),
			"currency":        o.Currency,
			"tracking_number": o.TrackingNumber,
			"tracking_url":    o.TrackingURL,
			"shop_name":       o.ShopName,
		},
		Currency:        o.Currency,
		Items:           o.Items,
		ShippingAddress: o.ShippingAddress,
	}
}

type CartInfo struct {
	CustomerName string
	Total        string
	Currency     string
	CheckoutURL  string
	Items        []LineItem
	ShopName     string
}

func CartData(c CartInfo) TemplateData {
	return TemplateData{
		Vars: map[string]string{
			"customer_name": c.CustomerName,
			"first_name":    firstName(c.CustomerName),
			"total":         c.Total,
			"total_price":   currencyTotal(c.Currency, c.Total),
			"currency":      c.Currency,
			"checkout_url":  c.CheckoutURL,
			"shop_name":     c.ShopName,
		},
		Currency: c.Currency,
		Items:    c.Items,
	}
}

type CustomerInfo struct {
	Name     string
	ShopName string
}

func CustomerData(c CustomerInfo) TemplateData {
	return TemplateData{
		Vars: map[string]string{
			"customer_name": c.Name,
			"first_name":    firstName(c.Name),
			"shop_name":     c.ShopName,
		},
	}
}

func firstName(full string) string {
	for i := 0; i < len(full); i++ {
		if full[i] == ' ' {
			return full[:i]
		}
	}
	return full
}

func currencyTotal(currency, total string) string {
	if total == "" {
		return ""
	}
	if currency == "" {
		return total
	}
	return currency + " " + total
}
