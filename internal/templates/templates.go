package templates

import "shopnotify/internal/domain"

// Code-defined default templates per language. English is authoritative and
// covers every known notification type; other languages may be partial.
// Absence of a (language, type) pair is a normal condition, not an error.

var defaults = map[string]map[domain.NotificationType]string{
	"en": {
		domain.TypeOrderPlaced: "Hi {{first_name}}! 🎉 Your order {{order_number}} at {{shop_name}} has been received.\n\n{{items}}\n\nTotal: {{total_price}}. We'll message you when it ships.",
		domain.TypeOrderPaid: "Hi {{first_name}}, payment for order {{order_number}} ({{total_price}}) is confirmed. Thanks for shopping at {{shop_name}}!",
		domain.TypeOrderFulfilled: "Good news {{first_name}} — order {{order_number}} is on its way! 🚚\nTracking: {{tracking_number}}\n{{tracking_url}}",
		domain.TypeOrderDelivered: "Hi {{first_name}}, your order {{order_number}} was delivered. Enjoy! 📦",
		domain.TypeReviewRequest: "Hi {{first_name}}, how was your order {{order_number}} from {{shop_name}}? Reply with your feedback — it means a lot!",
		domain.TypeAbandonedCart1h: "Hi {{first_name}}, you left something behind at {{shop_name}}! 🛒\n\n{{items}}\n\nFinish checkout here: {{checkout_url}}",
		domain.TypeAbandonedCart24h: "Still thinking it over, {{first_name}}? Your cart at {{shop_name}} ({{total_price}}) is waiting: {{checkout_url}}",
		domain.TypeAbandonedCart48h: "Last chance {{first_name}}! Your cart at {{shop_name}} expires soon. Complete your order: {{checkout_url}}",
		domain.TypeWelcome: "Welcome to {{shop_name}}, {{first_name}}! 👋 You'll get order updates here on WhatsApp. Reply HELP anytime.",
	},
	"es": {
		domain.TypeOrderPlaced: "¡Hola {{first_name}}! 🎉 Recibimos tu pedido {{order_number}} en {{shop_name}}.\n\n{{items}}\n\nTotal: {{total_price}}.",
		domain.TypeOrderFulfilled: "¡Buenas noticias {{first_name}}! Tu pedido {{order_number}} va en camino. 🚚\nSeguimiento: {{tracking_number}}",
		domain.TypeAbandonedCart1h: "Hola {{first_name}}, ¡dejaste algo en tu carrito en {{shop_name}}! 🛒 Termina tu compra: {{checkout_url}}",
		domain.TypeWelcome: "¡Bienvenido a {{shop_name}}, {{first_name}}! 👋 Recibirás actualizaciones de tus pedidos por WhatsApp.",
	},
	"pt": {
		domain.TypeOrderPlaced: "Olá {{first_name}}! 🎉 Recebemos seu pedido {{order_number}} em {{shop_name}}. Total: {{total_price}}.",
		domain.TypeAbandonedCart1h: "Olá {{first_name}}, você esqueceu algo no carrinho em {{shop_name}}! 🛒 Finalize aqui: {{checkout_url}}",
	},
}

// Lookup returns the default template for (language, type), if one exists.
func Lookup(language string, t domain.NotificationType) (string, bool) {
	byType, ok := defaults[language]
	if !ok {
		return "", false
	}
	tmpl, ok := byType[t]
	return tmpl, ok
}

// Known reports whether a notification type has an English default, i.e. is
// part of the supported vocabulary at all.
func Known(t domain.NotificationType) bool {
	_, ok := defaults["en"][t]
	return ok
}
