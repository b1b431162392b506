package events

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
)

// Mail is one outgoing message.
type Mail struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers mail. Implementations should honour ctx cancellation;
// the worker bounds every task with a timeout.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

var confirmationHTML = template.Must(template.New("confirmation").Parse(
	`<p>Hi {{.FirstName}},</p><p>We received your payment of {{.Total}} {{.Currency}}. Your order id is <b>{{.OrderID}}</b>.</p>`))

// confirmationMail renders the buyer's order confirmation. Buyer-supplied
// fields are escaped in the HTML part.
func confirmationMail(ev OrderEvent) (Mail, error) {
	var html bytes.Buffer
	if err := confirmationHTML.Execute(&html, ev); err != nil {
		return Mail{}, fmt.Errorf("render confirmation: %w", err)
	}
	return Mail{
		To:      ev.Email,
		Subject: "Order " + ev.OrderID + " confirmed",
		Text: fmt.Sprintf("Hi %s,\n\nWe received your payment of %s %s. Your order id is %s.\n",
			ev.FirstName, ev.Total, ev.Currency, ev.OrderID),
		HTML: html.String(),
	}, nil
}
