package models

// All lists the tables owned by the payment core, in migration order.
func All() []any {
	return []any{
		&Account{},
		&APIClient{},
		&Payment{},
		&Transaction{},
		&WebhookDelivery{},
		&ReconciliationIssue{},
		&OutboxMessage{},
		&ProviderSetting{},
	}
}
