// Package customer links local users to payment provider customers.
package customer

import "time"

type Customer struct {
	UserID             string    `json:"user_id"`
	ExternalCustomerID string    `json:"external_customer_id"`
	ProviderCustomerID string    `json:"provider_customer_id,omitempty"`
	Email              string    `json:"email,omitempty"`
	Country            string    `json:"country,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Merge copies the non-empty fields of update onto c.
func (c *Customer) Merge(update *Customer) {
	if update.ExternalCustomerID != "" {
		c.ExternalCustomerID = update.ExternalCustomerID
	}
	if update.ProviderCustomerID != "" {
		c.ProviderCustomerID = update.ProviderCustomerID
	}
	if update.Email != "" {
		c.Email = update.Email
	}
	if update.Country != "" {
		c.Country = update.Country
	}
	if !update.UpdatedAt.IsZero() {
		c.UpdatedAt = update.UpdatedAt
	}
}
