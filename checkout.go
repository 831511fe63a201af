package tally

import (
	"context"
	"fmt"
	"strconv"

	"github.com/xraph/tally/customer"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/plan"
	"github.com/xraph/tally/provider"
)

// CreateCheckout starts a hosted checkout for planID and returns the URL
// to send the user to. The user id travels as the external customer id so
// the resulting webhooks can be attributed.
func (t *Tally) CreateCheckout(ctx context.Context, userID string, planID id.PlanID) (string, error) {
	if t.provider == nil {
		return "", ConfigurationError{Setting: "provider", Message: ErrProviderNotConfigured.Error()}
	}
	if userID == "" {
		return "", invalid("user_id", "is required")
	}

	p, err := t.store.GetPlan(ctx, planID)
	if err != nil {
		if IsNotFound(err) {
			return "", invalidBecause("plan_id", ErrPlanNotFound, "plan not found")
		}
		return "", fmt.Errorf("tally: read plan: %w", err)
	}
	switch {
	case !p.Active:
		return "", invalidBecause("plan_id", ErrPlanNotFound, "plan is not active")
	case p.Type != plan.TypeSubscription && p.Type != plan.TypePack:
		return "", invalid("plan_id", fmt.Sprintf("plan type %q cannot be purchased", p.Type))
	case t.freePlan(p):
		return "", invalid("plan_id", "the free plan cannot be purchased")
	case p.ProviderProductID == "":
		return "", ConfigurationError{Setting: "plan.provider_product_id", Message: "plan " + p.Code + " has no provider product"}
	}

	c, err := t.touchCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	url, err := t.provider.CreateCheckout(ctx, provider.CheckoutRequest{
		ProductID:          p.ProviderProductID,
		ExternalCustomerID: userID,
		ProviderCustomerID: c.ProviderCustomerID,
		CustomerEmail:      c.Email,
		Metadata: map[string]string{
			"user_id":   userID,
			"plan_id":   p.ID.String(),
			"plan_code": p.Code,
			"version":   strconv.Itoa(p.Version),
			"plan_type": string(p.Type),
		},
	})
	if err != nil {
		return "", t.providerError("checkout", err)
	}

	t.logger.Info("checkout created", "user_id", userID, "plan_code", p.Code)
	return url, nil
}

// CreatePortalSession returns a customer portal URL for the user.
func (t *Tally) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	if t.provider == nil {
		return "", ConfigurationError{Setting: "provider", Message: ErrProviderNotConfigured.Error()}
	}
	if userID == "" {
		return "", invalid("user_id", "is required")
	}

	c, err := t.touchCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	url, err := t.provider.CreatePortalSession(ctx, provider.PortalRequest{
		ExternalCustomerID: userID,
		ProviderCustomerID: c.ProviderCustomerID,
	})
	if err != nil {
		return "", t.providerError("portal session", err)
	}
	return url, nil
}

// touchCustomer makes sure a customer row exists and returns what is known
// about the user at the provider.
func (t *Tally) touchCustomer(ctx context.Context, userID string) (*customer.Customer, error) {
	if err := t.upsertCustomer(ctx, &customer.Customer{
		UserID:             userID,
		ExternalCustomerID: userID,
	}); err != nil {
		return nil, err
	}

	c, err := t.store.GetCustomer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("tally: read customer: %w", err)
	}
	return c, nil
}

func (t *Tally) providerError(op string, err error) error {
	if re, ok := provider.AsRequestError(err); ok {
		return ValidationError{Field: op, Message: re.Detail, Err: err}
	}
	return ExternalServiceError{Service: t.providerName, Message: op + " failed", Err: err}
}
