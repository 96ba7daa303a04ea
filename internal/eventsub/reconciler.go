package eventsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/clients/helix"
	"github.com/savagegamesllc-ui/chat-factions-sub001/pkg/logging"
)

// maxSubscriptionPages caps the pagination loop when listing subscriptions.
// A provider that keeps returning cursors must not be able to spin the
// reconciler forever; subscriptions beyond the cap are simply not listed.
const maxSubscriptionPages = 25

const webhookPath = "/webhooks/twitch"

// Tenant carries the provider identity and authorization state of one
// streamer for reconciliation purposes.
type Tenant struct {
	StreamerID        string
	BroadcasterUserID string
	ModeratorUserID   string
	GrantedScopes     []string
}

// ReconcileResult reports the outcome of one reconciliation run
type ReconcileResult struct {
	Created []helix.Subscription `json:"created"`
	Skipped []helix.Subscription `json:"skipped"`
}

// Reconciler ensures the desired set of EventSub webhook subscriptions
// exists at the provider without duplicating them. It owns no state; every
// run lists the provider's registry fresh.
type Reconciler struct {
	client      *helix.Client
	callbackURL string
	secret      string
	logger      logging.Logger
}

// NewReconciler validates the configured public base URL and returns a
// reconciler posting callbacks to <publicBaseURL>/webhooks/twitch. A
// non-https base URL is a configuration error: the provider rejects plain
// http callbacks, so this fails before any API call is ever made.
func NewReconciler(client *helix.Client, publicBaseURL, webhookSecret string, logger logging.Logger) (*Reconciler, error) {
	if !strings.HasPrefix(publicBaseURL, "https://") {
		return nil, fmt.Errorf("public base URL must be https://, got %q", publicBaseURL)
	}
	if webhookSecret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}

	return &Reconciler{
		client:      client,
		callbackURL: strings.TrimRight(publicBaseURL, "/") + webhookPath,
		secret:      webhookSecret,
		logger:      logger,
	}, nil
}

// EnsureSubscriptions creates every desired subscription type that does not
// already exist for the tenant, keyed by (type, broadcaster, moderator).
// Scope checks run before any credential is acquired. Creation is
// best-effort per type: one failed create does not abort the rest, and the
// partial result is returned alongside a joined error naming each failed
// type. The caller decides whether that is fatal.
//
// An app access token is acquired fresh on every call. Caching it would save
// one round trip but buys an expiry race; reconciliation is rare enough that
// the extra call does not matter.
func (r *Reconciler) EnsureSubscriptions(ctx context.Context, tenant Tenant, desiredTypes []string) (*ReconcileResult, error) {
	if err := CheckScopes(desiredTypes, tenant.GrantedScopes); err != nil {
		return nil, err
	}

	token, err := r.client.AppAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	existing, err := r.listAll(ctx, token)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]helix.Subscription, len(existing))
	for _, sub := range existing {
		lookup[subscriptionKey(sub.Type, sub.Condition.BroadcasterUserID, sub.Condition.ModeratorUserID)] = sub
	}

	result := &ReconcileResult{}
	var createErrs []error

	for _, subType := range desiredTypes {
		condition := helix.Condition{BroadcasterUserID: tenant.BroadcasterUserID}
		if NeedsModerator(subType) {
			moderator := tenant.ModeratorUserID
			if moderator == "" {
				moderator = tenant.BroadcasterUserID
			}
			condition.ModeratorUserID = moderator
		}

		key := subscriptionKey(subType, condition.BroadcasterUserID, condition.ModeratorUserID)
		if sub, ok := lookup[key]; ok {
			result.Skipped = append(result.Skipped, sub)
			continue
		}

		created, err := r.client.CreateSubscription(ctx, token, helix.CreateSubscriptionRequest{
			Type:      subType,
			Version:   SubscriptionVersion(subType),
			Condition: condition,
			Transport: helix.Transport{
				Method:   "webhook",
				Callback: r.callbackURL,
				Secret:   r.secret,
			},
		})
		if err != nil {
			r.logger.WithError(err).WithFields(logging.Fields{
				"streamer_id": tenant.StreamerID,
				"type":        subType,
			}).Error("Failed to create subscription")
			createErrs = append(createErrs, fmt.Errorf("create %s: %w", subType, err))
			continue
		}

		result.Created = append(result.Created, *created)
	}

	r.logger.WithFields(logging.Fields{
		"streamer_id": tenant.StreamerID,
		"created":     len(result.Created),
		"skipped":     len(result.Skipped),
		"failed":      len(createErrs),
	}).Info("Reconciled subscriptions")

	return result, errors.Join(createErrs...)
}

// ListSubscriptions returns every subscription visible to the app
// credential, up to the pagination cap.
func (r *Reconciler) ListSubscriptions(ctx context.Context) ([]helix.Subscription, error) {
	token, err := r.client.AppAccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return r.listAll(ctx, token)
}

// DeleteSubscription removes a subscription from the provider registry
func (r *Reconciler) DeleteSubscription(ctx context.Context, id string) error {
	token, err := r.client.AppAccessToken(ctx)
	if err != nil {
		return err
	}
	return r.client.DeleteSubscription(ctx, token, id)
}

func (r *Reconciler) listAll(ctx context.Context, token string) ([]helix.Subscription, error) {
	var all []helix.Subscription
	cursor := ""

	for page := 0; page < maxSubscriptionPages; page++ {
		result, err := r.client.ListSubscriptions(ctx, token, cursor)
		if err != nil {
			return nil, err
		}

		all = append(all, result.Data...)

		cursor = result.Pagination.Cursor
		if cursor == "" {
			return all, nil
		}
	}

	r.logger.WithFields(logging.Fields{
		"pages":  maxSubscriptionPages,
		"listed": len(all),
	}).Warn("Subscription listing hit page cap; remainder not listed")

	return all, nil
}

func subscriptionKey(subType, broadcasterID, moderatorID string) string {
	return subType + "|" + broadcasterID + "|" + moderatorID
}
