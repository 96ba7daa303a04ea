package eventsub

import (
	"fmt"
	"sort"
	"strings"
)

// requiredScopes maps each supported EventSub subscription type to the
// authorization scopes the broadcaster must have granted. Types absent from
// the map are unsupported; types mapped to an empty slice need no scope.
var requiredScopes = map[string][]string{
	"channel.cheer":                {"bits:read"},
	"channel.subscribe":            {"channel:read:subscriptions"},
	"channel.subscription.gift":    {"channel:read:subscriptions"},
	"channel.subscription.message": {"channel:read:subscriptions"},
	"channel.follow":               {"moderator:read:followers"},
	"channel.hype_train.begin":     {"channel:read:hype_train"},
	"stream.online":                {},
	"stream.offline":               {},
}

// subscriptionVersions maps subscription types to the API version used when
// creating them. Types not listed use version "1".
var subscriptionVersions = map[string]string{
	"channel.follow": "2",
}

// ScopeError reports the scopes a tenant must grant before subscriptions can
// be created. Raised before any provider call because creation is guaranteed
// to fail without them.
type ScopeError struct {
	Missing []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("re-authorization required: missing scopes %s", strings.Join(e.Missing, ", "))
}

// CheckScopes verifies that granted covers every scope desiredTypes require.
// Returns a *ScopeError naming the missing scopes, or an error for an
// unsupported type.
func CheckScopes(desiredTypes, granted []string) error {
	grantedSet := make(map[string]bool, len(granted))
	for _, s := range granted {
		grantedSet[s] = true
	}

	missingSet := make(map[string]bool)
	for _, t := range desiredTypes {
		scopes, ok := requiredScopes[t]
		if !ok {
			return fmt.Errorf("unsupported subscription type %q", t)
		}
		for _, s := range scopes {
			if !grantedSet[s] {
				missingSet[s] = true
			}
		}
	}

	if len(missingSet) == 0 {
		return nil
	}

	missing := make([]string, 0, len(missingSet))
	for s := range missingSet {
		missing = append(missing, s)
	}
	sort.Strings(missing)
	return &ScopeError{Missing: missing}
}

// SubscriptionVersion returns the API version used for a subscription type
func SubscriptionVersion(subType string) string {
	if v, ok := subscriptionVersions[subType]; ok {
		return v
	}
	return "1"
}

// NeedsModerator reports whether the subscription type requires a moderator
// user id in its condition
func NeedsModerator(subType string) bool {
	return subType == "channel.follow"
}
