package portal

import (
	"github.com/golang-jwt/jwt/v5"
)

// Well-known cache keys for the member dashboard.
const (
	KeyMembershipDetails = "membership-details"
	KeyWeeklyWorkout     = "weekly-workout"
	KeyProgressSummary   = "progress-summary"
)

// Endpoints maps each well-known key to the portal path it caches.
var Endpoints = map[string]string{
	KeyMembershipDetails: "/members/me/membership",
	KeyWeeklyWorkout:     "/members/me/workouts/weekly",
	KeyProgressSummary:   "/members/me/progress/summary",
}

// Subject returns the sub claim of a portal token, or "" when the token is
// not a JWT. The signature is not verified: the value only scopes the local
// cache and grants nothing.
func Subject(token string) string {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
