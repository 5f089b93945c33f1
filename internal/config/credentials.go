package config

import (
	"github.com/golang-jwt/jwt/v5"
)

const serviceRole = "service_role"

// KeyRole returns the "role" claim of a Supabase API key. Keys that are not
// JWTs (or carry no role) yield an empty string.
func KeyRole(key string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

// Warnings lists non-fatal credential problems the operator should see at
// startup.
func (c *Config) Warnings() []string {
	var warnings []string

	key := c.Supabase.ServiceRoleKey
	if key == "" {
		warnings = append(warnings,
			"SUPABASE_SERVICE_ROLE_KEY is not set; using the anon key, row updates and uploads may be rejected by row-level security")
		return warnings
	}

	if role := KeyRole(key); role != "" && role != serviceRole {
		warnings = append(warnings,
			"SUPABASE_SERVICE_ROLE_KEY carries role \""+role+"\", not \""+serviceRole+"\"; writes may be rejected")
	}
	return warnings
}
