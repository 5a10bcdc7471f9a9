// Package connection models a credentialed tenant instance of a platform.
package connection

import (
	"fmt"
	"time"

	"github.com/integration-core/core/internal/domain/id"
)

// Environment scopes a connection to a deployment tier.
type Environment string

const (
	EnvironmentLive        Environment = "live"
	EnvironmentTest        Environment = "test"
	EnvironmentDevelopment  Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// Throughput caps outbound call volume for a connection under a named key.
type Throughput struct {
	Key   string `json:"key" db:"key"`
	Limit int    `json:"limit" db:"limit"`
}

// OAuthState is a closed sum type distinguishing whether a connection uses
// OAuth at all, and if so, its refresh bookkeeping.
type OAuthState interface {
	isOAuthState()
}

// OAuthDisabled marks a connection that does not use OAuth.
type OAuthDisabled struct{}

func (OAuthDisabled) isOAuthState() {}

// OAuthEnabled carries the refresh metadata for an OAuth-backed connection.
type OAuthEnabled struct {
	ExpiresIn          int64     `json:"expiresIn"`
	ExpiresAt          time.Time `json:"expiresAt"`
	OAuthDefinitionID  string    `json:"oauthDefinitionId"`
}

func (OAuthEnabled) isOAuthState() {}

// Expired reports whether the OAuth token has passed its absolute expiry.
func (o OAuthEnabled) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Metadata carries the lifecycle timestamps and soft-delete/active flags
// shared by most stored domain entities.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
	Active    bool      `json:"active" db:"active"`
	Deleted   bool      `json:"deleted" db:"deleted"`
}

// Connection is one credentialed tenant instance of a platform.
type Connection struct {
	ID                     id.Id       `json:"id" db:"id"`
	Platform               string      `json:"platform" db:"platform"`
	PlatformVersion        string      `json:"platformVersion" db:"platform_version"`
	ConnectionDefinitionID id.Id       `json:"connectionDefinitionId" db:"connection_definition_id"`
	Key                    string      `json:"key" db:"key"`
	Group                  string      `json:"group" db:"group"`
	Environment            Environment `json:"environment" db:"environment"`
	SecretsServiceID       string      `json:"secretsServiceId" db:"secrets_service_id"`
	EventAccessID          id.Id       `json:"eventAccessId" db:"event_access_id"`
	AccessKey              string      `json:"accessKey" db:"access_key"`
	Settings               map[string]interface{} `json:"settings" db:"settings"`
	Throughput             Throughput  `json:"throughput" db:"throughput"`
	Ownership              string      `json:"ownership" db:"ownership"`
	OAuth                  OAuthState  `json:"oauth,omitempty" db:"-"`
	Metadata               Metadata    `json:"metadata" db:"metadata"`
}

// Key builds the human-routable "env::platform::group" connection key.
func Key(env Environment, platform, group string) string {
	return fmt.Sprintf("%s::%s::%s", env, platform, group)
}

// OAuthProjection is the narrow view reloaded directly from the store when
// an OAuth-enabled connection's cached entry is bypassed (§4.2).
type OAuthProjection struct {
	OAuth            OAuthState
	SecretsServiceID string
}
