// Package cmd models the Connection Model Definition: a template for one
// HTTP operation on one platform.
package cmd

import (
	"time"

	"github.com/integration-core/core/internal/domain/id"
)

// ActionName enumerates the supported unified operations.
type ActionName string

const (
	ActionGetOne   ActionName = "getOne"
	ActionGetMany  ActionName = "getMany"
	ActionGetCount ActionName = "getCount"
	ActionCreate   ActionName = "create"
	ActionUpdate   ActionName = "update"
	ActionUpsert   ActionName = "upsert"
	ActionDelete   ActionName = "delete"
	ActionCustom   ActionName = "custom"
)

// ConnectionStatus describes the outcome of the last connectivity test.
type ConnectionStatus string

const (
	TestConnectionSuccess   ConnectionStatus = "success"
	TestConnectionFailure   ConnectionStatus = "failure"
	TestConnectionUntested  ConnectionStatus = "untested"
)

// PlatformInfo is an open sum type: currently only Api is implemented, but
// the interface leaves room for future platform-info variants (§9 "Platforms
// are data, not code").
type PlatformInfo interface {
	isPlatformInfo()
	Kind() string
}

// Paths names the JSONPath expressions used to locate the request/response
// object and pagination cursor inside a CMD's rendered/raw JSON bodies.
type Paths struct {
	RequestObject  string `json:"requestObject,omitempty"`
	ResponseObject string `json:"responseObject,omitempty"`
	ResponseCursor string `json:"responseCursor,omitempty"`
}

// APIPlatformInfo is the sole implementation of PlatformInfo today: a plain
// REST call description.
type APIPlatformInfo struct {
	BaseURL     string                 `json:"baseUrl"`
	Path        string                 `json:"path"`
	AuthMethod  AuthMethod             `json:"authMethod"`
	Headers     map[string]string      `json:"headers,omitempty"`
	QueryParams map[string]string      `json:"queryParams,omitempty"`
	Schemas     map[string]interface{} `json:"schemas,omitempty"`
	Samples     map[string]interface{} `json:"samples,omitempty"`
	Responses   map[string]interface{} `json:"responses,omitempty"`
	Paths       Paths                  `json:"paths"`
	Content     map[string]interface{} `json:"content,omitempty"`
}

func (APIPlatformInfo) isPlatformInfo() {}
func (APIPlatformInfo) Kind() string    { return "api" }

// AuthMethod is a closed sum of supported outbound authentication schemes.
type AuthMethod interface {
	isAuthMethod()
	Kind() string
}

type AuthMethodNone struct{}

func (AuthMethodNone) isAuthMethod() {}
func (AuthMethodNone) Kind() string  { return "none" }

type AuthMethodBearerToken struct {
	Value string `json:"value"`
}

func (AuthMethodBearerToken) isAuthMethod() {}
func (AuthMethodBearerToken) Kind() string  { return "bearerToken" }

type AuthMethodApiKey struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (AuthMethodApiKey) isAuthMethod() {}
func (AuthMethodApiKey) Kind() string  { return "apiKey" }

type AuthMethodBasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (AuthMethodBasicAuth) isAuthMethod() {}
func (AuthMethodBasicAuth) Kind() string  { return "basicAuth" }

type AuthMethodOAuth struct{}

func (AuthMethodOAuth) isAuthMethod() {}
func (AuthMethodOAuth) Kind() string  { return "oauth" }

// ExtractorUpdateConfig tells an extractor how to detect incremental changes.
type ExtractorUpdateConfig struct {
	Enabled bool   `json:"enabled"`
	Field   string `json:"field,omitempty"`
}

// ExtractorConfig is the optional scheduling/paging configuration for a CMD
// used as a pipeline extractor.
type ExtractorConfig struct {
	Cursor       string                `json:"cursor,omitempty"`
	Limit        int                   `json:"limit,omitempty"`
	Update       ExtractorUpdateConfig `json:"update,omitempty"`
	PullFrequency time.Duration        `json:"pullFrequency,omitempty"`
}

// Mapping holds the raw JS source for the two directions of CMS-backed
// translation between a common model and this CMD's payload shape.
type Mapping struct {
	CommonModelName string `json:"commonModelName"`
	FromCommonModel string `json:"fromCommonModel,omitempty"`
	ToCommonModel   string `json:"toCommonModel,omitempty"`
}

// CMD is a template for one HTTP operation on one platform.
type CMD struct {
	ID                 id.Id            `json:"id" db:"id"`
	ConnectionPlatform string           `json:"connectionPlatform" db:"connection_platform"`
	PlatformVersion    string           `json:"platformVersion" db:"platform_version"`
	ModelName          string           `json:"modelName" db:"model_name"`
	Action             string           `json:"action" db:"action"` // HTTP method
	ActionName         ActionName       `json:"actionName" db:"action_name"`
	PlatformInfo       PlatformInfo     `json:"platformInfo" db:"-"`
	Extractor          *ExtractorConfig `json:"extractorConfig,omitempty" db:"-"`
	Mapping            *Mapping         `json:"mapping,omitempty" db:"-"`
	Supported          bool             `json:"supported" db:"supported"`
	TestConnectionStatus ConnectionStatus `json:"testConnectionStatus" db:"test_connection_status"`
}

// API returns the CMD's PlatformInfo as an APIPlatformInfo, the only
// variant implemented today.
func (c CMD) API() (APIPlatformInfo, bool) {
	api, ok := c.PlatformInfo.(APIPlatformInfo)
	return api, ok
}
