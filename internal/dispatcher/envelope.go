package dispatcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Cache describes whether the response envelope itself was served from a
// response cache (always a miss today; the field exists for forward
// compatibility with the upstream system this spec models).
type Cache struct {
	Hit bool   `json:"hit"`
	TTL int    `json:"ttl"`
	Key string `json:"key"`
}

// Meta is attached to every response envelope and to every error raised
// during unified_send, for diagnostics (§4.3 step 12, "Error semantics").
type Meta struct {
	Timestamp                  time.Time `json:"timestamp"`
	LatencyMS                  int64     `json:"latency"`
	Platform                   string    `json:"platform"`
	PlatformVersion            string    `json:"platformVersion"`
	Action                     string    `json:"action"`
	CommonModel                string    `json:"commonModel,omitempty"`
	CommonModelVersion         string    `json:"commonModelVersion,omitempty"`
	ConnectionKey              string    `json:"connectionKey"`
	TransactionKey             string    `json:"transactionKey"`
	Hash                       string    `json:"hash"`
	Cache                      Cache     `json:"cache"`
	Host                       string    `json:"host"`
	RateLimitRemaining         int       `json:"rateLimitRemaining"`
	PlatformRateLimitRemaining int       `json:"platformRateLimitRemaining"`
}

// Pagination carries the next-page fields of a GetMany response whose CMD
// has a to_common_model mapping (§4.3 step 9). Cursor is the object the
// CMD's response-cursor JSONPath selects from the upstream body, Limit is
// the request's "limit" query parameter, and PageSize is the number of
// mapped items. The CMD's to_common_model script is not run to build it.
type Pagination struct {
	Limit    int                    `json:"limit,omitempty"`
	PageSize int                    `json:"pageSize,omitempty"`
	Cursor   map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Cursor's keys alongside Limit/PageSize, matching the
// spec's "{ limit, pageSize, ...cursor }" shape.
func (p Pagination) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range p.Cursor {
		out[k] = v
	}
	if p.Limit != 0 {
		out["limit"] = p.Limit
	}
	if p.PageSize != 0 {
		out["pageSize"] = p.PageSize
	}
	return json.Marshal(out)
}

// Envelope is the normalized response returned from unified_send on success
// (§4.3 step 12).
type Envelope struct {
	Unified     interface{} `json:"unified"`
	Pagination  *Pagination `json:"pagination,omitempty"`
	Passthrough interface{} `json:"passthrough,omitempty"`
	Meta        Meta        `json:"meta"`
}

// UpstreamErrorEnvelope is returned verbatim (plus meta) when the upstream
// call itself returned a non-2xx status (§4.3 step 7).
type UpstreamErrorEnvelope struct {
	Upstream interface{} `json:"upstream"`
	Meta     Meta        `json:"meta"`
}

// UnprocessableEnvelope is returned when a configured response-object
// JSONPath matched nothing in a non-production environment on a read
// action (§4.3 step 8, scenario 2).
type UnprocessableEnvelope struct {
	Message     string      `json:"message"`
	Passthrough interface{} `json:"passthrough"`
}

// stableHash computes a stable SHA-256 hex digest over {response, action,
// commonModelName}, as required by Meta.Hash.
func stableHash(response interface{}, action, commonModelName string) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"response":        response,
		"action":          action,
		"commonModelName": commonModelName,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
