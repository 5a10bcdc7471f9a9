// Package cms models the Connection Model Schema: a bidirectional mapping
// between one common model and one CMD's payload shape.
package cms

import "github.com/integration-core/core/internal/domain/id"

// CMS is the stored schema/mapping record.
type CMS struct {
	ID              id.Id                  `json:"id" db:"id"`
	CommonModelName string                 `json:"commonModelName" db:"common_model_name"`
	CommonModelID   id.Id                  `json:"commonModelId" db:"common_model_id"`
	FromCommonModel string                 `json:"fromCommonModel,omitempty" db:"from_common_model"`
	ToCommonModel   string                 `json:"toCommonModel,omitempty" db:"to_common_model"`
	Schema          map[string]interface{} `json:"schema,omitempty" db:"-"`
	Sample          map[string]interface{} `json:"sample,omitempty" db:"-"`
}
