package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type TargetingKind string

const (
	TargetAll         TargetingKind = "ALL"
	TargetByRole      TargetingKind = "BY_ROLE"
	TargetMembership  TargetingKind = "BY_MEMBERSHIP"
	TargetGroup       TargetingKind = "BY_GROUP"
	TargetCourse      TargetingKind = "BY_COURSE"
	TargetTransaction TargetingKind = "BY_TRANSACTION"
	TargetEvent       TargetingKind = "BY_EVENT"
	TargetCustom      TargetingKind = "CUSTOM"
)

// TargetingRule selects the audience of a campaign. Only the fields of the
// selected Kind are meaningful.
type TargetingRule struct {
	Kind                TargetingKind `json:"kind"`
	Roles               []string      `json:"roles,omitempty"`
	MembershipIDs       []int         `json:"membership_ids,omitempty"`
	ActiveOnly          bool          `json:"active_only,omitempty"`
	GroupIDs            []int         `json:"group_ids,omitempty"`
	CourseIDs           []int         `json:"course_ids,omitempty"`
	TransactionStatuses []string      `json:"transaction_statuses,omitempty"`
	TransactionTypes    []string      `json:"transaction_types,omitempty"`
	EventIDs            []int         `json:"event_ids,omitempty"`
	RecipientIDs        []int         `json:"recipient_ids,omitempty"`
}

// Value stores the rule as JSONB.
func (r TargetingRule) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *TargetingRule) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = TargetingRule{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("targeting rule: unsupported scan type %T", src)
	}
	return json.Unmarshal(raw, r)
}
