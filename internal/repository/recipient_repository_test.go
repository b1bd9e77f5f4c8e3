package repository

import (
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/broadcast-service/internal/errors"
	"github.com/unclebandit/broadcast-service/internal/model"
)

func TestBuildRecipientQuery_AllEmail(t *testing.T) {
	query, args, err := buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetAll},
		Mode: model.ChannelModeEmail,
	})
	require.NoError(t, err)

	assert.Empty(t, args)
	assert.Contains(t, query, "u.is_active = TRUE")
	assert.Contains(t, query, "AND "+emailEligible)
	assert.NotContains(t, query, chatEligible)
	assert.True(t, strings.HasSuffix(query, "ORDER BY u.id"))
}

func TestBuildRecipientQuery_BothIsUnion(t *testing.T) {
	query, _, err := buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetAll},
		Mode: model.ChannelModeBoth,
	})
	require.NoError(t, err)

	assert.Contains(t, query, "AND ("+emailEligible+" OR "+chatEligible+")")
}

func TestBuildRecipientQuery_MembershipActiveOnly(t *testing.T) {
	query, args, err := buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetMembership, MembershipIDs: []int{3, 9}, ActiveOnly: true},
		Mode: model.ChannelModeChat,
	})
	require.NoError(t, err)

	require.Len(t, args, 1)
	assert.Equal(t, pq.Array([]int64{3, 9}), args[0])
	assert.Contains(t, query, "mb.plan_id = ANY($1)")
	assert.Contains(t, query, "mb.status = 'active'")
	assert.Contains(t, query, "mb.expires_at > NOW()")
}

func TestBuildRecipientQuery_TransactionPlaceholders(t *testing.T) {
	query, args, err := buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{
			Kind:                model.TargetTransaction,
			TransactionStatuses: []string{"PENDING"},
			TransactionTypes:    []string{"membership", "course"},
		},
		Mode: model.ChannelModeEmail,
	})
	require.NoError(t, err)

	require.Len(t, args, 2)
	assert.Contains(t, query, "tx.status = ANY($1)")
	assert.Contains(t, query, "tx.type = ANY($2)")
}

func TestBuildRecipientQuery_TransactionTypeOnly(t *testing.T) {
	query, args, err := buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetTransaction, TransactionTypes: []string{"event"}},
	})
	require.NoError(t, err)

	require.Len(t, args, 1)
	assert.Contains(t, query, "tx.type = ANY($1)")
	assert.NotContains(t, query, "tx.status")
	assert.NotContains(t, query, emailEligible)
}

func TestBuildRecipientQuery_VariantTables(t *testing.T) {
	cases := map[model.TargetingKind]string{
		model.TargetByRole: "u.role = ANY($1)",
		model.TargetGroup:  "group_members gm",
		model.TargetCourse: "course_enrollments ce",
		model.TargetEvent:  "event_registrations er",
		model.TargetCustom: "u.id = ANY($1)",
	}
	for kind, fragment := range cases {
		rule := model.TargetingRule{
			Kind:         kind,
			Roles:        []string{"admin"},
			GroupIDs:     []int{1},
			CourseIDs:    []int{1},
			EventIDs:     []int{1},
			RecipientIDs: []int{1},
		}
		query, args, err := buildRecipientQuery(model.AudienceFilter{Rule: rule, Mode: model.ChannelModeEmail})
		require.NoError(t, err, kind)
		assert.Len(t, args, 1, kind)
		assert.Contains(t, query, fragment, kind)
	}
}

func TestBuildRecipientQuery_Rejects(t *testing.T) {
	_, _, err := buildRecipientQuery(model.AudienceFilter{Rule: model.TargetingRule{Kind: "BY_MOOD"}})
	var invalid *appErrors.ErrInvalidTargetingRule
	assert.True(t, errors.As(err, &invalid))

	_, _, err = buildRecipientQuery(model.AudienceFilter{
		Rule: model.TargetingRule{Kind: model.TargetAll},
		Mode: "SMS",
	})
	var validation *appErrors.ErrValidation
	assert.True(t, errors.As(err, &validation))
}

func TestCampaignFilter(t *testing.T) {
	where, args := campaignFilter("EMAIL", "DRAFT")
	assert.Equal(t, " WHERE 1=1 AND channel_mode=$1 AND status=$2", where)
	assert.Equal(t, []any{"EMAIL", "DRAFT"}, args)

	where, args = campaignFilter("", "SENDING")
	assert.Equal(t, " WHERE 1=1 AND status=$1", where)
	assert.Equal(t, []any{"SENDING"}, args)
}
