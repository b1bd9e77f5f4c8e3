package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/broadcast-service/internal/model"
)

func paginationFixture() *CampaignService {
	var campaigns []*model.Campaign
	for id := 1; id <= 5; id++ {
		mode := model.ChannelModeEmail
		if id%2 == 0 {
			mode = model.ChannelModeChat
		}
		campaigns = append(campaigns, &model.Campaign{ID: id, Name: "C", ChannelMode: mode})
	}
	return &CampaignService{CampaignRepo: newMemCampaignRepo(campaigns...)}
}

func TestPagination(t *testing.T) {
	svc := paginationFixture()
	ctx := context.Background()
	pageSize := 2

	page1, pagination1, err := svc.ListCampaigns(ctx, 1, pageSize, "", "")
	require.NoError(t, err)
	page2, _, err := svc.ListCampaigns(ctx, 2, pageSize, "", "")
	require.NoError(t, err)

	assert.Equal(t, 5, pagination1["total_count"])
	assert.Equal(t, 3, pagination1["total_pages"])
	require.Len(t, page1, 2)
	require.Len(t, page2, 2)

	// Newest first, no overlap between pages.
	assert.Greater(t, page1[0].ID, page1[1].ID)
	assert.Greater(t, page2[0].ID, page2[1].ID)
	assert.NotEqual(t, page1[1].ID, page2[0].ID)

	page3, pagination3, err := svc.ListCampaigns(ctx, 3, pageSize, "", "")
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Equal(t, 3, pagination3["page"])
}

func TestPaginationClampsArguments(t *testing.T) {
	svc := paginationFixture()

	campaigns, pagination, err := svc.ListCampaigns(context.Background(), 0, 500, "", "")

	require.NoError(t, err)
	assert.Len(t, campaigns, 5)
	assert.Equal(t, 1, pagination["page"])
	assert.Equal(t, 100, pagination["page_size"])
}

func TestPaginationFiltersByChannel(t *testing.T) {
	svc := paginationFixture()

	campaigns, pagination, err := svc.ListCampaigns(context.Background(), 1, 10, "CHAT", "")

	require.NoError(t, err)
	assert.Equal(t, 2, pagination["total_count"])
	for _, c := range campaigns {
		assert.Equal(t, model.ChannelModeChat, c.ChannelMode)
	}
}
