package service

import (
	"context"

	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

// PendingTarget is a target still missing a sent record on one or more of
// the campaign's channels.
type PendingTarget struct {
	model.CampaignTarget
	Channels []model.Channel
}

// Resolver computes who is left to message. It only reads.
type Resolver struct {
	Campaigns repository.CampaignRepositoryInterface
	Ledger    repository.LedgerInterface
	// PageSize defaults to repository.MaxPageSize.
	PageSize int
}

// Targets returns the campaign's target set in position order with repeated
// vendors dropped after their first occurrence.
func (r *Resolver) Targets(ctx context.Context, campaignID string) ([]model.CampaignTarget, error) {
	all, err := repository.FetchAll(ctx, r.PageSize, func(ctx context.Context, offset, limit int) ([]model.CampaignTarget, error) {
		return r.Campaigns.ListTargets(ctx, campaignID, offset, limit)
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(all))
	out := all[:0]
	for _, t := range all {
		if _, dup := seen[t.VendorID]; dup {
			continue
		}
		seen[t.VendorID] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func (r *Resolver) sentSet(ctx context.Context, campaignID string, ch model.Channel) (map[string]struct{}, error) {
	ids, err := repository.FetchAll(ctx, r.PageSize, func(ctx context.Context, offset, limit int) ([]string, error) {
		return r.Ledger.ListSentVendorIDs(ctx, campaignID, ch, offset, limit)
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Remaining returns the targets without a sent record on ch, in target order.
func (r *Resolver) Remaining(ctx context.Context, campaignID string, ch model.Channel) ([]model.CampaignTarget, error) {
	_, pending, err := r.Pending(ctx, campaignID, []model.Channel{ch})
	if err != nil {
		return nil, err
	}
	out := make([]model.CampaignTarget, len(pending))
	for i, p := range pending {
		out[i] = p.CampaignTarget
	}
	return out, nil
}

// Pending loads the target set once and subtracts each channel's sent set.
// It returns the full target set alongside the pending subset.
func (r *Resolver) Pending(ctx context.Context, campaignID string, channels []model.Channel) ([]model.CampaignTarget, []PendingTarget, error) {
	targets, err := r.Targets(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}

	sent := make(map[model.Channel]map[string]struct{}, len(channels))
	for _, ch := range channels {
		s, err := r.sentSet(ctx, campaignID, ch)
		if err != nil {
			return nil, nil, err
		}
		sent[ch] = s
	}

	var pending []PendingTarget
	for _, t := range targets {
		var missing []model.Channel
		for _, ch := range channels {
			if _, ok := sent[ch][t.VendorID]; !ok {
				missing = append(missing, ch)
			}
		}
		if len(missing) > 0 {
			pending = append(pending, PendingTarget{CampaignTarget: t, Channels: missing})
		}
	}
	return targets, pending, nil
}
