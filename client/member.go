package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/openstack/glance-sub003/api/types"
)

type membershipEntry struct {
	MemberID string `json:"member_id"`
	CanShare *bool  `json:"can_share,omitempty"`
}

// ImageMembers lists the tenants an image is shared with.
func (c *Client) ImageMembers(ctx context.Context, imageID string) ([]types.Member, error) {
	var out struct {
		Members []struct {
			MemberID string `json:"member_id"`
			CanShare bool   `json:"can_share"`
		} `json:"members"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/images/"+imageID+"/members", nil, nil, nil, &out); err != nil {
		return nil, err
	}
	members := make([]types.Member, 0, len(out.Members))
	for _, m := range out.Members {
		members = append(members, types.Member{ImageID: imageID, Member: m.MemberID, CanShare: m.CanShare})
	}
	return members, nil
}

// ReplaceMembers replaces the whole membership set of an image.
func (c *Client) ReplaceMembers(ctx context.Context, imageID string, members []types.MemberInput) error {
	payload := struct {
		Memberships []membershipEntry `json:"memberships"`
	}{Memberships: make([]membershipEntry, 0, len(members))}
	for _, m := range members {
		payload.Memberships = append(payload.Memberships, membershipEntry{MemberID: m.Member, CanShare: m.CanShare})
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, "/images/"+imageID+"/members", nil, bytes.NewReader(b), jsonHeaders(), nil)
}

// AddMember shares an image with one more tenant. A nil canShare keeps
// the stored value for an existing membership and defaults to false for
// a new one.
func (c *Client) AddMember(ctx context.Context, imageID, member string, canShare *bool) error {
	if canShare == nil {
		return c.doJSON(ctx, http.MethodPut, "/images/"+imageID+"/members/"+member, nil, nil, nil, nil)
	}
	b, err := json.Marshal(map[string]interface{}{
		"member": map[string]interface{}{"can_share": *canShare},
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPut, "/images/"+imageID+"/members/"+member, nil, bytes.NewReader(b), jsonHeaders(), nil)
}

// RemoveMember revokes a tenant's access to an image.
func (c *Client) RemoveMember(ctx context.Context, imageID, member string) error {
	return c.doJSON(ctx, http.MethodDelete, "/images/"+imageID+"/members/"+member, nil, nil, nil, nil)
}

// SharedImages lists the images shared with a tenant.
func (c *Client) SharedImages(ctx context.Context, member string) ([]types.Member, error) {
	var out struct {
		SharedImages []struct {
			ImageID  string `json:"image_id"`
			CanShare bool   `json:"can_share"`
		} `json:"shared_images"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/shared-images/"+member, nil, nil, nil, &out); err != nil {
		return nil, err
	}
	memberships := make([]types.Member, 0, len(out.SharedImages))
	for _, m := range out.SharedImages {
		memberships = append(memberships, types.Member{ImageID: m.ImageID, Member: member, CanShare: m.CanShare})
	}
	return memberships, nil
}

func jsonHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}
