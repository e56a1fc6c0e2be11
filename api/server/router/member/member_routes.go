package member

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/server/httputils"
	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/auth"
	"github.com/openstack/glance-sub003/errdefs"
)

// memberView is the wire form of one membership entry.
type memberView struct {
	MemberID string `json:"member_id"`
	CanShare bool   `json:"can_share"`
}

// sharedImageView is the wire form of one shared-image entry.
type sharedImageView struct {
	ImageID  string `json:"image_id"`
	CanShare bool   `json:"can_share"`
}

// membershipBody is the replace-all and upsert request payload. CanShare
// stays a pointer so an absent field defaults to the stored value.
type membershipBody struct {
	Memberships []struct {
		MemberID string `json:"member_id"`
		CanShare *bool  `json:"can_share"`
	} `json:"memberships"`
}

func (mr *memberRouter) getMembers(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rc := auth.FromContext(ctx)
	members, err := mr.backend.ListMembers(ctx, rc, vars["id"])
	if err != nil {
		return err
	}
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView{MemberID: m.Member, CanShare: m.CanShare})
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"members": out})
}

func (mr *memberRouter) putMembers(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	var body membershipBody
	if err := httputils.ReadJSON(r, &body); err != nil {
		return errdefs.InvalidParameter(err)
	}
	incoming := make([]types.MemberInput, 0, len(body.Memberships))
	for _, m := range body.Memberships {
		incoming = append(incoming, types.MemberInput{Member: m.MemberID, CanShare: m.CanShare})
	}
	rc := auth.FromContext(ctx)
	if err := mr.backend.ReplaceMembers(ctx, rc, vars["id"], incoming); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (mr *memberRouter) putMember(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	in := types.MemberInput{Member: vars["member"]}
	if r.ContentLength != 0 {
		var body struct {
			Member struct {
				CanShare *bool `json:"can_share"`
			} `json:"member"`
		}
		if err := httputils.ReadJSON(r, &body); err != nil {
			return errdefs.InvalidParameter(err)
		}
		in.CanShare = body.Member.CanShare
	}
	rc := auth.FromContext(ctx)
	if err := mr.backend.AddMember(ctx, rc, vars["id"], in); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (mr *memberRouter) deleteMember(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	rc := auth.FromContext(ctx)
	if err := mr.backend.RemoveMember(ctx, rc, vars["id"], vars["member"]); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (mr *memberRouter) getSharedImages(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	member := vars["member"]
	if member == "" {
		return errdefs.InvalidParameter(errors.New("a member tenant is required"))
	}
	rc := auth.FromContext(ctx)
	memberships, err := mr.backend.SharedImages(ctx, rc, member)
	if err != nil {
		return err
	}
	out := make([]sharedImageView, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, sharedImageView{ImageID: m.ImageID, CanShare: m.CanShare})
	}
	return httputils.WriteJSON(w, http.StatusOK, map[string]interface{}{"shared_images": out})
}
