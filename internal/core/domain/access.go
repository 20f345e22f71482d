package domain

import (
	"context"
	"slices"
)

// AccessContext is everything one internal user may see. It is built once per
// request and never mutated; every id in it belongs to UserID's security domain.
type AccessContext struct {
	UserID                string
	OrganizationIDs       []string
	ChannelIDs            []string
	MemberIDs             []string
	CoOrganizationUserIDs []string
}

// NewAccessContext copies, sorts and de-duplicates every id set so the
// resulting context is deterministic and shares no backing arrays with the
// caller.
func NewAccessContext(userID string, organizationIDs, channelIDs, memberIDs, coOrganizationUserIDs []string) *AccessContext {
	return &AccessContext{
		UserID:                userID,
		OrganizationIDs:       normalizeIDs(organizationIDs),
		ChannelIDs:            normalizeIDs(channelIDs),
		MemberIDs:             normalizeIDs(memberIDs),
		CoOrganizationUserIDs: normalizeIDs(coOrganizationUserIDs),
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// AuthenticatedUser is a validated session bound to its internal user.
type AuthenticatedUser struct {
	ExternalPrincipalID string
	InternalUserID      string
	Email               string
	OrganizationID      *string
	Role                *string
	Access              *AccessContext
}

// AccessRepository defines the bulk reads that make up an AccessContext.
// Every read excludes soft-deleted rows.
type AccessRepository interface {
	// ListOrganizationIDs returns the organizations the user is a member of.
	ListOrganizationIDs(ctx context.Context, userID string) ([]string, error)

	// ListMemberIDs returns the user's membership row ids in live organizations.
	ListMemberIDs(ctx context.Context, userID string) ([]string, error)

	// ListChannelIDs returns the channels the user is a member of.
	ListChannelIDs(ctx context.Context, userID string) ([]string, error)

	// ListCoOrganizationUserIDs returns every user that shares at least one
	// organization with the given user, the user included.
	ListCoOrganizationUserIDs(ctx context.Context, userID string) ([]string, error)
}
