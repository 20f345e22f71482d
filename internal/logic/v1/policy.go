package v1

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/duynhne/sync-gateway/internal/core/domain"
)

// Rule builds the row predicate for one table from an access context.
type Rule func(ac *domain.AccessContext) Expr

// CheckTable validates a requested table name against the allow-list. It
// performs no I/O and never looks at an access context.
func CheckTable(name string) (domain.Table, error) {
	if name == "" {
		return "", ErrMissingTable
	}
	table, ok := domain.ParseTable(name)
	if !ok {
		return "", ErrTableNotAllowed
	}
	return table, nil
}

// DefaultRules is the row policy for every allow-listed table.
func DefaultRules() map[domain.Table]Rule {
	return map[domain.Table]Rule{
		// profile tables: visible across shared organizations
		domain.TableUsers: func(ac *domain.AccessContext) Expr {
			return And(In("id", ac.CoOrganizationUserIDs), NotDeleted())
		},
		domain.TableUserPresence: func(ac *domain.AccessContext) Expr {
			return And(In("user_id", ac.CoOrganizationUserIDs), NotDeleted())
		},

		// organization tables
		domain.TableOrganizations: func(ac *domain.AccessContext) Expr {
			return And(In("id", ac.OrganizationIDs), NotDeleted())
		},
		domain.TableOrganizationMembers: func(ac *domain.AccessContext) Expr {
			return And(In("organization_id", ac.OrganizationIDs), NotDeleted())
		},

		// channel tables
		domain.TableChannelMembers:   channelScoped(true),
		domain.TableMessages:         channelScoped(true),
		domain.TablePinnedMessages:   channelScoped(true),
		// typing indicators are hard-deleted on expiry and carry no deleted_at
		domain.TableTypingIndicators: channelScoped(false),

		// child rows go through the owning message, never a denormalized channel_id
		domain.TableMessageReactions:   messageChild,
		domain.TableMessageAttachments: messageChild,

		// self tables
		domain.TableUserSettings: func(ac *domain.AccessContext) Expr {
			return Eq("user_id", ac.UserID)
		},
		domain.TableNotifications: func(ac *domain.AccessContext) Expr {
			return And(In("member_id", ac.MemberIDs), NotDeleted())
		},

		// mixed visibility
		domain.TableChannels: func(ac *domain.AccessContext) Expr {
			return And(
				Or(
					And(EqText("visibility", "public"), In("organization_id", ac.OrganizationIDs)),
					In("id", ac.ChannelIDs),
				),
				NotDeleted(),
			)
		},
		domain.TableCustomEmojis: func(ac *domain.AccessContext) Expr {
			return And(
				Or(
					IsTrue("is_public"),
					Eq("created_by", ac.UserID),
					In("created_by", ac.CoOrganizationUserIDs),
				),
				NotDeleted(),
			)
		},
	}
}

func channelScoped(softDelete bool) Rule {
	return func(ac *domain.AccessContext) Expr {
		if softDelete {
			return And(In("channel_id", ac.ChannelIDs), NotDeleted())
		}
		return In("channel_id", ac.ChannelIDs)
	}
}

func messageChild(ac *domain.AccessContext) Expr {
	return And(
		InSubquery("message_id", string(domain.TableMessages), "id", In("channel_id", ac.ChannelIDs)),
		NotDeleted(),
	)
}

// PolicyEngine maps allow-listed tables to row predicates. Tables without a
// rule are denied.
type PolicyEngine struct {
	rules map[domain.Table]Rule
}

// NewPolicyEngine checks that rules covers the allow-list exactly and returns
// an engine over a private copy of it.
func NewPolicyEngine(rules map[domain.Table]Rule) (*PolicyEngine, error) {
	var missing, unknown []string
	for _, t := range domain.AllowedTables() {
		if rules[t] == nil {
			missing = append(missing, string(t))
		}
	}
	for t := range rules {
		if _, ok := domain.ParseTable(string(t)); !ok {
			unknown = append(unknown, string(t))
		}
	}

	slices.Sort(unknown)

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("no policy for allow-listed tables: %s", strings.Join(missing, ", ")))
	}
	if len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("policy for tables outside the allow-list: %s", strings.Join(unknown, ", ")))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	copied := make(map[domain.Table]Rule, len(rules))
	for t, r := range rules {
		copied[t] = r
	}
	return &PolicyEngine{rules: copied}, nil
}

// Predicate returns the where clause restricting table to what ac may see.
func (e *PolicyEngine) Predicate(table domain.Table, ac *domain.AccessContext) (string, error) {
	if _, ok := domain.ParseTable(string(table)); !ok {
		return "", ErrTableNotAllowed
	}
	if ac == nil || ac.UserID == "" {
		return "", ErrInternal.wrap(errors.New("predicate requested without access context"))
	}
	rule, ok := e.rules[table]
	if !ok || rule == nil {
		return "", ErrNoPolicyForTable.withDetail(string(table))
	}

	where, err := Render(rule(ac))
	if err != nil {
		return "", err
	}
	if where == "" {
		return "", ErrNoPolicyForTable.withDetail(string(table))
	}
	return where, nil
}
