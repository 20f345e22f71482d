package domain

import "slices"

// Table is a syncable table name. Only the values returned by AllowedTables
// may ever reach the shape service.
type Table string

const (
	TableUsers               Table = "users"
	TableUserPresence        Table = "user_presence"
	TableOrganizations       Table = "organizations"
	TableOrganizationMembers Table = "organization_members"
	TableChannels            Table = "channels"
	TableChannelMembers      Table = "channel_members"
	TableMessages            Table = "messages"
	TableMessageReactions    Table = "message_reactions"
	TableMessageAttachments  Table = "message_attachments"
	TablePinnedMessages      Table = "pinned_messages"
	TableTypingIndicators    Table = "typing_indicators"
	TableUserSettings        Table = "user_settings"
	TableNotifications       Table = "notifications"
	TableCustomEmojis        Table = "custom_emojis"
)

// allowedTables is the closed allow-list of syncable tables. It is fixed at
// compile time; callers only ever see copies.
var allowedTables = []Table{
	TableUsers,
	TableUserPresence,
	TableOrganizations,
	TableOrganizationMembers,
	TableChannels,
	TableChannelMembers,
	TableMessages,
	TableMessageReactions,
	TableMessageAttachments,
	TablePinnedMessages,
	TableTypingIndicators,
	TableUserSettings,
	TableNotifications,
	TableCustomEmojis,
}

// AllowedTables returns a copy of the allow-list.
func AllowedTables() []Table {
	return slices.Clone(allowedTables)
}

// ParseTable returns the allow-listed table with the given name.
func ParseTable(name string) (Table, bool) {
	for _, t := range allowedTables {
		if string(t) == name {
			return t, true
		}
	}
	return "", false
}
