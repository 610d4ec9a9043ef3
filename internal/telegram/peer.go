package telegram

// Basic groups and channels share an id space with users on the wire, so ids
// exposed to callers are marked the same way the Bot API does it.
const channelIDShift = 1_000_000_000_000

func MarkChatID(id int64) int64 { return -id }

func MarkChannelID(id int64) int64 { return -(channelIDShift + id) }
