package binlog

// Event tags. Each event on disk is [len:u32][tag:u32][payload], payload in
// wire-codec conventions. The tag set is closed: an unknown tag during
// replay is a malformed log, not something to skip over.
const (
	// Session-global events.
	TagStart            uint32 = 0x3b06de69
	TagDCOption         uint32 = 0x5e8a1e48
	TagAuthKey          uint32 = 0x71e8c156
	TagDeleteAuthKey    uint32 = 0x9a8ae7e9
	TagDefaultDC        uint32 = 0x609708a6
	TagDCSalt           uint32 = 0x3f54b31b
	TagOurID            uint32 = 0x127bf2fa
	TagDHParams         uint32 = 0x20a8fa6b
	TagSetPts           uint32 = 0x093b0d22
	TagSetQts           uint32 = 0x6eeb2989
	TagSetSeq           uint32 = 0x6ce2e9e5
	TagSetDate          uint32 = 0x41c1a4c7

	// User events.
	TagNewUser           uint32 = 0x107c3583
	TagDeleteUser        uint32 = 0x5b1c5bbf
	TagSetUserName       uint32 = 0x9c186d93
	TagSetUserRealName   uint32 = 0xf1302b9d
	TagSetUserPhone      uint32 = 0x2331d348
	TagSetUserAccessHash uint32 = 0xa3a1f546
	TagSetUserContact    uint32 = 0x8a668f2b
	TagSetUserBlocked    uint32 = 0xb7e2c4b1
	TagSetUserPhoto      uint32 = 0x4c09f66f

	// Chat events.
	TagChatCreate          uint32 = 0xc1f09c21
	TagChatSetTitle        uint32 = 0x7a191f14
	TagChatSetPhoto        uint32 = 0x22df0f1e
	TagChatAddParticipant  uint32 = 0xe2e499b8
	TagChatDelParticipant  uint32 = 0x24901b0a
	TagChatSetParticipants uint32 = 0x31ad72ba

	// Secret chat events.
	TagEncrChatRequest  uint32 = 0x6e237175
	TagEncrChatWaiting  uint32 = 0x860bf9e3
	TagEncrChatSetKey   uint32 = 0xcc4f92cd
	TagEncrChatSetState uint32 = 0x91e1dd93
	TagEncrChatDelete   uint32 = 0xee218e5a

	// Message events.
	TagCreateMessageText    uint32 = 0x75bb13a6
	TagSendMessageText      uint32 = 0x2a7867ca
	TagCreateMessageMedia   uint32 = 0x41b23d71
	TagCreateMessageService uint32 = 0x8f68107d
	TagMessageSent          uint32 = 0xf18b2a6e
	TagClearMessageUnread   uint32 = 0x8b2d3f18
	TagDeleteMessage        uint32 = 0x5a2c6f27
)

func tagName(tag uint32) string {
	switch tag {
	case TagStart:
		return "START"
	case TagDCOption:
		return "DC_OPTION"
	case TagAuthKey:
		return "AUTH_KEY"
	case TagDeleteAuthKey:
		return "DELETE_AUTH_KEY"
	case TagDefaultDC:
		return "DEFAULT_DC"
	case TagDCSalt:
		return "DC_SALT"
	case TagOurID:
		return "OUR_ID"
	case TagDHParams:
		return "DH_PARAMS"
	case TagSetPts:
		return "SET_PTS"
	case TagSetQts:
		return "SET_QTS"
	case TagSetSeq:
		return "SET_SEQ"
	case TagSetDate:
		return "SET_DATE"
	case TagNewUser:
		return "NEW_USER"
	case TagDeleteUser:
		return "DELETE_USER"
	case TagSetUserName:
		return "SET_USER_NAME"
	case TagSetUserRealName:
		return "SET_USER_REAL_NAME"
	case TagSetUserPhone:
		return "SET_USER_PHONE"
	case TagSetUserAccessHash:
		return "SET_USER_ACCESS_HASH"
	case TagSetUserContact:
		return "SET_USER_CONTACT"
	case TagSetUserBlocked:
		return "SET_USER_BLOCKED"
	case TagSetUserPhoto:
		return "SET_USER_PHOTO"
	case TagChatCreate:
		return "CHAT_CREATE"
	case TagChatSetTitle:
		return "CHAT_SET_TITLE"
	case TagChatSetPhoto:
		return "CHAT_SET_PHOTO"
	case TagChatAddParticipant:
		return "CHAT_ADD_PARTICIPANT"
	case TagChatDelParticipant:
		return "CHAT_DEL_PARTICIPANT"
	case TagChatSetParticipants:
		return "CHAT_SET_PARTICIPANTS"
	case TagEncrChatRequest:
		return "ENCR_CHAT_REQUEST"
	case TagEncrChatWaiting:
		return "ENCR_CHAT_WAITING"
	case TagEncrChatSetKey:
		return "ENCR_CHAT_SET_KEY"
	case TagEncrChatSetState:
		return "ENCR_CHAT_SET_STATE"
	case TagEncrChatDelete:
		return "ENCR_CHAT_DELETE"
	case TagCreateMessageText:
		return "CREATE_MESSAGE_TEXT"
	case TagSendMessageText:
		return "SEND_MESSAGE_TEXT"
	case TagCreateMessageMedia:
		return "CREATE_MESSAGE_MEDIA"
	case TagCreateMessageService:
		return "CREATE_MESSAGE_SERVICE"
	case TagMessageSent:
		return "MESSAGE_SENT"
	case TagClearMessageUnread:
		return "CLEAR_MESSAGE_UNREAD"
	case TagDeleteMessage:
		return "DELETE_MESSAGE"
	default:
		return "UNKNOWN"
	}
}
