package mtproto

// Handshake constructors.
const (
	tagReqPQ              uint32 = 0x60469778
	tagResPQ              uint32 = 0x05162463
	tagPQInnerData        uint32 = 0x83c95aec
	tagReqDHParams        uint32 = 0xd712e4be
	tagServerDHParamsOK   uint32 = 0xd0e8075c
	tagServerDHParamsFail uint32 = 0x79cb045d
	tagServerDHInnerData  uint32 = 0xb5890dba
	tagClientDHInnerData  uint32 = 0x6643b654
	tagSetClientDHParams  uint32 = 0xf5045f1f
	tagDHGenOK            uint32 = 0x3bcbf734
	tagDHGenRetry         uint32 = 0x46dc1fb9
	tagDHGenFail          uint32 = 0xa69dae02

	tagVector uint32 = 0x1cb5c415

	tagPing uint32 = 0x7abe77ec
)

// Session-level response types.
const (
	tagMsgContainer           uint32 = 0x73f1f8dc
	tagGzipPacked             uint32 = 0x3072cfa1
	tagRPCResult              uint32 = 0xf35c6d01
	tagRPCError               uint32 = 0x2144ca19
	tagMsgsAck                uint32 = 0x62d6b459
	tagBadServerSalt          uint32 = 0xedab447b
	tagBadMsgNotification     uint32 = 0xa7eff811
	tagNewSessionCreated      uint32 = 0x9ec20908
	tagPong                   uint32 = 0x347773c5
	tagMsgDetailedInfo        uint32 = 0x276d3ec6
	tagMsgNewDetailedInfo     uint32 = 0x809db6df
	tagUpdatesTooLong         uint32 = 0xe317af7e
	tagUpdateShort            uint32 = 0x78d4dec1
	tagUpdates                uint32 = 0x74ae4240
	tagUpdateShortMessage     uint32 = 0x914fbf11
	tagUpdateShortChatMessage uint32 = 0x16812688
)

// Updates-family tags, exported for the update decoder upstream.
const (
	TagRPCError               = tagRPCError
	TagUpdateShort            = tagUpdateShort
	TagUpdates                = tagUpdates
	TagUpdateShortMessage     = tagUpdateShortMessage
	TagUpdateShortChatMessage = tagUpdateShortChatMessage
)
