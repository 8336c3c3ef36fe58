package model

// AuthKeySize is the size of a long-term DC auth key.
const AuthKeySize = 256

// DC describes one data center: endpoint, long-term auth key and session
// bookkeeping. One DC is the working (primary) one at a time.
type DC struct {
	ID             int32
	Host           string
	Port           int32
	AuthKey        [AuthKeySize]byte
	KeyFingerprint int64
	Salt           int64
	Authorized     bool // server-side auth completed
	TimeSkew       int32
	HasKey         bool
}

// ProtoState is the update-sequence position (pts/qts/seq/date). All four
// counters only move forward.
type ProtoState struct {
	Pts  int32
	Qts  int32
	Seq  int32
	Date int32
}

// DHConfig is the global Diffie-Hellman parameter set used by secret chats.
type DHConfig struct {
	Prime   []byte
	G       int32
	Version int32
}
