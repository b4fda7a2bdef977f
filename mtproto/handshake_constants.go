package mtproto

// Constructor ids used only during the unencrypted DH handshake (spec.md
// §4.2). Like the steady-state system constructors in systemobjects.go,
// these are fixed MTProto wire constants, never schema-dependent.
const (
	crcReqPQMulti        uint32 = 0xbe7e8ef1
	crcResPQ             uint32 = 0x05162463
	crcPQInnerData       uint32 = 0x83c95aec
	crcReqDHParams       uint32 = 0xd712e4be
	crcServerDHParamsOk  uint32 = 0xd0e8075c
	crcServerDHInnerData uint32 = 0xb5890dba
	crcClientDHInnerData uint32 = 0x6643b654
	crcSetClientDHParams uint32 = 0xf5045f1f
	crcDHGenOk           uint32 = 0x3bcbf734
	crcDHGenRetry        uint32 = 0x46dc1fb9
	crcDHGenFail         uint32 = 0xa69dae02
)
