package state

var (
	escrowRecordPrefix = []byte("escrow/record/")
	escrowNextIDKey    = []byte("escrow/next-id")
	escrowPlatformKey  = []byte("escrow/platform")
	pausePrefix        = []byte("pause/")
)
