package rpc

// NEAR JSON-RPC methods and query request types.
// All calls are POSTed to the endpoint root.

const (
	methodQuery  = "query"
	methodStatus = "status"

	requestViewAccount = "view_account"

	// jsonRPCID is echoed back by the node; NEAR ignores its value.
	jsonRPCID = "nearx"
)

// error cause names returned by nearcore handlers
const (
	causeUnknownAccount = "UNKNOWN_ACCOUNT"
	causeUnknownBlock   = "UNKNOWN_BLOCK"
)
