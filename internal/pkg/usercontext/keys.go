package usercontext

// Locals keys set by the API key middleware
const (
	KeyClient   = "api_client"
	KeyClientID = "api_client_id"
	KeyIsAdmin  = "isAdmin"
)
