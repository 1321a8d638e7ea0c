package router

// Problem codes carried in the "code" field of error responses.
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrBranchResolutionCode   = "BRANCH_RESOLUTION_FAILED"
	ErrUpstreamCode           = "UPSTREAM_ERROR"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
)

// Error messages
const (
	ErrMsgGitHubNotConfigured = "github access is not configured; set AGENTRIX_GITHUB_TOKEN"
)
