package auth

// Built-in role names checked by the administrative endpoints.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)
