package constants

import "fmt"

// Operator roles accepted on /api/internal.
const (
	RoleOps   = "ops"
	RoleAdmin = "admin"
)

var OperatorRoles = []string{RoleOps, RoleAdmin}

const ErrOnlyOperatorsCanAccess = "❌ Hanya operator (ops/admin) yang boleh mengakses fitur %s."

func RoleErrorOperator(feature string) string {
	return fmt.Sprintf(ErrOnlyOperatorsCanAccess, feature)
}
