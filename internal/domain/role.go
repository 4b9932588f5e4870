package domain

// Role is the partnership tier controlling feature visibility.
type Role string

const (
	RolePending      Role = "pending"
	RoleProfessional Role = "professional"
	RoleExpert       Role = "expert"
	RoleMaster       Role = "master"
	RoleAdmin        Role = "admin"
)

// PartnerRoles are the tiers an approved partner can hold.
var PartnerRoles = []Role{RoleProfessional, RoleExpert, RoleMaster}

// Valid reports whether r is a member of the closed role set. Comparison is
// case-sensitive; an unrecognized role is unauthorized everywhere, never
// treated as "all access".
func (r Role) Valid() bool {
	switch r {
	case RolePending, RoleProfessional, RoleExpert, RoleMaster, RoleAdmin:
		return true
	}
	return false
}

// In reports whether r is a member of the given set.
func (r Role) In(set []Role) bool {
	for _, s := range set {
		if r == s {
			return true
		}
	}
	return false
}
