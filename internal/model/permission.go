package model

// Action is a mutating action checked by the authorization gate.
type Action string

const (
	ActionVerifyClinic   Action = "verify_clinic"
	ActionManageStaff    Action = "manage_staff"
	ActionEditClinicInfo Action = "edit_clinic_info"
)

func (a Action) Valid() bool {
	switch a {
	case ActionVerifyClinic, ActionManageStaff, ActionEditClinicInfo:
		return true
	}
	return false
}

// Permissions are the capability flags a staff membership can hold.
type Permissions struct {
	CanManageStaff         bool `db:"can_manage_staff" json:"can_manage_staff"`
	CanApproveAppointments bool `db:"can_approve_appointments" json:"can_approve_appointments"`
	CanEditClinicInfo      bool `db:"can_edit_clinic_info" json:"can_edit_clinic_info"`
}

// FullPermissions is granted to the owner invitation issued at clinic registration.
func FullPermissions() Permissions {
	return Permissions{
		CanManageStaff:         true,
		CanApproveAppointments: true,
		CanEditClinicInfo:      true,
	}
}

// Allows reports whether p carries the flag that backs action.
// verify_clinic has no staff flag; only platform admins hold it.
func (p Permissions) Allows(action Action) bool {
	switch action {
	case ActionManageStaff:
		return p.CanManageStaff
	case ActionEditClinicInfo:
		return p.CanEditClinicInfo
	default:
		return false
	}
}

// Exceeds reports whether p sets a gate-backed flag that held lacks.
// can_approve_appointments backs no gated action and is not compared.
func (p Permissions) Exceeds(held Permissions) bool {
	return (p.CanManageStaff && !held.CanManageStaff) ||
		(p.CanEditClinicInfo && !held.CanEditClinicInfo)
}

type StaffRole string

const (
	StaffRoleAdministrator StaffRole = "administrator"
	StaffRoleDoctor        StaffRole = "doctor"
	StaffRoleNurse         StaffRole = "nurse"
	StaffRolePharmacist    StaffRole = "pharmacist"
	StaffRoleReceptionist  StaffRole = "receptionist"
	StaffRoleTechnician    StaffRole = "technician"
)
