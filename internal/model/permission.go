package model

// Permission represents a string code for a specific staff action.
type Permission string

const (
	// PermissionMonitoringRead allows listing events and watching live monitors.
	PermissionMonitoringRead Permission = "monitoring:read"

	// PermissionMonitoringReview allows assigning and completing event reviews.
	PermissionMonitoringReview Permission = "monitoring:review"

	// PermissionAttemptsTerminate allows force-terminating an attempt.
	PermissionAttemptsTerminate Permission = "attempts:terminate"

	// PermissionAttemptsFlag allows raising manual flags on an attempt.
	PermissionAttemptsFlag Permission = "attempts:flag"

	// PermissionAttemptsGrade allows writing points back onto responses.
	PermissionAttemptsGrade Permission = "attempts:grade"

	// PermissionReportsRead allows reading concurrency reports.
	PermissionReportsRead Permission = "reports:read"
)

// AllPermissions lists every permission, used by token tooling.
var AllPermissions = []Permission{
	PermissionMonitoringRead,
	PermissionMonitoringReview,
	PermissionAttemptsTerminate,
	PermissionAttemptsFlag,
	PermissionAttemptsGrade,
	PermissionReportsRead,
}
