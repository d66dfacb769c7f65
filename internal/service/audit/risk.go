package audit

import "github.com/jwalitptl/coach-realtime/internal/model"

var riskTable = map[model.AuditEventType]model.RiskLevel{
	model.AuditAccountLocked:     model.RiskCritical,
	model.AuditSecurityViolation: model.RiskCritical,
	model.AuditDataDelete:        model.RiskCritical,
	model.AuditKeyRotation:       model.RiskCritical,

	model.AuditLoginFailure:        model.RiskHigh,
	model.AuditAccessDenied:        model.RiskHigh,
	model.AuditSuspiciousActivity:  model.RiskHigh,
	model.AuditRateLimitExceeded:   model.RiskHigh,
	model.AuditRealtimeAuthFailure: model.RiskHigh,
	model.AuditFlushFailure:        model.RiskHigh,

	model.AuditDataExport:       model.RiskMedium,
	model.AuditDataImport:       model.RiskMedium,
	model.AuditPermissionChange: model.RiskMedium,
	model.AuditRoleChange:       model.RiskMedium,
	model.AuditBulkOperation:    model.RiskMedium,
	model.AuditPasswordChange:   model.RiskMedium,
	model.AuditPasswordReset:    model.RiskMedium,
	model.AuditRoomJoinDenied:   model.RiskMedium,
}

// RiskFor returns the default risk of an event type. Unlisted types are LOW.
func RiskFor(t model.AuditEventType) model.RiskLevel {
	if r, ok := riskTable[t]; ok {
		return r
	}
	return model.RiskLow
}
