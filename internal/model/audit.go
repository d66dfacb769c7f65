package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditEventType string

const (
	// Authentication
	AuditLoginSuccess    AuditEventType = "LOGIN_SUCCESS"
	AuditLoginFailure    AuditEventType = "LOGIN_FAILURE"
	AuditLogout          AuditEventType = "LOGOUT"
	AuditTokenRefresh    AuditEventType = "TOKEN_REFRESH"
	AuditPasswordChange  AuditEventType = "PASSWORD_CHANGE"
	AuditPasswordReset   AuditEventType = "PASSWORD_RESET"
	AuditAccountLocked   AuditEventType = "ACCOUNT_LOCKED"
	AuditAccountUnlocked AuditEventType = "ACCOUNT_UNLOCKED"
	AuditSessionExpired  AuditEventType = "SESSION_EXPIRED"
	AuditMFAEnabled      AuditEventType = "MFA_ENABLED"
	AuditMFADisabled     AuditEventType = "MFA_DISABLED"

	// Data access
	AuditDataRead      AuditEventType = "DATA_READ"
	AuditDataCreate    AuditEventType = "DATA_CREATE"
	AuditDataUpdate    AuditEventType = "DATA_UPDATE"
	AuditDataDelete    AuditEventType = "DATA_DELETE"
	AuditDataExport    AuditEventType = "DATA_EXPORT"
	AuditDataImport    AuditEventType = "DATA_IMPORT"
	AuditBulkOperation AuditEventType = "BULK_OPERATION"

	// Security
	AuditAccessDenied       AuditEventType = "ACCESS_DENIED"
	AuditPermissionChange   AuditEventType = "PERMISSION_CHANGE"
	AuditRoleChange         AuditEventType = "ROLE_CHANGE"
	AuditSuspiciousActivity AuditEventType = "SUSPICIOUS_ACTIVITY"
	AuditRateLimitExceeded  AuditEventType = "RATE_LIMIT_EXCEEDED"
	AuditSecurityViolation  AuditEventType = "SECURITY_VIOLATION"
	AuditKeyRotation        AuditEventType = "KEY_ROTATION"

	// Business
	AuditSessionCreated      AuditEventType = "SESSION_CREATED"
	AuditSessionCompleted    AuditEventType = "SESSION_COMPLETED"
	AuditActionItemCreated   AuditEventType = "ACTION_ITEM_CREATED"
	AuditActionItemCompleted AuditEventType = "ACTION_ITEM_COMPLETED"
	AuditQuickNoteCreated    AuditEventType = "QUICK_NOTE_CREATED"
	AuditActionPlanCreated   AuditEventType = "ACTION_PLAN_CREATED"
	AuditActionPlanUpdated   AuditEventType = "ACTION_PLAN_UPDATED"
	AuditNotificationCreated AuditEventType = "NOTIFICATION_CREATED"
	AuditNotificationRead    AuditEventType = "NOTIFICATION_READ"
	AuditRoomJoined          AuditEventType = "ROOM_JOINED"
	AuditRoomJoinDenied      AuditEventType = "ROOM_JOIN_DENIED"

	// System
	AuditSystemStartup       AuditEventType = "SYSTEM_STARTUP"
	AuditSystemShutdown      AuditEventType = "SYSTEM_SHUTDOWN"
	AuditConfigChange        AuditEventType = "CONFIG_CHANGE"
	AuditRealtimeConnect     AuditEventType = "REALTIME_CONNECT"
	AuditRealtimeDisconnect  AuditEventType = "REALTIME_DISCONNECT"
	AuditRealtimeAuthFailure AuditEventType = "REALTIME_AUTH_FAILURE"
	AuditFlushFailure        AuditEventType = "AUDIT_FLUSH_FAILURE"
)

// RiskLevel is ordered: LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "SUCCESS"
	OutcomeFailure AuditOutcome = "FAILURE"
	OutcomePending AuditOutcome = "PENDING"
)

// Actor describes who caused an audit event and from where.
type Actor struct {
	UserID        *uuid.UUID `json:"userId,omitempty" db:"user_id"`
	SessionID     string     `json:"sessionId,omitempty" db:"session_id"`
	IPAddress     string     `json:"ipAddress,omitempty" db:"ip_address"`
	UserAgent     string     `json:"userAgent,omitempty" db:"user_agent"`
	RequestID     string     `json:"requestId,omitempty" db:"request_id"`
	CorrelationID string     `json:"correlationId,omitempty" db:"correlation_id"`
}

func ActorFor(userID uuid.UUID) Actor {
	return Actor{UserID: &userID}
}

// AuditEvent is an immutable record once created.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Type      AuditEventType `json:"eventType" db:"event_type"`
	Risk      RiskLevel      `json:"riskLevel" db:"risk_level"`
	Actor
	Outcome    AuditOutcome `json:"outcome" db:"outcome"`
	Resource   string       `json:"resource,omitempty" db:"resource"`
	ResourceID string       `json:"resourceId,omitempty" db:"resource_id"`
	Action     string       `json:"action,omitempty" db:"action"`
	Details    JSONMap      `json:"details,omitempty" db:"details"`
	Metadata   JSONMap      `json:"metadata,omitempty" db:"metadata"`
}

// AuditFilter selects flushed audit events. Zero fields do not filter.
type AuditFilter struct {
	TimeRange
	Pagination
	UserID     *uuid.UUID       `json:"userId,omitempty"`
	Types      []AuditEventType `json:"eventTypes,omitempty"`
	MinRisk    RiskLevel        `json:"minRisk,omitempty"`
	Outcome    AuditOutcome     `json:"outcome,omitempty"`
	Resource   string           `json:"resource,omitempty"`
	ResourceID string           `json:"resourceId,omitempty"`
}

// AuditSummary aggregates a filtered set of audit events.
type AuditSummary struct {
	Total        int64                    `json:"total"`
	ByType       map[AuditEventType]int64 `json:"byType"`
	ByRisk       map[RiskLevel]int64      `json:"byRisk"`
	ByOutcome    map[AuditOutcome]int64   `json:"byOutcome"`
	UniqueActors int64                    `json:"uniqueActors"`
	First        *time.Time               `json:"first,omitempty"`
	Last         *time.Time               `json:"last,omitempty"`
}

func NewAuditSummary() *AuditSummary {
	return &AuditSummary{
		ByType:    make(map[AuditEventType]int64),
		ByRisk:    make(map[RiskLevel]int64),
		ByOutcome: make(map[AuditOutcome]int64),
	}
}
