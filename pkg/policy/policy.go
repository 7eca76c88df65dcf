// Package policy decides whether an actor may edit or delete a historical
// operational record. Evaluation is pure: the same record, actor and clock
// reading always produce the same decision.
package policy

import (
	"time"

	"github.com/nemonet1337/zaiFarmLedger/pkg/farm"
)

// PlatformRole is the platform-wide role of a user
// プラットフォーム全体でのロール
type PlatformRole string

const (
	PlatformRoleAdmin PlatformRole = "ADMIN"
	PlatformRoleUser  PlatformRole = "USER"
)

// FarmRole is the effective role of a user on one farm
// 農場ごとの実効ロール
type FarmRole string

const (
	FarmRoleOwner   FarmRole = "OWNER"
	FarmRoleManager FarmRole = "MANAGER"
	FarmRoleWorker  FarmRole = "WORKER"
	FarmRoleNone    FarmRole = "NONE"
)

// Denial reasons. Callers surface these verbatim.
const (
	ReasonOwnerWindow    = "Owner can only edit records within 3 days."
	ReasonManagerWindow  = "Manager can only edit records created today."
	ReasonWorkerNotOwner = "Workers can only edit their own records."
	ReasonWorkerWindow   = "Workers can only edit records created today."
	ReasonWorkerCutoff   = "Workers cannot edit records after 7 PM."
	ReasonNoRole         = "no role on this farm"
)

const (
	// OwnerEditWindow is the inclusive age limit for owner edits
	OwnerEditWindow = 3 * 24 * time.Hour
	// WorkerCutoffHour is the local hour from which workers are locked out (19:00 is denied)
	WorkerCutoffHour = 19
)

// Actor is the user attempting a mutation, with its farm role already resolved
// 操作を行うユーザー（農場ロール解決済み）
type Actor struct {
	ID           string       `json:"id"`
	PlatformRole PlatformRole `json:"platform_role"`
	FarmRole     FarmRole     `json:"farm_role"`
}

// Record is the part of an operational record the policy looks at
// ポリシー判定に必要な記録の属性
type Record struct {
	CreatedAt    time.Time `json:"created_at"`
	RecordedByID string    `json:"recorded_by_id"`
}

// Decision is the outcome of an evaluation
// 判定結果
type Decision struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason,omitempty"`
}

// Err converts a denial into a ForbiddenError, nil when authorized
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	return &farm.ForbiddenError{Reason: d.Reason}
}

func allow() Decision { return Decision{Authorized: true} }

func deny(reason string) Decision { return Decision{Authorized: false, Reason: reason} }

// ResolveFarmRole derives the effective farm role from ownership and membership
// 農場の所有者情報とメンバーシップから実効ロールを決定
func ResolveFarmRole(actorID, farmOwnerID string, membershipRole FarmRole, hasMembership bool) FarmRole {
	if actorID != "" && actorID == farmOwnerID {
		return FarmRoleOwner
	}
	if hasMembership {
		switch membershipRole {
		case FarmRoleOwner, FarmRoleManager, FarmRoleWorker:
			return membershipRole
		}
	}
	return FarmRoleNone
}

// Evaluate decides whether actor may mutate record at time now.
// Calendar-day comparisons use now's location.
// 記録の編集・削除可否を判定
func Evaluate(record Record, actor Actor, now time.Time) Decision {
	if actor.PlatformRole == PlatformRoleAdmin {
		return allow()
	}

	switch actor.FarmRole {
	case FarmRoleOwner:
		if now.Sub(record.CreatedAt) <= OwnerEditWindow {
			return allow()
		}
		return deny(ReasonOwnerWindow)

	case FarmRoleManager:
		if farm.SameDay(record.CreatedAt, now, now.Location()) {
			return allow()
		}
		return deny(ReasonManagerWindow)

	case FarmRoleWorker:
		if record.RecordedByID != actor.ID {
			return deny(ReasonWorkerNotOwner)
		}
		if !farm.SameDay(record.CreatedAt, now, now.Location()) {
			return deny(ReasonWorkerWindow)
		}
		if now.Hour() >= WorkerCutoffHour {
			return deny(ReasonWorkerCutoff)
		}
		return allow()
	}

	return deny(ReasonNoRole)
}
