package ingest

import (
	"context"

	"github.com/your-org/admsgw/internal/models"
	"github.com/your-org/admsgw/internal/protocol"
)

// Scope names the push endpoint a batch arrived on and limits the record
// kinds processed from it.
type Scope string

const (
	ScopeAll           Scope = "cdata"
	ScopeBiometric     Scope = "fdata"
	ScopeDeviceInfo    Scope = "deviceinfo"
	ScopeCommandResult Scope = "devicecmd"
)

var scopeKinds = map[Scope]map[protocol.Kind]bool{
	ScopeAll: {
		protocol.KindAck:    true,
		protocol.KindInfo:   true,
		protocol.KindAttLog: true,
		protocol.KindUser:   true,
		protocol.KindFP:     true,
		protocol.KindFace:   true,
	},
	ScopeBiometric: {
		protocol.KindFP:   true,
		protocol.KindFace: true,
	},
	ScopeDeviceInfo: {
		protocol.KindInfo: true,
	},
	ScopeCommandResult: {
		protocol.KindAck:   true,
		protocol.KindError: true,
	},
}

func (s Scope) Allows(k protocol.Kind) bool {
	return scopeKinds[s][k]
}

// createsEmployee lists, per record kind that references an employee,
// whether the record may create it. Template records only attach to
// employees that already exist; attendance registers unknown badge holders.
// USER records are not listed: they carry the employee itself and always
// upsert it.
var createsEmployee = map[protocol.Kind]bool{
	protocol.KindAttLog: true,
	protocol.KindFP:     false,
	protocol.KindFace:   false,
}

// resolveEmployee returns the employee with code, creating it when the
// record kind permits. A nil employee means the record must be skipped.
func (e *Engine) resolveEmployee(ctx context.Context, kind protocol.Kind, code string) (*models.Employee, error) {
	if createsEmployee[kind] {
		return e.store.EnsureEmployee(ctx, code)
	}
	return e.store.GetEmployeeByCode(ctx, code)
}
