package engine

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/errors"
	"github.com/wippyai/ndr-runtime/metadata"
)

// interface registrations are process wide, like endpoints
var (
	ifMu       sync.RWMutex
	interfaces = map[uuid.UUID][]*metadata.ServerBundle{}
)

// RegisterInterface registers b's interface version with the process.
// Registering the same interface version twice reports
// StatusAlreadyRegistered. A registered interface is callable on the
// endpoints that Serve it.
func RegisterInterface(b *metadata.ServerBundle) error {
	if err := b.Verify(); err != nil {
		return err
	}
	id := b.ID()
	ifMu.Lock()
	defer ifMu.Unlock()
	for _, have := range interfaces[id.ID] {
		if have.ID().Version == id.Version {
			return errors.New(errors.PhaseRegister, errors.KindRegistration).
				Status(StatusAlreadyRegistered).Detail("interface %s v%s", id.ID, id.Version).Build()
		}
	}
	interfaces[id.ID] = append(interfaces[id.ID], b)
	Logger().Debug("interface registered",
		zap.String("interface", b.Compiled.Interface.Name),
		zap.Stringer("id", id.ID),
		zap.Stringer("version", id.Version))
	return nil
}

// UnregisterInterface removes a registration. Calls already dispatched
// keep the bundle they resolved.
func UnregisterInterface(id metadata.SyntaxID) error {
	ifMu.Lock()
	defer ifMu.Unlock()
	list := interfaces[id.ID]
	for i, have := range list {
		if have.ID().Version == id.Version {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(interfaces, id.ID)
			} else {
				interfaces[id.ID] = list
			}
			return nil
		}
	}
	return errors.New(errors.PhaseRegister, errors.KindNotFound).
		Status(StatusUnknownInterface).Detail("interface %s v%s", id.ID, id.Version).Build()
}

// registered reports whether b itself is the current registration of its
// interface version.
func registered(b *metadata.ServerBundle) bool {
	ifMu.RLock()
	defer ifMu.RUnlock()
	for _, have := range interfaces[b.ID().ID] {
		if have == b {
			return true
		}
	}
	return false
}

// bestMatch finds the bundle serving a client that was built against id:
// same identifier, same major version, server minor not older.
func bestMatch(bundles []*metadata.ServerBundle, id metadata.SyntaxID) (*metadata.ServerBundle, bool) {
	var best *metadata.ServerBundle
	for _, b := range bundles {
		v := b.ID().Version
		if b.ID().ID != id.ID || !id.Version.Compatible(v) {
			continue
		}
		if best == nil || v.Minor > best.ID().Version.Minor {
			best = b
		}
	}
	return best, best != nil
}
