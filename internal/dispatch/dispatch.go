// Package dispatch routes notify messages to handlers by method id.
package dispatch

import (
	"fmt"
	"sort"

	"firestige.xyz/resmeter/internal/frame"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/metrics"
)

// Method ids of the combat service.
const (
	MethodSyncNearEntities       uint32 = 0x06
	MethodSyncContainerData      uint32 = 0x15
	MethodSyncContainerDirtyData uint32 = 0x16
	MethodSyncServerTime         uint32 = 0x2b
	MethodSyncNearDeltaInfo      uint32 = 0x2d
	MethodSyncToMeDeltaInfo      uint32 = 0x2e
)

var methodNames = map[uint32]string{
	MethodSyncNearEntities:       "SyncNearEntities",
	MethodSyncContainerData:      "SyncContainerData",
	MethodSyncContainerDirtyData: "SyncContainerDirtyData",
	MethodSyncServerTime:         "SyncServerTime",
	MethodSyncNearDeltaInfo:      "SyncNearDeltaInfo",
	MethodSyncToMeDeltaInfo:      "SyncToMeDeltaInfo",
}

// MethodName returns the known name of a method id.
func MethodName(id uint32) string {
	if name, ok := methodNames[id]; ok {
		return name
	}
	return fmt.Sprintf("method_%#x", id)
}

// Handler decodes one notify payload.
type Handler func(payload []byte) error

type route struct {
	name    string
	handler Handler
}

// Dispatcher implements frame.NotifyHandler. Handlers are registered during
// setup; dispatching does not lock.
type Dispatcher struct {
	routes map[uint32]route
}

func New() *Dispatcher {
	return &Dispatcher{routes: make(map[uint32]route)}
}

// Register binds a handler to a method id, replacing any previous one.
func (d *Dispatcher) Register(methodID uint32, name string, h Handler) {
	if name == "" {
		name = MethodName(methodID)
	}
	d.routes[methodID] = route{name: name, handler: h}
}

// HandleNotify runs the handler for n.MethodID. Unknown methods are skipped.
func (d *Dispatcher) HandleNotify(n frame.Notify) error {
	r, ok := d.routes[n.MethodID]
	if !ok {
		metrics.NotifyTotal.WithLabelValues(MethodName(n.MethodID)).Inc()
		if log.GetLogger().IsDebugEnabled() {
			log.GetLogger().
				WithField("method", MethodName(n.MethodID)).
				WithField("len", len(n.Payload)).
				Debug("notify without handler skipped")
		}
		return nil
	}
	metrics.NotifyTotal.WithLabelValues(r.name).Inc()
	if err := r.handler(n.Payload); err != nil {
		return fmt.Errorf("%s: %w", r.name, err)
	}
	return nil
}

// Methods lists registered method ids in ascending order.
func (d *Dispatcher) Methods() []uint32 {
	ids := make([]uint32, 0, len(d.routes))
	for id := range d.routes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
