package native

import (
	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
)

// setPropertyAction sets a profile property. An empty value removes it.
type setPropertyAction struct {
	engine.Memento
}

const (
	keyPrevious = "previous"
	keyExisted  = "existed"
	keyKey      = "key"
)

func (a *setPropertyAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "setProperty", "key")
	if st != nil {
		return st
	}
	if params.Profile == nil {
		return status.Errorf(source, "setProperty: no profile")
	}
	key := v[0]
	value := params.Value("value")

	previous, existed := params.Profile.Property(key)
	if value == "" {
		params.Profile.RemoveProperty(key)
	} else {
		params.Profile.SetProperty(key, value)
	}
	a.Put(keyKey, key)
	a.Put(keyPrevious, previous)
	a.Put(keyExisted, existed)
	return status.OK()
}

func (a *setPropertyAction) Undo(params engine.Parameters) *status.Status {
	key, ok := a.Get(keyKey)
	if !ok || params.Profile == nil {
		return status.OK()
	}
	previous, _ := a.Get(keyPrevious)
	existed, _ := a.Get(keyExisted)
	a.Remove(keyKey)
	a.Remove(keyPrevious)
	a.Remove(keyExisted)

	if existed.(bool) {
		params.Profile.SetProperty(key.(string), previous.(string))
	} else {
		params.Profile.RemoveProperty(key.(string))
	}
	return status.OK()
}
