package kitedb

import "sync"

// schemaBimap is a name<->id bijection for one schema namespace (label,
// edge type, or prop key). Once assigned, ids are stable for the file's
// lifetime (spec §3 "Schema: three name<->id bimaps").
type schemaBimap struct {
	mu      sync.RWMutex
	nameID  map[string]uint32
	idName  map[uint32]string
	nextID  uint32
}

func newSchemaBimap() *schemaBimap {
	return &schemaBimap{
		nameID: make(map[string]uint32),
		idName: make(map[uint32]string),
		nextID: 1,
	}
}

// IDFor returns name's id, creating it if absent. created reports whether a
// new id was just assigned, so the caller can stage a NewLabels/NewEtypes/
// NewPropkeys schema-def record (spec §4.6).
func (b *schemaBimap) IDFor(name string) (id uint32, created bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.nameID[name]; ok {
		return id, false
	}
	id = b.nextID
	b.nextID++
	b.nameID[name] = id
	b.idName[id] = name
	return id, true
}

// Lookup returns name's id without creating it.
func (b *schemaBimap) Lookup(name string) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.nameID[name]
	return id, ok
}

// Name returns id's name, if assigned.
func (b *schemaBimap) Name(id uint32) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.idName[id]
	return name, ok
}

// Define registers an explicit (id, name) pair, used when replaying a
// DefineLabel/Etype/Propkey WAL record or applying a replicated schema def,
// so recovery reproduces the same id assignment the primary made.
func (b *schemaBimap) Define(id uint32, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nameID[name] = id
	b.idName[id] = name
	if id >= b.nextID {
		b.nextID = id + 1
	}
}

// schema bundles the three namespaces a KiteDB file owns.
type schema struct {
	Labels   *schemaBimap
	Etypes   *schemaBimap
	Propkeys *schemaBimap
}

func newSchema() *schema {
	return &schema{
		Labels:   newSchemaBimap(),
		Etypes:   newSchemaBimap(),
		Propkeys: newSchemaBimap(),
	}
}
