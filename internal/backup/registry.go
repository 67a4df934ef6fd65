package backup

import (
	"context"
	"sort"
	"sync"
)

// Namespaces groups the three strategy namespaces a registry serves
type Namespaces struct {
	Backup  string
	Restore string
	Storage string
}

// NamespacesFromConfig returns the namespaces configured for the agent
func NamespacesFromConfig(sc StrategiesConfig) Namespaces {
	return Namespaces{
		Backup:  sc.BackupNamespace,
		Restore: sc.RestoreNamespace,
		Storage: sc.StorageNamespace,
	}
}

// Registry resolves strategy descriptors to backup types, restore types and
// storage factories.
type Registry struct {
	mu       sync.RWMutex
	backups  map[StrategyKey]BackupType
	restores map[StrategyKey]RestoreType
	storages map[StrategyKey]StorageFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		backups:  make(map[StrategyKey]BackupType),
		restores: make(map[StrategyKey]RestoreType),
		storages: make(map[StrategyKey]StorageFactory),
	}
}

// NewDefaultRegistry creates a registry holding the built-in strategies under ns
func NewDefaultRegistry(ns Namespaces) *Registry {
	r := NewRegistry()

	for _, bt := range BuiltinBackupTypes() {
		r.RegisterBackup(StrategyKey{Namespace: ns.Backup, Name: bt.Name}, bt)
	}
	for _, rt := range BuiltinRestoreTypes() {
		r.RegisterRestore(StrategyKey{Namespace: ns.Restore, Name: rt.Name}, rt)
	}
	for name, factory := range builtinStorageFactories() {
		r.RegisterStorage(StrategyKey{Namespace: ns.Storage, Name: string(name)}, factory)
	}

	return r
}

// NewRegistryFromConfig creates the default registry and adds the
// user-defined types declared in configuration. A configured type replaces a
// built-in of the same name.
func NewRegistryFromConfig(sc StrategiesConfig) *Registry {
	ns := NamespacesFromConfig(sc)
	r := NewDefaultRegistry(ns)

	for _, c := range sc.Backup {
		r.RegisterBackup(StrategyKey{Namespace: ns.Backup, Name: c.Name}, c.toBackupType())
	}
	for _, c := range sc.Restore {
		r.RegisterRestore(StrategyKey{Namespace: ns.Restore, Name: c.Name}, c.toRestoreType())
	}

	return r
}

func (r *Registry) RegisterBackup(key StrategyKey, bt BackupType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups[key] = bt
}

func (r *Registry) RegisterRestore(key StrategyKey, rt RestoreType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restores[key] = rt
}

func (r *Registry) RegisterStorage(key StrategyKey, factory StorageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storages[key] = factory
}

// Backup looks up a backup type
func (r *Registry) Backup(namespace, name string) (BackupType, error) {
	key := StrategyKey{Namespace: namespace, Name: name}

	r.mu.RLock()
	defer r.mu.RUnlock()

	bt, ok := r.backups[key]
	if !ok {
		return BackupType{}, NewUnknownStrategyError("backup", key)
	}
	return bt, nil
}

// Restore looks up a restore type
func (r *Registry) Restore(namespace, name string) (RestoreType, error) {
	key := StrategyKey{Namespace: namespace, Name: name}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rt, ok := r.restores[key]
	if !ok {
		return RestoreType{}, NewUnknownStrategyError("restore", key)
	}
	return rt, nil
}

// Storage looks up a storage factory
func (r *Registry) Storage(namespace, name string) (StorageFactory, error) {
	key := StrategyKey{Namespace: namespace, Name: name}

	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.storages[key]
	if !ok {
		return nil, NewUnknownStrategyError("storage", key)
	}
	return factory, nil
}

// OpenStorage resolves a storage strategy and builds it
func (r *Registry) OpenStorage(ctx context.Context, namespace, name string, opts StorageOptions) (Storage, error) {
	factory, err := r.Storage(namespace, name)
	if err != nil {
		return nil, err
	}
	return factory(ctx, opts)
}

// Keys lists every registered strategy, sorted, grouped by kind
func (r *Registry) Keys() map[string][]StrategyKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := map[string][]StrategyKey{}
	for k := range r.backups {
		keys["backup"] = append(keys["backup"], k)
	}
	for k := range r.restores {
		keys["restore"] = append(keys["restore"], k)
	}
	for k := range r.storages {
		keys["storage"] = append(keys["storage"], k)
	}

	for _, list := range keys {
		sort.Slice(list, func(i, j int) bool {
			return list[i].String() < list[j].String()
		})
	}
	return keys
}
