package dispatch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-dispatch/core"
)

// CatalogPack groups event type definitions contributed by one integration,
// merged into the service catalog at setup time.
type CatalogPack struct {
	Name        string
	Definitions []core.EventDefinition
}

// WorkerHookPack contributes a named delivery worker hook, so host
// applications can layer observers without touching pool construction.
type WorkerHookPack struct {
	Name string
	Hook core.DeliveryWorkerHook
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	catalogPacks map[string]CatalogPack
	hookPacks    map[string]WorkerHookPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		catalogPacks: map[string]CatalogPack{},
		hookPacks:    map[string]WorkerHookPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterCatalogPack(pack CatalogPack) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("dispatch: catalog pack name is required")
	}
	if len(pack.Definitions) == 0 {
		return fmt.Errorf("dispatch: catalog pack %q has no definitions", name)
	}
	for _, definition := range pack.Definitions {
		if strings.TrimSpace(definition.Type) == "" {
			return fmt.Errorf("dispatch: catalog pack %q contains a definition without a type", name)
		}
	}

	normalized := CatalogPack{
		Name:        name,
		Definitions: append([]core.EventDefinition(nil), pack.Definitions...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.catalogPacks[name]; exists {
		return fmt.Errorf("dispatch: catalog pack %q already registered", name)
	}
	h.catalogPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterWorkerHookPack(pack WorkerHookPack) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("dispatch: worker hook pack name is required")
	}
	if pack.Hook == nil {
		return fmt.Errorf("dispatch: worker hook pack %q has no hook", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.hookPacks[name]; exists {
		return fmt.Errorf("dispatch: worker hook pack %q already registered", name)
	}
	h.hookPacks[name] = WorkerHookPack{Name: name, Hook: pack.Hook}
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("dispatch: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("dispatch: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("dispatch: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("dispatch: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// CatalogDefinitions flattens every registered pack in pack-name order; the
// result is suitable for core.WithCatalog.
func (h *ExtensionHooks) CatalogDefinitions() []core.EventDefinition {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.catalogPacks))
	for name := range h.catalogPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []core.EventDefinition{}
	for _, name := range names {
		out = append(out, h.catalogPacks[name].Definitions...)
	}
	return out
}

// WorkerHooks returns the registered hooks in pack-name order for
// deterministic observer invocation.
func (h *ExtensionHooks) WorkerHooks() []core.DeliveryWorkerHook {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.hookPacks))
	for name := range h.hookPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]core.DeliveryWorkerHook, 0, len(names))
	for _, name := range names {
		out = append(out, h.hookPacks[name].Hook)
	}
	return out
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("dispatch: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
