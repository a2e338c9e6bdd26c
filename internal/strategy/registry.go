package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"vela/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Profile 描述配置文件中声明的一份策略参数。
type Profile struct {
	Name        string         `mapstructure:"-" yaml:"-"`
	Kind        string         `mapstructure:"kind" yaml:"kind"`
	Description string         `mapstructure:"description" yaml:"description"`
	Params      map[string]any `mapstructure:"params" yaml:"params"`
	Default     bool           `mapstructure:"default" yaml:"default"`
}

// FileConfig 映射 strategies 配置文件。
type FileConfig struct {
	Strategies map[string]Profile `mapstructure:"strategies" yaml:"strategies"`
}

// ProfileSnapshot 对外暴露的只读 profile 快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(ProfileSnapshot)

// Factory 按 profile 参数构造策略实例。
type Factory func(params map[string]any) (Strategy, error)

type factoryEntry struct {
	build  Factory
	schema *jsonschema.Schema
}

// Registry 管理策略 profile：从 YAML 加载、按 schema 校验参数、
// 监听文件热更新，并按名字构造策略实例。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	factories map[string]factoryEntry
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并监听更新。内置策略类型已注册好，
// 调用方可再补充自定义 Factory。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy config failed: %w", err)
	}
	r := &Registry{path: path, v: v, factories: make(map[string]factoryEntry)}
	r.registerBuiltins()
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy profile reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// NewStaticRegistry 构造不绑定配置文件的 registry，只含内置策略，
// 供回测直接按 kind 实例化。
func NewStaticRegistry() *Registry {
	r := &Registry{factories: make(map[string]factoryEntry)}
	r.registerBuiltins()
	return r
}

// RegisterFactory 注册策略类型。schema 为 nil 时跳过参数校验。
func (r *Registry) RegisterFactory(kind string, schema map[string]any, build Factory) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || build == nil {
		return fmt.Errorf("factory 注册参数非法")
	}
	entry := factoryEntry{build: build}
	if schema != nil {
		compiled, err := compileSchema(schema)
		if err != nil {
			return fmt.Errorf("compile schema for %s failed: %w", kind, err)
		}
		entry.schema = compiled
	}
	r.mu.Lock()
	r.factories[kind] = entry
	r.mu.Unlock()
	return nil
}

// SnapshotProfiles 返回当前 profile 快照（深拷贝）。
func (r *Registry) SnapshotProfiles() ProfileSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	snap := cloneSnapshot(r.snapshot)
	r.mu.Unlock()
	go func() {
		defer safeRecover("strategy profile listener")
		fn(snap)
	}()
}

// Build 按 profile 名构造策略实例。name 为空时使用 default profile，
// 没有 default 则回落到 kind 同名 profile。
func (r *Registry) Build(name string) (Strategy, error) {
	r.mu.RLock()
	profile, ok := r.lookupLocked(name)
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy profile 不存在: %q", name)
	}
	return r.BuildFromProfile(profile)
}

// BuildFromProfile 按给定 profile 构造策略实例并校验参数。
func (r *Registry) BuildFromProfile(profile Profile) (Strategy, error) {
	kind := strings.ToLower(strings.TrimSpace(profile.Kind))
	if kind == "" {
		kind = strings.ToLower(profile.Name)
	}
	r.mu.RLock()
	entry, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未注册的策略类型: %q", kind)
	}
	if entry.schema != nil {
		if err := entry.schema.Validate(normalizeParams(profile.Params)); err != nil {
			return nil, fmt.Errorf("profile %s 参数校验失败: %w", profile.Name, err)
		}
	}
	return entry.build(profile.Params)
}

// Kinds 返回已注册的策略类型（排序后）。
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookupLocked(name string) (Profile, bool) {
	if name != "" {
		p, ok := r.snapshot.Profiles[name]
		return p, ok
	}
	for _, p := range r.snapshot.Profiles {
		if p.Default {
			return p, true
		}
	}
	return Profile{}, false
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	normalized := make(map[string]Profile, len(cfg.Strategies))
	for name, def := range cfg.Strategies {
		def.Name = name
		if strings.TrimSpace(def.Kind) == "" {
			def.Kind = name
		}
		def.Kind = strings.ToLower(strings.TrimSpace(def.Kind))
		normalized[name] = def
	}
	r.mu.Lock()
	r.snapshot = ProfileSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	r.mu.Unlock()
	logger.Infof("strategy registry 加载 %d 个 profile (%s)", len(normalized), r.path)
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("strategy profile listener")
			cb(snap)
		}(fn)
	}
}

func (r *Registry) registerBuiltins() {
	smaSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fast_period": map[string]any{"type": "integer", "minimum": 1},
			"slow_period": map[string]any{"type": "integer", "minimum": 2},
		},
		"additionalProperties": false,
	}
	_ = r.RegisterFactory("sma_crossover", smaSchema, func(params map[string]any) (Strategy, error) {
		return NewSMACrossover(intParam(params, "fast_period", 10), intParam(params, "slow_period", 50)), nil
	})
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy config failed: %w", err)
	}
	return cfg, nil
}

func cloneSnapshot(in ProfileSnapshot) ProfileSnapshot {
	out := ProfileSnapshot{Version: in.Version, LoadedAt: in.LoadedAt}
	out.Profiles = make(map[string]Profile, len(in.Profiles))
	for k, v := range in.Profiles {
		params := make(map[string]any, len(v.Params))
		for pk, pv := range v.Params {
			params[pk] = pv
		}
		v.Params = params
		out.Profiles[k] = v
	}
	return out
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// normalizeParams 把 YAML 解出的 int 统一成 jsonschema 能比较的
// json.Number 风格 float64。
func normalizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = normalizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = normalizeParams(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return v
	}
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
