package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Store key names used by the original single-target layout.
const (
	KeyURL       = "url"
	KeyWord      = "word"
	KeyRunFlag   = "semaforo"
	KeyLastAlert = "last_alert"
	// KeyTargets holds the JSON list of non-default target IDs ever started.
	KeyTargets = "targets"
)

// Keys names the control store entries for one target.
type Keys struct {
	URL       string
	Word      string
	RunFlag   string
	LastAlert string
}

// KeysFor returns the keys for targetID. The default target keeps the bare
// key names so existing stores remain readable.
func KeysFor(targetID string) Keys {
	prefix := ""
	if id := strings.TrimSpace(targetID); id != "" && id != DefaultTarget {
		prefix = id + "/"
	}
	return Keys{
		URL:       prefix + KeyURL,
		Word:      prefix + KeyWord,
		RunFlag:   prefix + KeyRunFlag,
		LastAlert: prefix + KeyLastAlert,
	}
}

// LoadConfig reads the watch config for targetID. Absent keys yield empty
// fields; callers check Executable.
func LoadConfig(ctx context.Context, store ControlStore, targetID string) (WatchConfig, error) {
	keys := KeysFor(targetID)
	url, _, err := store.Get(ctx, keys.URL)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("read %s: %w", keys.URL, err)
	}
	word, _, err := store.Get(ctx, keys.Word)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("read %s: %w", keys.Word, err)
	}
	return WatchConfig{TargetURL: url, Keyword: word}, nil
}

// SaveConfig writes both config fields. Each key is written atomically; the
// pair is not.
func SaveConfig(ctx context.Context, store ControlStore, targetID string, cfg WatchConfig) error {
	keys := KeysFor(targetID)
	if err := store.Set(ctx, keys.URL, cfg.TargetURL); err != nil {
		return fmt.Errorf("write %s: %w", keys.URL, err)
	}
	if err := store.Set(ctx, keys.Word, cfg.Keyword); err != nil {
		return fmt.Errorf("write %s: %w", keys.Word, err)
	}
	return nil
}

// LoadRunState reads the run flag fresh from the store.
func LoadRunState(ctx context.Context, store ControlStore, targetID string) (RunState, error) {
	key := KeysFor(targetID).RunFlag
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return RunStatePaused, fmt.Errorf("read %s: %w", key, err)
	}
	return ParseRunState(raw, ok), nil
}

// SaveRunState writes the run flag.
func SaveRunState(ctx context.Context, store ControlStore, targetID string, state RunState) error {
	key := KeysFor(targetID).RunFlag
	if err := store.Set(ctx, key, string(state)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// LoadTargetIndex returns the default target followed by every indexed
// target ID, sorted.
func LoadTargetIndex(ctx context.Context, store ControlStore) ([]string, error) {
	raw, ok, err := store.Get(ctx, KeyTargets)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", KeyTargets, err)
	}
	var ids []string
	if ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyTargets, err)
		}
	}
	return normalizeIndex(append(ids, DefaultTarget)), nil
}

// AddToTargetIndex records targetID in the index. The read-modify-write is
// not atomic across processes; callers serialize in-process writers.
func AddToTargetIndex(ctx context.Context, store ControlStore, targetID string) error {
	ids, err := LoadTargetIndex(ctx, store)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == targetID {
			return nil
		}
	}
	ids = normalizeIndex(append(ids, targetID))
	stored := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != DefaultTarget {
			stored = append(stored, id)
		}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyTargets, err)
	}
	if err := store.Set(ctx, KeyTargets, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", KeyTargets, err)
	}
	return nil
}

func normalizeIndex(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			id = DefaultTarget
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
