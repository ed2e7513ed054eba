package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"presencedb/pkg/logger"
	"presencedb/pkg/models"

	"github.com/cockroachdb/pebble"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a message, conversation or group does not
// exist in the store.
var ErrNotFound = errors.New("not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func msgKey(convID string, index int) []byte {
	// Zero-padded index keeps pebble iteration in sequence order.
	return []byte(fmt.Sprintf("conv:%s:msg:%012d", convID, index))
}

func metaKey(convID string) []byte {
	return []byte("conv:" + convID + ":meta")
}

func groupKey(groupID string) []byte {
	return []byte("group:" + groupID)
}

var settingsKey = []byte("settings")

// SaveMessage writes one message record at its index slot.
func SaveMessage(convID string, msg models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := msgKey(convID, msg.Index)
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", convID, "index", msg.Index, "error", err)
		return err
	}
	return nil
}

// SaveMessages writes a batch of message records in one pebble batch.
func SaveMessages(convID string, msgs []models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	b := db.NewBatch()
	defer b.Close()
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message %d: %w", m.Index, err)
		}
		if err := b.Set(msgKey(convID, m.Index), data, nil); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("save_messages_failed", "conversation", convID, "count", len(msgs), "error", err)
		return err
	}
	logger.Debug("messages_saved", "conversation", convID, "count", len(msgs))
	return nil
}

// GetMessage returns the message stored at index, or ErrNotFound.
func GetMessage(convID string, index int) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(msgKey(convID, index))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// ListMessages returns all messages of a conversation in index order.
func ListMessages(convID string) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:" + convID + ":msg:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("list_messages_invalid_json", "conversation", convID, "key", string(iter.Key()), "error", err)
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// DeleteMessageRange removes messages [start,end] and compacts the indices
// of the remaining tail so the sequence stays dense. Returns the number of
// removed records.
func DeleteMessageRange(convID string, start, end int) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	msgs, err := ListMessages(convID)
	if err != nil {
		return 0, err
	}
	if start < 0 || end >= len(msgs) || start > end {
		return 0, ErrNotFound
	}
	b := db.NewBatch()
	defer b.Close()
	// drop the whole stored tail from start, then rewrite the survivors
	for i := start; i < len(msgs); i++ {
		if err := b.Delete(msgKey(convID, i), nil); err != nil {
			return 0, err
		}
	}
	idx := start
	for i := end + 1; i < len(msgs); i++ {
		m := msgs[i]
		m.Index = idx
		data, merr := json.Marshal(m)
		if merr != nil {
			return 0, merr
		}
		if err := b.Set(msgKey(convID, idx), data, nil); err != nil {
			return 0, err
		}
		idx++
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("delete_message_range_failed", "conversation", convID, "start", start, "end", end, "error", err)
		return 0, err
	}
	removed := end - start + 1
	logger.Info("message_range_deleted", "conversation", convID, "start", start, "end", end, "removed", removed)
	return removed, nil
}

// SaveMeta stores per-conversation metadata.
func SaveMeta(convID string, meta models.ConvMeta) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := db.Set(metaKey(convID), data, pebble.Sync); err != nil {
		logger.Error("save_meta_failed", "conversation", convID, "error", err)
		return err
	}
	return nil
}

// GetMeta returns the stored conversation metadata, or a zero value when
// none has been written yet.
func GetMeta(convID string) (models.ConvMeta, error) {
	var meta models.ConvMeta
	if db == nil {
		return meta, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(metaKey(convID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return meta, nil
		}
		return meta, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &meta); err != nil {
		return meta, fmt.Errorf("invalid meta JSON: %w", err)
	}
	return meta, nil
}

// SaveGroup stores a participant roster.
func SaveGroup(g models.Group) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := db.Set(groupKey(g.ID), data, pebble.Sync); err != nil {
		logger.Error("save_group_failed", "group", g.ID, "error", err)
		return err
	}
	logger.Info("group_saved", "group", g.ID, "members", len(g.Members))
	return nil
}

// GetGroup returns the roster stored for a group ID, or ErrNotFound.
func GetGroup(groupID string) (models.Group, error) {
	var g models.Group
	if db == nil {
		return g, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(groupKey(groupID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return g, ErrNotFound
		}
		return g, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &g); err != nil {
		return g, fmt.Errorf("invalid group JSON: %w", err)
	}
	return g, nil
}

// SaveSettings persists the process-wide presence settings.
func SaveSettings(s models.Settings) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return db.Set(settingsKey, data, pebble.Sync)
}

// GetSettings returns the persisted settings; ok is false when none exist.
func GetSettings() (models.Settings, bool, error) {
	var s models.Settings
	if db == nil {
		return s, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(settingsKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return s, false, nil
		}
		return s, false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &s); err != nil {
		return s, false, fmt.Errorf("invalid settings JSON: %w", err)
	}
	return s, true, nil
}

var (
	systemVersionKey       = []byte("system:version")
	migrationInProgressKey = []byte("system:migration_in_progress")
)

// GetSystemVersion returns the stored schema version; empty when unset.
func GetSystemVersion() (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(systemVersionKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	return string(v), nil
}

// SetSystemVersion records the running schema version.
func SetSystemVersion(v string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(systemVersionKey, []byte(v), pebble.Sync)
}

// GetMigrationInProgress reports whether an upgrade run was interrupted.
func GetMigrationInProgress() (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(migrationInProgressKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	defer closer.Close()
	return string(v) == "1", nil
}

// SetMigrationInProgress flips the interrupted-upgrade marker.
func SetMigrationInProgress(on bool) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	v := "0"
	if on {
		v = "1"
	}
	return db.Set(migrationInProgressKey, []byte(v), pebble.Sync)
}

// ListConversations returns the IDs of all conversations that have either
// metadata or at least one message.
func ListConversations() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	last := ""
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		rest := k[len(prefix):]
		i := bytes.IndexByte(rest, ':')
		if i <= 0 {
			continue
		}
		id := string(rest[:i])
		if id != last {
			out = append(out, id)
			last = id
		}
	}
	return out, iter.Error()
}
