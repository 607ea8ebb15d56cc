package realtime

import (
	"go.uber.org/zap"

	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/types"
)

// Storage keys for persisted identity.
const (
	SessionIDKey = "chatSessionId"
	CookieIDKey  = "registerKaroCookieId"
	DeviceIDKey  = "deviceId"
)

// identityStore persists identity across reconnects: session id in the
// session-scoped KV, cookie and device ids in the durable KV. Storage
// failures are logged and never stop the channel.
type identityStore struct {
	session store.KV
	durable store.KV
	log     *zap.Logger
}

func (s identityStore) load() types.Identity {
	return types.Identity{
		SessionID: s.get(s.session, SessionIDKey),
		CookieID:  s.get(s.durable, CookieIDKey),
		DeviceID:  s.get(s.durable, DeviceIDKey),
	}
}

func (s identityStore) get(kv store.KV, key string) string {
	if kv == nil {
		return ""
	}
	v, err := kv.Get(key)
	if err != nil {
		s.log.Warn("failed to read identity", zap.String("key", key), zap.Error(err))
		return ""
	}
	return v
}

func (s identityStore) set(kv store.KV, key, value string) {
	if kv == nil || value == "" {
		return
	}
	if err := kv.Set(key, value); err != nil {
		s.log.Warn("failed to persist identity", zap.String("key", key), zap.Error(err))
	}
}

func (s identityStore) saveSessionID(id string) { s.set(s.session, SessionIDKey, id) }
func (s identityStore) saveCookieID(id string)  { s.set(s.durable, CookieIDKey, id) }
func (s identityStore) saveDeviceID(id string)  { s.set(s.durable, DeviceIDKey, id) }

// merge fills empty fields of cur from next. Set fields are never cleared.
func merge(cur, next types.Identity) types.Identity {
	if cur.SessionID == "" {
		cur.SessionID = next.SessionID
	}
	if cur.CookieID == "" {
		cur.CookieID = next.CookieID
	}
	if cur.DeviceID == "" {
		cur.DeviceID = next.DeviceID
	}
	return cur
}
