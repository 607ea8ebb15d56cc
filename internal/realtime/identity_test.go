package realtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"registerkaro-chat/internal/store"
	"registerkaro-chat/internal/types"
)

type brokenKV struct{}

func (brokenKV) Get(string) (string, error) { return "", errors.New("disk unavailable") }
func (brokenKV) Set(string, string) error   { return errors.New("disk unavailable") }
func (brokenKV) Remove(string) error        { return errors.New("disk unavailable") }

func TestIdentityStore_RoundTrip(t *testing.T) {
	ids := identityStore{
		session: store.NewMemoryStore(0),
		durable: store.NewMemoryStore(0),
		log:     zap.NewNop(),
	}
	ids.saveSessionID("s-1")
	ids.saveCookieID("c-1")
	ids.saveDeviceID("device_1")
	ids.saveCookieID("")

	assert.Equal(t, types.Identity{SessionID: "s-1", CookieID: "c-1", DeviceID: "device_1"}, ids.load())
}

func TestIdentityStore_ToleratesStorageFailures(t *testing.T) {
	ids := identityStore{session: brokenKV{}, durable: nil, log: zap.NewNop()}
	ids.saveSessionID("s-1")
	ids.saveDeviceID("device_1")
	assert.Equal(t, types.Identity{}, ids.load())
}

func TestMerge(t *testing.T) {
	cur := types.Identity{SessionID: "live"}
	got := merge(cur, types.Identity{SessionID: "stored", CookieID: "c", DeviceID: "d"})
	assert.Equal(t, types.Identity{SessionID: "live", CookieID: "c", DeviceID: "d"}, got)
}
