package store

// KV is the persistence collaborator behind client identity. Get returns ""
// with a nil error when the key is absent.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}
