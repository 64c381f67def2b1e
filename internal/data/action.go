package data

import (
	"encoding/json"
	"errors"
	"io"
)

// Action is an immutable download or remove request for one content id.
// The zero CacheKey and empty StreamKeys are both valid: an empty stream
// key set means "all streams".
type Action struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	URI        string      `json:"uri"`
	CacheKey   string      `json:"cacheKey,omitempty"`
	IsRemove   bool        `json:"isRemove,omitempty"`
	StreamKeys []StreamKey `json:"streamKeys,omitempty"`
	Data       []byte      `json:"data,omitempty"`
}

// StreamKey identifies one stream inside a piece of content.
type StreamKey struct {
	Period int `json:"period"`
	Group  int `json:"group"`
	Track  int `json:"track"`
}

type Actions []*Action

var (
	ErrNotFound     = errors.New("download not found")
	ErrInvalidID    = errors.New("content id is required")
	ErrInvalidType  = errors.New("action type is required")
	ErrInvalidURI   = errors.New("uri is required")
	ErrTypeMismatch = errors.New("action type mismatch for content id")
)

// Validate checks the fields every action must carry.
func (a *Action) Validate() error {
	if a.ID == "" {
		return ErrInvalidID
	}
	if a.Type == "" {
		return ErrInvalidType
	}
	if a.URI == "" {
		return ErrInvalidURI
	}
	return nil
}

// NewDownloadAction builds a download request for the given content.
func NewDownloadAction(id, typ, uri, cacheKey string, keys []StreamKey, custom []byte) *Action {
	return &Action{
		ID:         id,
		Type:       typ,
		URI:        uri,
		CacheKey:   cacheKey,
		StreamKeys: cloneKeys(keys),
		Data:       append([]byte(nil), custom...),
	}
}

// NewRemoveAction builds a remove request for the given content.
func NewRemoveAction(id, typ, uri, cacheKey string) *Action {
	return &Action{
		ID:       id,
		Type:     typ,
		URI:      uri,
		CacheKey: cacheKey,
		IsRemove: true,
	}
}

// MergeStreamKeys unions two stream key sets. An empty set selects all
// streams and therefore absorbs the other set.
func MergeStreamKeys(a, b []StreamKey) []StreamKey {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	merged := cloneKeys(a)
	for _, k := range b {
		if !containsKey(merged, k) {
			merged = append(merged, k)
		}
	}
	return merged
}

func containsKey(keys []StreamKey, k StreamKey) bool {
	for _, have := range keys {
		if have == k {
			return true
		}
	}
	return false
}

func cloneKeys(keys []StreamKey) []StreamKey {
	if keys == nil {
		return nil
	}
	return append([]StreamKey(nil), keys...)
}

func (a *Action) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(a) }

func (a *Action) FromJSON(r io.Reader) error { return json.NewDecoder(r).Decode(a) }
