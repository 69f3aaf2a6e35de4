package valueobject

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultKeyFolder = "link-preview"
	PNGContentType   = "image/png"
)

// ObjectKey ключ объекта скриншота в хранилище: <folder>/screenshot-<unix-ms>.png
type ObjectKey struct {
	folder    string
	timestamp int64
}

func (k ObjectKey) String() string {
	return fmt.Sprintf("%s/screenshot-%d.png", k.folder, k.timestamp)
}

// Timestamp возвращает миллисекундную метку, закодированную в ключе
func (k ObjectKey) Timestamp() time.Time {
	return time.UnixMilli(k.timestamp).UTC()
}

var ErrInvalidObjectKey = errors.New("invalid object key")

// ParseObjectKey разбирает ключ вида <folder>/screenshot-<unix-ms>.png
func ParseObjectKey(key string) (ObjectKey, error) {
	key = strings.TrimSpace(key)
	folder, name := path.Split(key)
	folder = strings.Trim(folder, "/")

	digits, ok := strings.CutPrefix(name, "screenshot-")
	if ok {
		digits, ok = strings.CutSuffix(digits, ".png")
	}
	if !ok || folder == "" {
		return ObjectKey{}, fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}

	ms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || ms <= 0 {
		return ObjectKey{}, fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}
	return ObjectKey{folder: folder, timestamp: ms}, nil
}

// KeyGenerator выдает ключи со строго возрастающей миллисекундной меткой,
// поэтому два запроса в одну и ту же миллисекунду не перетирают объекты друг друга.
type KeyGenerator struct {
	folder string
	now    func() time.Time

	mu   sync.Mutex
	last int64
}

func NewKeyGenerator(folder string) *KeyGenerator {
	return newKeyGeneratorWithClock(folder, time.Now)
}

func newKeyGeneratorWithClock(folder string, now func() time.Time) *KeyGenerator {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		folder = DefaultKeyFolder
	}
	return &KeyGenerator{folder: folder, now: now}
}

// Next возвращает следующий уникальный ключ
func (g *KeyGenerator) Next() ObjectKey {
	ms := g.now().UnixMilli()

	g.mu.Lock()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return ObjectKey{folder: g.folder, timestamp: ms}
}

// Folder возвращает логическую папку ключей
func (g *KeyGenerator) Folder() string {
	return g.folder
}
