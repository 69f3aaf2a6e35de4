package port

import (
	"context"
	"time"
)

// StoredObject описывает объект, уже лежащий в хранилище.
type StoredObject struct {
	Key          string
	URL          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStorage определяет интерфейс для хранения скриншотов.
type ObjectStorage interface {
	// PutObject загружает объект и возвращает URL для чтения.
	PutObject(ctx context.Context, key, contentType string, body []byte) (string, error)

	// GetObjectURL строит URL для чтения уже загруженного объекта.
	GetObjectURL(ctx context.Context, key string) (string, error)

	// ListObjects возвращает последние объекты с префиксом, новые первыми.
	ListObjects(ctx context.Context, prefix string, limit int) ([]StoredObject, error)

	// Ping проверяет доступность бакета.
	Ping(ctx context.Context) error
}
