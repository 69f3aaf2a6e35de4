package port

import "github.com/dreschagin/link-preview/internal/application/dto"

// NotificationService определяет интерфейс для отправки уведомлений (Port)
// Реализация будет в Infrastructure слое (WebSocket Hub)
type NotificationService interface {
	// BroadcastCapture отправляет новый скриншот всем подключенным клиентам
	BroadcastCapture(capture *dto.CaptureDTO)

	// ClientCount возвращает количество подключенных клиентов
	ClientCount() int
}
