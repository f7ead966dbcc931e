package ports

import (
	"context"

	"github.com/alejandrodnm/arenaescrow/internal/domain"
)

// Notifier publica el resultado de una liquidación.
type Notifier interface {
	// NotifySettlement recibe el plan materializado por Finalize.
	// En la implementación de consola, imprime una tabla formateada.
	NotifySettlement(ctx context.Context, s domain.Settlement) error
}
