package stock

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Manager реализует резервирование складских остатков поверх ProductRepository.
// Сериализацию конкурентных резервов одного товара обеспечивает репозиторий
// (блокировка строки либо мьютекс); менеджер отвечает за порядок и компенсацию.
type Manager struct {
	products domain.ProductRepository
	notifier domain.Notifier
	logger   *log.Entry
}

// NewManager создаёт менеджер резервирования.
func NewManager(products domain.ProductRepository, notifier domain.Notifier, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithField("component", "stock")
	}
	return &Manager{
		products: products,
		notifier: notifier,
		logger:   logger,
	}
}

// Reserve удерживает запрошенные количества по каждой позиции.
// Если какая-то позиция не проходит по доступному остатку, уже выполненные
// резервы этой корзины снимаются и возвращается ошибка нехватки.
func (m *Manager) Reserve(ctx context.Context, items []domain.SaleItemRequest) error {
	reserved := make([]domain.SaleItemRequest, 0, len(items))

	for _, item := range items {
		if _, err := m.products.Reserve(item.ProductID, item.Quantity); err != nil {
			m.rollbackPartial(reserved)
			return err
		}
		reserved = append(reserved, item)
	}

	return nil
}

// Release снимает резерв по всем позициям. Ошибки отдельных позиций логируются,
// но не прерывают снятие остальных: повторное или избыточное снятие безопасно,
// резерв не уходит ниже нуля.
func (m *Manager) Release(ctx context.Context, items []domain.SaleItemRequest) error {
	var lastErr error
	for _, item := range items {
		if err := m.products.Release(item.ProductID, item.Quantity); err != nil {
			m.logger.WithError(err).WithField("product_id", item.ProductID).Warn("release reservation failed")
			lastErr = err
		}
	}
	return lastErr
}

// Commit списывает проданные единицы и применяет политику низкого остатка.
// Вызывается только при финальном успехе продажи.
func (m *Manager) Commit(ctx context.Context, items []domain.SaleItemRequest) error {
	for _, item := range items {
		product, err := m.products.CommitSale(item.ProductID, item.Quantity)
		if err != nil {
			return fmt.Errorf("commit stock for product %s: %w", item.ProductID, err)
		}
		m.checkLowStock(ctx, product)
	}
	return nil
}

func (m *Manager) rollbackPartial(reserved []domain.SaleItemRequest) {
	for _, item := range reserved {
		if err := m.products.Release(item.ProductID, item.Quantity); err != nil {
			m.logger.WithError(err).WithField("product_id", item.ProductID).Warn("rollback partial reservation failed")
		}
	}
}

// checkLowStock уведомляет администратора при падении остатка ниже порога
// и инициирует дозаказ у поставщика, если он назначен.
func (m *Manager) checkLowStock(ctx context.Context, product domain.Product) {
	if product.LowStockThreshold <= 0 || product.Stock >= product.LowStockThreshold {
		return
	}

	message := fmt.Sprintf("Low stock alert: product %s (id %s) is below threshold, current stock %d",
		product.Name, product.ID, product.Stock)
	if err := m.notifier.NotifyAdmin(ctx, message); err != nil {
		m.logger.WithError(err).WithField("product_id", product.ID).Warn("low stock admin notification failed")
	}

	if product.SupplierID == "" {
		return
	}

	qty := m.reorderQuantity(product)
	if qty <= 0 {
		return
	}

	order := fmt.Sprintf("Auto-generated reorder for %s: %d units from supplier %s",
		product.Name, qty, product.SupplierID)
	if err := m.notifier.NotifyPurchasing(ctx, order); err != nil {
		m.logger.WithError(err).WithField("product_id", product.ID).Warn("reorder notification failed")
	}
}

// reorderQuantity считает объём дозаказа: до двойного порога,
// но не меньше минимального объёма заказа поставщика.
func (m *Manager) reorderQuantity(product domain.Product) int32 {
	suggested := product.LowStockThreshold*2 - product.Stock
	if product.LowStockMinimumOrder > 0 && suggested < product.LowStockMinimumOrder {
		return product.LowStockMinimumOrder
	}
	return suggested
}

var _ domain.StockManager = (*Manager)(nil)
