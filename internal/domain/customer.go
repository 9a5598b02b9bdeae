package domain

import "time"

// Customer — покупатель с накопительным балансом бонусных баллов.
// LoyaltyPoints всегда неотрицателен: списывается при погашении в продаже,
// начисляется долей от суммы успешно завершённой продажи.
type Customer struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	LoyaltyPoints int32
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// User — кассир или администратор, оформляющий продажу.
// Identity-подсистема внешняя; здесь достаточно ссылки.
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

// AuditRecord фиксирует действие над сущностью для журнала аудита.
type AuditRecord struct {
	EntityType string
	EntityID   string
	Action     string
	Actor      string
	Details    string
	Occurred   time.Time
}
