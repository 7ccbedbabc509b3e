// Package fulfillment persists allocation plans as orders, domain records
// and inbox records, and drives deferred orders to completion once their
// domains arrive.
package fulfillment

import (
	"errors"
	"time"

	"github.com/foxzi/mailfleet/internal/allocation"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	// StatusAwaitingDomains marks a deferred order holding only an estimate
	StatusAwaitingDomains OrderStatus = "awaiting_domains"
	// StatusFulfilled marks an order whose inboxes have been recorded
	StatusFulfilled OrderStatus = "fulfilled"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrEmailTaken       = errors.New("email address already allocated")
	ErrOrderNotAwaiting = errors.New("order is not awaiting domains")
)

// Order is one fulfilled or pending purchase
type Order struct {
	ID               string                `json:"id"`
	Tier             allocation.Tier       `json:"tier"`
	SourceMode       allocation.SourceMode `json:"source_mode"`
	TotalInboxes     int                   `json:"total_inboxes"`
	InboxesPerDomain *int                  `json:"inboxes_per_domain,omitempty"`
	Personas         []allocation.Persona  `json:"personas"`
	DomainsNeeded    int                   `json:"domains_needed"`
	Status           OrderStatus           `json:"status"`
	Message          string                `json:"message"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// DomainRecord is one sending domain used by an order
type DomainRecord struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Name       string    `json:"name"`
	Slot       int       `json:"slot"`
	InboxCount int       `json:"inbox_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// InboxRecord is one mailbox to be provisioned
type InboxRecord struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	DomainID  string    `json:"domain_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// ListFilter narrows ListOrders
type ListFilter struct {
	Status OrderStatus
	Tier   allocation.Tier
	Limit  int
	Offset int
}

// Stats summarizes storage contents
type Stats struct {
	Orders  map[OrderStatus]int `json:"orders"`
	Domains int                 `json:"domains"`
	Inboxes int                 `json:"inboxes"`
	DBSize  int64               `json:"db_size_bytes"`
}
